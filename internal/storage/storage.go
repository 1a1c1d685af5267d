package storage

import (
	"context"
	"fmt"
	"strings"

	"elexis-pipeline/internal/config"

	"github.com/rs/zerolog"
)

// Storage 聚合所有外部存储依赖，由 cmd 构造后注入各组件
type Storage struct {
	// 对象存储
	MinIO *MinIO

	// 消息队列
	RabbitMQ *RabbitMQ

	// 向量数据库
	Qdrant *Qdrant

	// 关系型数据库
	MySQL *MySQL

	// 键值存储
	Redis *Redis

	logger zerolog.Logger
}

// NewStorage 初始化全部存储组件。MySQL、RabbitMQ 为必需项，其余未配置时跳过。
func NewStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	s := &Storage{logger: logger}
	var err error
	var optionalErrors []string

	s.MySQL, err = NewMySQL(&cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("初始化MySQL失败: %w", err)
	}

	s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ, logger.With().Str("component", "rabbitmq").Logger())
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("初始化RabbitMQ失败: %w", err)
	}
	if err := s.RabbitMQ.DeclareTopology(); err != nil {
		s.Close()
		return nil, fmt.Errorf("声明RabbitMQ拓扑失败: %w", err)
	}

	if cfg.MinIO.Endpoint != "" {
		s.MinIO, err = NewMinIO(&cfg.MinIO, logger.With().Str("component", "minio").Logger())
		if err != nil {
			optionalErrors = append(optionalErrors, fmt.Sprintf("MinIO: %v", err))
		}
	}

	if cfg.Qdrant.Endpoint != "" {
		s.Qdrant, err = NewQdrant(ctx, &cfg.Qdrant)
		if err != nil {
			optionalErrors = append(optionalErrors, fmt.Sprintf("Qdrant: %v", err))
		}
	}

	if cfg.Redis.Address != "" {
		s.Redis, err = NewRedisAdapter(&cfg.Redis)
		if err != nil {
			optionalErrors = append(optionalErrors, fmt.Sprintf("Redis: %v", err))
		}
	} else {
		logger.Info().Msg("Redis未配置, 跳过初始化")
	}

	if len(optionalErrors) > 0 {
		logger.Warn().Str("errors", strings.Join(optionalErrors, "; ")).Msg("部分存储组件初始化失败")
	}
	return s, nil
}

// Close 关闭所有连接
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			s.logger.Error().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			s.logger.Error().Err(err).Msg("关闭MySQL连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.logger.Error().Err(err).Msg("关闭Redis连接失败")
		}
	}
}
