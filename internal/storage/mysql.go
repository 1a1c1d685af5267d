package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"elexis-pipeline/internal/config"
	"elexis-pipeline/internal/storage/models"

	"github.com/gofrs/uuid/v5"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("storage: not found")

// MySQL 关系库访问，实现 pipeline 需要的各类 store
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 建立连接、注册追踪插件，并按配置自动迁移
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		orDefault(cfg.ConnectTimeoutSeconds, 10), orDefault(cfg.ReadTimeoutSeconds, 30), orDefault(cfg.WriteTimeoutSeconds, 30))

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 5))
	sqlDB.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 20))
	sqlDB.SetConnMaxLifetime(time.Duration(orDefault(cfg.ConnMaxLifetimeMinutes, 60)) * time.Minute)

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	m := &MySQL{db: db, cfg: cfg}
	if cfg.AutoMigrate {
		if err := m.autoMigrateSchema(); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
		}
	}
	return m, nil
}

// NewMySQLFromDB 包装一个已打开的 gorm 连接
func NewMySQLFromDB(db *gorm.DB) *MySQL {
	return &MySQL{db: db}
}

func (m *MySQL) autoMigrateSchema() error {
	// 迁移时关闭 SQL 日志
	silent := logger.New(log.New(os.Stderr, "", log.LstdFlags), logger.Config{LogLevel: logger.Silent})
	return m.db.Session(&gorm.Session{Logger: silent}).AutoMigrate(models.AllModels()...)
}

// DB 返回底层 gorm 连接
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Ping 健康检查
func (m *MySQL) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// newID 生成时间有序的 UUIDv7
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Must(uuid.NewV4()).String()
	}
	return id.String()
}

// notFound 把 gorm.ErrRecordNotFound 转成 ErrNotFound
func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("load %s %s: %w", what, id, err)
}

func gormLogLevel(level int) logger.LogLevel {
	switch level {
	case 1:
		return logger.Silent
	case 2:
		return logger.Error
	case 3:
		return logger.Warn
	case 4:
		return logger.Info
	}
	return logger.Error
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
