package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	MySQL    MySQLConfig    `yaml:"mysql"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	Redis    RedisConfig    `yaml:"redis"`
	LLM      LLMConfig      `yaml:"llm"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	Server   ServerConfig   `yaml:"server"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Document DocumentConfig `yaml:"document"`
}

// MySQLConfig MySQL连接配置
type MySQLConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	Username               string `yaml:"username"`
	Password               string `yaml:"password"`
	Database               string `yaml:"database"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	ConnectTimeoutSeconds  int    `yaml:"connect_timeout_seconds"`
	ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
	LogLevel               int    `yaml:"log_level"` // 1 silent, 2 error, 3 warn, 4 info
	AutoMigrate            bool   `yaml:"auto_migrate"`
}

// RabbitMQConfig 队列配置。RetryQueue 通过死信交换机把被拒绝的消息延迟后送回主队列。
type RabbitMQConfig struct {
	URL              string `yaml:"url"`
	Exchange         string `yaml:"exchange"`
	Queue            string `yaml:"queue"`
	RoutingKey       string `yaml:"routing_key"`
	RetryExchange    string `yaml:"retry_exchange"`
	RetryQueue       string `yaml:"retry_queue"`
	ParkingQueue     string `yaml:"parking_queue"`
	RedeliveryDelay  string `yaml:"redelivery_delay"`
	MaxRedeliveries  int    `yaml:"max_redeliveries"`
	PrefetchCount    int    `yaml:"prefetch_count"`
	Workers          int    `yaml:"workers"`
	ReconnectBackoff string `yaml:"reconnect_backoff"`
}

// MinIOConfig 对象存储配置
type MinIOConfig struct {
	Endpoint         string `yaml:"endpoint"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	UseSSL           bool   `yaml:"use_ssl"`
	Location         string `yaml:"location"`
	DefaultBucket    string `yaml:"default_bucket"`
	TranscriptBucket string `yaml:"transcript_bucket"`
	ResumeBucket     string `yaml:"resume_bucket"`
	SignedURLTTL     string `yaml:"signed_url_ttl"`
}

// QdrantConfig 向量库配置
type QdrantConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Collection string `yaml:"collection"`
	Dimension  int    `yaml:"dimension"`
	APIKey     string `yaml:"api_key"`
	Timeout    string `yaml:"timeout"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Address             string `yaml:"address"`
	Password            string `yaml:"password"`
	DB                  int    `yaml:"db"`
	PoolSize            int    `yaml:"pool_size"`
	MinIdleConns        int    `yaml:"min_idle_conns"`
	DialTimeoutSeconds  int    `yaml:"dial_timeout_seconds"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	MaxRetries          int    `yaml:"max_retries"`
}

// LLMConfig OpenAI兼容的对话模型配置，用于转写整理、面试总结和匹配评估
type LLMConfig struct {
	APIURL        string            `yaml:"api_url"`
	APIKey        string            `yaml:"api_key"`
	Model         string            `yaml:"model"`
	TaskModels    map[string]string `yaml:"task_models"`
	QPM           int               `yaml:"qpm"`
	ModelQPM      map[string]int    `yaml:"model_qpm"`
	MaxRetries    int               `yaml:"max_retries"`
	RetryWait     string            `yaml:"retry_wait"`
	Temperature   float32           `yaml:"temperature"`
	CallTimeout   string            `yaml:"call_timeout"`
	HTTPTimeoutS  int               `yaml:"http_timeout_seconds"`
	TranscriptCut int               `yaml:"transcript_max_chars"`
}

// GeminiConfig 向量化与简历经历抽取
type GeminiConfig struct {
	APIKey             string `yaml:"api_key"`
	EmbeddingModel     string `yaml:"embedding_model"`
	ExtractionModel    string `yaml:"extraction_model"`
	EmbeddingDimension int    `yaml:"embedding_dimension"`
}

// PipelineConfig 消息处理行为
type PipelineConfig struct {
	RetryAttempts     int     `yaml:"retry_attempts"`
	RetryDelay        string  `yaml:"retry_delay"`
	RetryMultiplier   float64 `yaml:"retry_multiplier"`
	RequireExperience *bool   `yaml:"require_experience"`
	SuggestionTopK    int     `yaml:"suggestion_top_k"`
	MessageLockTTL    string  `yaml:"message_lock_ttl"`
	MessageDoneTTL    string  `yaml:"message_done_ttl"`
	HandlerTimeout    string  `yaml:"handler_timeout"`
}

// SweepConfig not_joined 巡检
type SweepConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
	Grace    string `yaml:"grace"`
}

// OutboxConfig 发件箱中继
type OutboxConfig struct {
	PollInterval string `yaml:"poll_interval"`
	BatchSize    int    `yaml:"batch_size"`
	MaxRetries   int    `yaml:"max_retries"`
}

// ServerConfig 运维HTTP接口
type ServerConfig struct {
	Address string   `yaml:"address"`
	APIKeys []string `yaml:"api_keys"`
}

// DocumentConfig 简历文本提取。TikaURL 为空时只用本地解析器。
type DocumentConfig struct {
	TikaURL         string `yaml:"tika_url"`
	TikaTimeout     string `yaml:"tika_timeout"`
	TikaAnnotations *bool  `yaml:"tika_annotations"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"` // "json" 或 "pretty"
	TimeFormat   string `yaml:"time_format"`
	ReportCaller bool   `yaml:"report_caller"`
}

// TracingConfig OpenTelemetry 导出配置
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Insecure     bool    `yaml:"insecure"`
	ServiceName  string  `yaml:"service_name"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

var defaultSearchPaths = []string{
	"config.yaml",
	filepath.Join("configs", "config.yaml"),
}

// LoadConfig 从YAML文件加载配置，随后应用 .env 与环境变量覆盖并补齐默认值。
// configPath 为空时按 defaultSearchPaths 查找。
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		for _, p := range defaultSearchPaths {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no config file found in %v", defaultSearchPaths)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// .env 不存在不是错误
	_ = godotenv.Load()
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ELEXIS_MYSQL_PASSWORD"); v != "" {
		cfg.MySQL.Password = v
	}
	if v := os.Getenv("ELEXIS_RABBITMQ_URL"); v != "" {
		cfg.RabbitMQ.URL = v
	}
	if v := os.Getenv("ELEXIS_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretAccessKey = v
	}
	if v := os.Getenv("ELEXIS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ELEXIS_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("ELEXIS_TIKA_URL"); v != "" {
		cfg.Document.TikaURL = v
	}
	if v := os.Getenv("ELEXIS_OPS_API_KEYS"); v != "" {
		var keys []string
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		cfg.Server.APIKeys = keys
	}
}

func applyDefaults(cfg *Config) {
	if cfg.MySQL.Port == 0 {
		cfg.MySQL.Port = 3306
	}
	if cfg.MySQL.LogLevel == 0 {
		cfg.MySQL.LogLevel = 2
	}

	mq := &cfg.RabbitMQ
	if mq.Exchange == "" {
		mq.Exchange = "elexis.pipeline.exchange"
	}
	if mq.Queue == "" {
		mq.Queue = "q.elexis.pipeline"
	}
	if mq.RoutingKey == "" {
		mq.RoutingKey = "pipeline"
	}
	if mq.RetryExchange == "" {
		mq.RetryExchange = mq.Exchange + ".retry"
	}
	if mq.RetryQueue == "" {
		mq.RetryQueue = mq.Queue + ".retry"
	}
	if mq.ParkingQueue == "" {
		mq.ParkingQueue = mq.Queue + ".parking"
	}
	if mq.RedeliveryDelay == "" {
		mq.RedeliveryDelay = "30s"
	}
	if mq.MaxRedeliveries == 0 {
		mq.MaxRedeliveries = 10
	}
	if mq.PrefetchCount <= 0 {
		mq.PrefetchCount = 1
	}
	if mq.Workers <= 0 {
		mq.Workers = 1
	}
	if mq.ReconnectBackoff == "" {
		mq.ReconnectBackoff = "5s"
	}

	if cfg.MinIO.SignedURLTTL == "" {
		cfg.MinIO.SignedURLTTL = "1h"
	}
	if cfg.MinIO.TranscriptBucket == "" {
		cfg.MinIO.TranscriptBucket = cfg.MinIO.DefaultBucket
	}
	if cfg.MinIO.ResumeBucket == "" {
		cfg.MinIO.ResumeBucket = cfg.MinIO.DefaultBucket
	}

	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = "resumes"
	}
	if cfg.Qdrant.Dimension == 0 {
		cfg.Qdrant.Dimension = 768
	}
	if cfg.Qdrant.Timeout == "" {
		cfg.Qdrant.Timeout = "30s"
	}

	if cfg.LLM.QPM <= 0 {
		cfg.LLM.QPM = 30
	}
	if cfg.LLM.MaxRetries <= 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryWait == "" {
		cfg.LLM.RetryWait = "1s"
	}
	if cfg.LLM.CallTimeout == "" {
		cfg.LLM.CallTimeout = "120s"
	}

	if cfg.Gemini.EmbeddingModel == "" {
		cfg.Gemini.EmbeddingModel = "text-embedding-004"
	}
	if cfg.Gemini.ExtractionModel == "" {
		cfg.Gemini.ExtractionModel = "gemini-2.0-flash"
	}
	if cfg.Gemini.EmbeddingDimension == 0 {
		cfg.Gemini.EmbeddingDimension = cfg.Qdrant.Dimension
	}

	p := &cfg.Pipeline
	if p.RetryAttempts <= 0 {
		p.RetryAttempts = 3
	}
	if p.RetryDelay == "" {
		p.RetryDelay = "2s"
	}
	if p.RetryMultiplier <= 0 {
		p.RetryMultiplier = 1
	}
	if p.RequireExperience == nil {
		required := true
		p.RequireExperience = &required
	}
	if p.SuggestionTopK <= 0 {
		p.SuggestionTopK = 10
	}
	if p.MessageLockTTL == "" {
		p.MessageLockTTL = "15m"
	}
	if p.MessageDoneTTL == "" {
		p.MessageDoneTTL = "24h"
	}
	if p.HandlerTimeout == "" {
		p.HandlerTimeout = "10m"
	}

	if cfg.Sweep.Interval == "" {
		cfg.Sweep.Interval = "5m"
	}
	if cfg.Sweep.Grace == "" {
		cfg.Sweep.Grace = "2h"
	}

	if cfg.Outbox.PollInterval == "" {
		cfg.Outbox.PollInterval = "5s"
	}
	if cfg.Outbox.BatchSize <= 0 {
		cfg.Outbox.BatchSize = 10
	}
	if cfg.Outbox.MaxRetries <= 0 {
		cfg.Outbox.MaxRetries = 5
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "elexis-pipeline"
	}
	if cfg.Tracing.SampleRatio <= 0 {
		cfg.Tracing.SampleRatio = 1
	}
}

// GetModelForTask 返回任务专用模型，未配置时回退到默认模型
func (c *Config) GetModelForTask(task string) string {
	if m, ok := c.LLM.TaskModels[task]; ok && m != "" {
		return m
	}
	return c.LLM.Model
}

// GetDuration 解析时长字符串，失败或为空时返回默认值
func GetDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
