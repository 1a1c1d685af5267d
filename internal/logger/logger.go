package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger 全局日志实例，Init 之前为 zerolog 默认 logger
var Logger = log.Logger

// Config 日志配置
type Config struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"` // json | pretty
	TimeFormat   string `yaml:"time_format"`
	ReportCaller bool   `yaml:"report_caller"`
}

// Init 按配置重建全局 logger，同时替换 zerolog 的全局 log.Logger
func Init(cfg Config) {
	Logger = New(cfg, os.Stdout)
	log.Logger = Logger
}

// New 创建一个写入 out 的 logger，不修改全局状态
func New(cfg Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.TimeFormat == "" {
		zerolog.TimeFieldFormat = time.RFC3339
	} else {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	output := out
	if cfg.Format == "pretty" {
		output = zerolog.ConsoleWriter{Out: out, TimeFormat: cfg.TimeFormat}
	}

	lc := zerolog.New(output).Level(level).With().Timestamp()
	if cfg.ReportCaller {
		lc = lc.Caller()
	}
	return lc.Logger()
}

// Component 返回带 component 字段的子 logger
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

func Debug() *zerolog.Event { return Logger.Debug() }

func Info() *zerolog.Event { return Logger.Info() }

func Warn() *zerolog.Event { return Logger.Warn() }

func Error() *zerolog.Event { return Logger.Error() }

// Fatal 记录后进程退出
func Fatal() *zerolog.Event { return Logger.Fatal() }

// Ctx 取出 ctx 中的 logger；没有时返回 zerolog 的默认(禁用)logger
func Ctx(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// WithContext 把全局 logger 放入 ctx
func WithContext(ctx context.Context) context.Context {
	return Logger.WithContext(ctx)
}
