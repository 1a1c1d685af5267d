package main

import (
	"context"
	"fmt"
	"time"

	"elexis-pipeline/internal/config"
	"elexis-pipeline/internal/document"
	"elexis-pipeline/internal/enrichment"
	appCoreLogger "elexis-pipeline/internal/logger"
	"elexis-pipeline/internal/outbox"
	"elexis-pipeline/internal/pipeline"
	"elexis-pipeline/internal/storage"
	"elexis-pipeline/internal/tracing"
	"elexis-pipeline/pkg/ratelimit"

	"github.com/cloudwego/eino/components/model"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
)

// app 进程内共享的组件
type app struct {
	cfg      *config.Config
	storage  *storage.Storage
	pipeline *pipeline.Pipeline
	locks    storage.LockStore
	shutdown tracing.ShutdownFunc
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	shutdown, err := tracing.InitProvider(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("初始化链路追踪失败: %w", err)
	}

	st, err := storage.NewStorage(ctx, cfg, appCoreLogger.Component("storage"))
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}
	glog.Info("存储服务初始化成功")

	ai, err := newEnrichment(ctx, cfg)
	if err != nil {
		st.Close()
		_ = shutdown(ctx)
		return nil, err
	}

	docOpts := []document.Option{document.WithTika(cfg.Document.TikaURL, config.GetDuration(cfg.Document.TikaTimeout, 60*time.Second))}
	if cfg.Document.TikaAnnotations != nil {
		docOpts = append(docOpts, document.WithTikaAnnotations(*cfg.Document.TikaAnnotations))
	}
	extractor, err := document.NewExtractor(ctx, appCoreLogger.Component("document"), docOpts...)
	if err != nil {
		st.Close()
		_ = shutdown(ctx)
		return nil, fmt.Errorf("初始化文档解析器失败: %w", err)
	}

	writer := outbox.NewWriter(st.MySQL.DB(), cfg.RabbitMQ)
	deps := pipeline.Deps{
		Store:     st.MySQL,
		AI:        ai,
		Extractor: extractor,
		Outbox:    writer,
	}
	// 可选组件为空时保持接口为 nil，避免带类型的 nil
	if st.MinIO != nil {
		deps.Blobs = st.MinIO
	}
	if st.Qdrant != nil {
		deps.Vectors = st.Qdrant
	}

	p, err := pipeline.New(deps, pipeline.SettingsFromConfig(cfg), appCoreLogger.Component("pipeline"))
	if err != nil {
		st.Close()
		_ = shutdown(ctx)
		return nil, err
	}

	a := &app{cfg: cfg, storage: st, pipeline: p, shutdown: shutdown}
	if st.Redis != nil {
		a.locks = st.Redis
	} else {
		glog.Warn("Redis未配置, 消息去重与巡检选主不可用")
	}
	return a, nil
}

// newEnrichment 默认模型与按任务配置的模型都经过限流代理
func newEnrichment(ctx context.Context, cfg *config.Config) (*enrichment.Service, error) {
	llmLogger := appCoreLogger.Component("llm")
	retryWait := config.GetDuration(cfg.LLM.RetryWait, time.Second)

	models := map[string]model.ToolCallingChatModel{}
	build := func(name string, jsonMode bool) (model.ToolCallingChatModel, error) {
		key := fmt.Sprintf("%s/%t", name, jsonMode)
		if m, ok := models[key]; ok {
			return m, nil
		}
		opts := []enrichment.OpenAIOption{
			enrichment.WithTemperature(cfg.LLM.Temperature),
			enrichment.WithLogger(llmLogger),
		}
		if cfg.LLM.HTTPTimeoutS > 0 {
			opts = append(opts, enrichment.WithHTTPTimeout(time.Duration(cfg.LLM.HTTPTimeoutS)*time.Second))
		}
		if jsonMode {
			opts = append(opts, enrichment.WithJSONMode())
		}
		raw, err := enrichment.NewOpenAIChatModel(cfg.LLM.APIKey, name, cfg.LLM.APIURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("初始化LLM模型 %s 失败: %w", name, err)
		}
		m := ratelimit.NewLLMWithRateLimit(raw, name, cfg.LLM.ModelQPM, cfg.LLM.QPM, cfg.LLM.MaxRetries, retryWait)
		models[key] = m
		return m, nil
	}

	fallback, err := build(cfg.LLM.Model, false)
	if err != nil {
		return nil, err
	}
	chatOpts := []enrichment.ChatOption{enrichment.WithTranscriptLimit(cfg.LLM.TranscriptCut)}
	for _, task := range []string{
		enrichment.TaskTranscriptQA,
		enrichment.TaskSummary,
		enrichment.TaskFitEvaluation,
		enrichment.TaskContact,
	} {
		// 转写整理输出 JSON 数组，不能开 json_object 模式
		m, err := build(cfg.GetModelForTask(task), task != enrichment.TaskTranscriptQA)
		if err != nil {
			return nil, err
		}
		chatOpts = append(chatOpts, enrichment.WithTaskModel(task, m))
	}
	chat := enrichment.NewChat(fallback, llmLogger, chatOpts...)

	gemini, err := enrichment.NewGemini(ctx, cfg.Gemini, appCoreLogger.Component("gemini"))
	if err != nil {
		return nil, fmt.Errorf("初始化Gemini失败: %w", err)
	}
	glog.Infof("LLM初始化成功, 默认模型: %s", cfg.LLM.Model)
	return enrichment.NewService(chat, gemini), nil
}

func (a *app) close(ctx context.Context) {
	a.storage.Close()
	if err := a.shutdown(ctx); err != nil {
		glog.Warnf("关闭链路追踪失败: %v", err)
	}
}
