// Package pipeline handles the messages of the Elexis pipeline queue: score
// computation, ranking, interview completion, AI fit evaluation, proctoring,
// suggestions, bulk resume ingestion and embedding generation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"elexis-pipeline/internal/config"
	"elexis-pipeline/internal/storage"
	"elexis-pipeline/internal/tracing"
	"elexis-pipeline/pkg/ratelimit"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("elexis-pipeline/pipeline")

// Deps 外部依赖。Blobs 和 Vectors 可以为空，用到时报错。
type Deps struct {
	Store     Store
	Blobs     storage.BlobStore
	Vectors   storage.VectorIndex
	AI        Enrichment
	Extractor TextExtractor
	Outbox    Enqueuer
}

// Settings 处理行为
type Settings struct {
	Retry                ratelimit.Policy
	TranscriptAttempts   int
	ExperienceBestEffort bool // 经历提取失败时改用摘要里的经历，默认中止消息
	SuggestionTopK       int
	DefaultBucket        string
	TranscriptBucket     string
	ResumeBucket         string
	NotJoinedGrace       time.Duration
}

// SettingsFromConfig 从配置构建 Settings
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Retry: ratelimit.Policy{
			Attempts:   cfg.Pipeline.RetryAttempts,
			Delay:      config.GetDuration(cfg.Pipeline.RetryDelay, 2*time.Second),
			Multiplier: cfg.Pipeline.RetryMultiplier,
		},
		TranscriptAttempts:   3,
		ExperienceBestEffort: cfg.Pipeline.RequireExperience != nil && !*cfg.Pipeline.RequireExperience,
		SuggestionTopK:       cfg.Pipeline.SuggestionTopK,
		DefaultBucket:        cfg.MinIO.DefaultBucket,
		TranscriptBucket:     cfg.MinIO.TranscriptBucket,
		ResumeBucket:         cfg.MinIO.ResumeBucket,
		NotJoinedGrace:       config.GetDuration(cfg.Sweep.Grace, 2*time.Hour),
	}
}

// Pipeline routes decoded messages to their handlers.
type Pipeline struct {
	store      Store
	blobs      storage.BlobStore
	vectors    storage.VectorIndex
	ai         Enrichment
	extractor  TextExtractor
	outbox     Enqueuer
	settings   Settings
	normalizer *Normalizer
	logger     zerolog.Logger
	now        func() time.Time
}

func New(deps Deps, settings Settings, logger zerolog.Logger) (*Pipeline, error) {
	if deps.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if deps.AI == nil {
		return nil, errors.New("pipeline: enrichment is required")
	}
	if deps.Outbox == nil {
		return nil, errors.New("pipeline: outbox is required")
	}
	if settings.Retry.Attempts <= 0 {
		settings.Retry.Attempts = 3
	}
	if settings.TranscriptAttempts <= 0 {
		settings.TranscriptAttempts = 3
	}
	if settings.SuggestionTopK <= 0 {
		settings.SuggestionTopK = 10
	}
	if settings.NotJoinedGrace <= 0 {
		settings.NotJoinedGrace = 2 * time.Hour
	}
	return &Pipeline{
		store:      deps.Store,
		blobs:      deps.Blobs,
		vectors:    deps.Vectors,
		ai:         deps.AI,
		extractor:  deps.Extractor,
		outbox:     deps.Outbox,
		settings:   settings,
		normalizer: NewNormalizer(deps.AI, settings.TranscriptAttempts, logger),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Handle runs the handler for msg. A nil error means the message is done;
// ErrNotReady means nothing changed and the same message may be sent again.
func (p *Pipeline) Handle(ctx context.Context, msg Message) error {
	ctx, span := tracer.Start(ctx, "pipeline."+msg.Type())
	defer span.End()
	span.SetAttributes(
		attribute.String("message.type", msg.Type()),
		attribute.String("message.ref", msg.Ref()),
	)

	var err error
	switch m := msg.(type) {
	case ScoreMessage:
		err = p.ComputeScore(ctx, m.ScoreID)
	case AIEvaluationMessage:
		err = p.EvaluateScore(ctx, m)
	case RankMessage:
		_, err = p.RankJob(ctx, m.JobID)
	case SuggestionMessage:
		err = p.Suggest(ctx, m)
	case BulkMessage:
		err = p.IngestBulk(ctx, m)
	case EmbeddingMessage:
		err = p.GenerateEmbedding(ctx, m)
	case ProctorMessage:
		err = p.RecordProctoring(ctx, m)
	case CompletionMessage:
		err = p.CompleteInterview(ctx, m)
	default:
		err = malformed("no handler for %T", msg)
	}

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case IsNotReady(err):
		span.SetAttributes(attribute.Bool("message.not_ready", true))
	default:
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
	}
	return err
}

func (p *Pipeline) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	return ratelimit.Do(ctx, p.settings.Retry, fn)
}

// retryUnless 不重试 stop 命中的错误
func (p *Pipeline) retryUnless(ctx context.Context, stop func(error) bool, fn func(ctx context.Context) error) error {
	policy := p.settings.Retry
	policy.Retryable = func(err error) bool { return !stop(err) }
	return ratelimit.Do(ctx, policy, fn)
}

func (p *Pipeline) enqueue(ctx context.Context, aggregateID string, msg Message) error {
	if err := p.outbox.Enqueue(ctx, msg.Type(), aggregateID, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", msg.Type(), err)
	}
	return nil
}

func (p *Pipeline) requireBlobs() error {
	if p.blobs == nil {
		return errors.New("object storage is not configured")
	}
	return nil
}

func (p *Pipeline) requireVectors() error {
	if p.vectors == nil {
		return errors.New("vector index is not configured")
	}
	return nil
}
