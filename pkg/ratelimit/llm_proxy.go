package ratelimit

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// RateLimitedLLMModel 限流 + 瞬时错误重试的对话模型代理
type RateLimitedLLMModel struct {
	original    model.ToolCallingChatModel
	rateLimiter *TokenBucket
}

var _ model.ToolCallingChatModel = (*RateLimitedLLMModel)(nil)

// NewRateLimitedLLMModel 桶容量为 qpm/2，允许少量突发
func NewRateLimitedLLMModel(original model.ToolCallingChatModel, qpm int) *RateLimitedLLMModel {
	return &RateLimitedLLMModel{
		original:    original,
		rateLimiter: NewTokenBucket(qpm, qpm/2),
	}
}

// WithRetryPolicy 设置重试策略
func (rl *RateLimitedLLMModel) WithRetryPolicy(waitTime time.Duration, maxRetries int) *RateLimitedLLMModel {
	rl.rateLimiter.WithRetryPolicy(waitTime, maxRetries)
	return rl
}

func (rl *RateLimitedLLMModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	var response *schema.Message
	err := rl.rateLimiter.RetryWithBackoff(ctx, func() error {
		var genErr error
		response, genErr = rl.original.Generate(ctx, messages, options...)
		return genErr
	})
	return response, err
}

func (rl *RateLimitedLLMModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	var stream *schema.StreamReader[*schema.Message]
	err := rl.rateLimiter.RetryWithBackoff(ctx, func() error {
		var streamErr error
		stream, streamErr = rl.original.Stream(ctx, messages, options...)
		return streamErr
	})
	return stream, err
}

// WithTools 共享同一个令牌桶
func (rl *RateLimitedLLMModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	newModel, err := rl.original.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &RateLimitedLLMModel{original: newModel, rateLimiter: rl.rateLimiter}, nil
}

// NewLLMWithRateLimit 按模型名查 modelQPM，命中时取其 90% 作为限额，否则用 customQPM (默认 30)
func NewLLMWithRateLimit(original model.ToolCallingChatModel, modelName string, modelQPM map[string]int, customQPM int, maxRetries int, retryWaitTime time.Duration) model.ToolCallingChatModel {
	qpm := customQPM
	if q, ok := modelQPM[modelName]; ok && q > 0 {
		qpm = int(float64(q) * 0.9)
	}
	if qpm <= 0 {
		qpm = 30
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return NewRateLimitedLLMModel(original, qpm).WithRetryPolicy(retryWaitTime, maxRetries)
}
