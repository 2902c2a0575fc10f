package ratelimit

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// RateLimitedChatModel 给模型调用加上令牌桶限流和失败重试
type RateLimitedChatModel struct {
	inner  model.ToolCallingChatModel
	bucket *TokenBucket
}

// NewRateLimitedChatModel 桶容量为 QPM 的一半
func NewRateLimitedChatModel(inner model.ToolCallingChatModel, qpm int) *RateLimitedChatModel {
	return &RateLimitedChatModel{
		inner:  inner,
		bucket: NewTokenBucket(qpm, qpm/2),
	}
}

// WithRetryPolicy 见 TokenBucket.WithRetryPolicy
func (rl *RateLimitedChatModel) WithRetryPolicy(waitTime time.Duration, maxRetries int) *RateLimitedChatModel {
	rl.bucket.WithRetryPolicy(waitTime, maxRetries)
	return rl
}

func (rl *RateLimitedChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	var out *schema.Message
	err := rl.bucket.RetryWithBackoff(ctx, func() error {
		var err error
		out, err = rl.inner.Generate(ctx, messages, options...)
		return err
	})
	return out, err
}

// Stream 只限流不重试，流开始后无法安全重放
func (rl *RateLimitedChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := rl.bucket.Wait(ctx); err != nil {
		return nil, err
	}
	return rl.inner.Stream(ctx, messages, options...)
}

// WithTools 新代理与原代理共用同一个令牌桶
func (rl *RateLimitedChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	inner, err := rl.inner.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &RateLimitedChatModel{inner: inner, bucket: rl.bucket}, nil
}

// NewLLMWithRateLimit modelQPM 里配置了该模型时取其 90% 作为 QPM，否则用 customQPM
func NewLLMWithRateLimit(inner model.ToolCallingChatModel, modelName string, modelQPM map[string]int, customQPM int, maxRetries int, retryWaitTime time.Duration) model.ToolCallingChatModel {
	qpm := customQPM
	if limit, ok := modelQPM[modelName]; ok && limit > 0 {
		qpm = limit * 9 / 10
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if retryWaitTime <= 0 {
		retryWaitTime = defaultRetryWait
	}
	return NewRateLimitedChatModel(inner, qpm).WithRetryPolicy(retryWaitTime, maxRetries)
}
