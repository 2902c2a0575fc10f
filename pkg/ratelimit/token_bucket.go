package ratelimit

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultQPM        = 30
	defaultMaxRetries = 3
	defaultRetryWait  = time.Second
	// maxBackoff 指数退避的上限，Retry-After 不受此限制
	maxBackoff = 30 * time.Second
)

// TokenBucket 令牌桶限流器，同时负责失败重试
type TokenBucket struct {
	mu       sync.Mutex
	perSec   float64
	capacity float64
	tokens   float64
	last     time.Time
	// pausedUntil 服务端限流后整个桶暂停发放令牌
	pausedUntil time.Time

	retryWait  time.Duration
	maxRetries int
	now        func() time.Time
}

// NewTokenBucket capacity <= 0 时取 qpm/2，至少为 1
func NewTokenBucket(qpm int, capacity int) *TokenBucket {
	if qpm <= 0 {
		qpm = defaultQPM
	}
	if capacity <= 0 {
		capacity = max(qpm/2, 1)
	}
	tb := &TokenBucket{
		perSec:     float64(qpm) / 60.0,
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		retryWait:  defaultRetryWait,
		maxRetries: defaultMaxRetries,
		now:        time.Now,
	}
	tb.last = tb.now()
	return tb
}

// WithRetryPolicy 设置首次退避时间和最大重试次数
func (tb *TokenBucket) WithRetryPolicy(waitTime time.Duration, maxRetries int) *TokenBucket {
	tb.retryWait = waitTime
	tb.maxRetries = maxRetries
	return tb
}

// take 尝试取一个令牌，失败时返回还需等待的时间。调用方持有锁。
func (tb *TokenBucket) take() (time.Duration, bool) {
	now := tb.now()
	if now.Before(tb.pausedUntil) {
		return tb.pausedUntil.Sub(now), false
	}
	tb.tokens = min(tb.capacity, tb.tokens+now.Sub(tb.last).Seconds()*tb.perSec)
	tb.last = now
	if tb.tokens >= 1 {
		tb.tokens--
		return 0, true
	}
	return time.Duration((1 - tb.tokens) / tb.perSec * float64(time.Second)), false
}

// Allow 有令牌时消耗一个并返回 true，不阻塞
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	_, ok := tb.take()
	return ok
}

// Wait 阻塞到拿到令牌或 ctx 结束
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		wait, ok := tb.take()
		tb.mu.Unlock()
		if ok {
			return nil
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// pause 清空令牌并在 d 之内不再发放，所有等待者一起退避
func (tb *TokenBucket) pause(d time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	until := tb.now().Add(d)
	if until.After(tb.pausedUntil) {
		tb.pausedUntil = until
	}
	tb.tokens = 0
}

// RetryWithBackoff 每次调用前取令牌，可重试错误按指数退避重试
func (tb *TokenBucket) RetryWithBackoff(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = tb.Wait(ctx); err != nil {
			return err
		}
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= tb.maxRetries || !isRetryableError(err) {
			return err
		}

		wait := min(tb.retryWait<<uint(attempt), maxBackoff)
		if hint := retryDelay(err); hint > 0 {
			wait = hint
			tb.pause(hint)
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", wait).Msg("调用大模型失败，稍后重试")
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryable 由能判断自身是否可重试的错误实现，例如 agent.ProviderError
type retryable interface {
	Retryable() bool
}

// delayHinter 由携带服务端等待建议的错误实现
type delayHinter interface {
	RetryDelay() time.Duration
}

func retryDelay(err error) time.Duration {
	var h delayHinter
	if errors.As(err, &h) {
		return h.RetryDelay()
	}
	return 0
}

// isRetryableError 调用方取消不重试；单次调用超时可以重试
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection reset", "connection refused", "too many requests", "rate limit", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
