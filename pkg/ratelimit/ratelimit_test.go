package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/devil3515/resume-parser/pkg/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketAllow(t *testing.T) {
	tb := NewTokenBucket(60, 2)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "容量用完后应拒绝")
}

func TestTokenBucketWaitRespectsContext(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestNewTokenBucketInvalidQPM(t *testing.T) {
	tb := NewTokenBucket(0, 0)
	assert.Greater(t, tb.perSec, 0.0)
	assert.True(t, tb.Allow())
}

func TestIsRetryableError(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &agent.ProviderError{StatusCode: http.StatusTooManyRequests}, true},
		{"502", fmt.Errorf("wrap: %w", &agent.ProviderError{StatusCode: http.StatusBadGateway}), true},
		{"401", &agent.ProviderError{StatusCode: http.StatusUnauthorized}, false},
		{"传输错误", &agent.TransportError{Err: errors.New("EOF")}, true},
		{"调用方取消", context.Canceled, false},
		{"单次超时", context.DeadlineExceeded, true},
		{"普通错误", errors.New("invalid argument"), false},
		{"连接被拒绝", errors.New("dial tcp: connection refused"), true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isRetryableError(tc.err))
		})
	}
}

func TestRateLimitedChatModelRetries(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{Error: &agent.ProviderError{StatusCode: http.StatusServiceUnavailable}},
		{Content: "ok"},
	})
	limited := NewRateLimitedChatModel(mock, 600).WithRetryPolicy(time.Millisecond, 2)

	msg, err := limited.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "ok", msg.Content)
	assert.Equal(t, 2, mock.Calls())
}

func TestRateLimitedChatModelNoRetryOnClientError(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{Error: &agent.ProviderError{StatusCode: http.StatusBadRequest}},
		{Content: "never"},
	})
	limited := NewRateLimitedChatModel(mock, 600).WithRetryPolicy(time.Millisecond, 3)

	_, err := limited.Generate(context.Background(), nil)
	assert.ErrorIs(t, err, agent.ErrProvider)
	assert.Equal(t, 1, mock.Calls())
}

func TestNewLLMWithRateLimitUsesModelQPM(t *testing.T) {
	mock := agent.NewMockChatClient("x", nil)
	m := NewLLMWithRateLimit(mock, "llama3-70b-8192", map[string]int{"llama3-70b-8192": 100}, 10, 0, 0)

	limited, ok := m.(*RateLimitedChatModel)
	require.True(t, ok)
	assert.InDelta(t, 90.0/60.0, limited.bucket.perSec, 0.0001)
	assert.Equal(t, 3, limited.bucket.maxRetries)
}

func TestRetryHonoursRetryAfter(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{Error: &agent.ProviderError{StatusCode: http.StatusTooManyRequests, RetryAfter: 30 * time.Millisecond}},
		{Content: "ok"},
	})
	limited := NewRateLimitedChatModel(mock, 600).WithRetryPolicy(time.Millisecond, 2)

	start := time.Now()
	msg, err := limited.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "ok", msg.Content)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond, "应等待 Retry-After 指定的时间")
}

func TestPauseBlocksAllCallers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tb := NewTokenBucket(600, 5)
	tb.now = func() time.Time { return now }
	tb.last = now

	tb.pause(time.Second)
	assert.False(t, tb.Allow(), "暂停期间不发放令牌")

	now = now.Add(1100 * time.Millisecond)
	assert.True(t, tb.Allow(), "暂停结束后按速率补充令牌")
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	fail := &agent.TransportError{Op: "send", Err: errors.New("EOF")}
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{Error: fail}, {Error: fail}, {Error: fail}, {Content: "never"},
	})
	limited := NewRateLimitedChatModel(mock, 600).WithRetryPolicy(time.Millisecond, 2)

	_, err := limited.Generate(context.Background(), nil)
	assert.ErrorIs(t, err, agent.ErrTransport)
	assert.Equal(t, 3, mock.Calls(), "首次调用加两次重试")
}
