package agent

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrProvider 模型服务返回了非200状态
	ErrProvider = errors.New("llm provider error")
	// ErrTransport 请求没有到达模型服务或没有拿到完整响应
	ErrTransport = errors.New("llm transport error")
	// ErrEmptyChoices 响应中没有任何候选
	ErrEmptyChoices = errors.New("llm response has no choices")
)

// ProviderError 模型服务返回非200状态时的错误，保留状态码和原始响应体
type ProviderError struct {
	StatusCode int
	Body       string
	// RetryAfter 来自 Retry-After 响应头，没有时为 0
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("API 请求失败，状态 %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Is 实现 errors.Is 接口
func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

// Retryable 限流(429)和服务端错误(5xx)可以重试
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// RetryDelay 服务端建议的最短等待时间
func (e *ProviderError) RetryDelay() time.Duration {
	return e.RetryAfter
}

// parseRetryAfter 只支持秒数形式，HTTP 日期形式按 0 处理
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// TransportError 网络层失败
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("LLM 请求失败: %v", e.Err)
	}
	return fmt.Sprintf("LLM 请求失败(%s): %v", e.Op, e.Err)
}

// Unwrap 返回底层错误
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is 实现 errors.Is 接口
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Retryable 传输错误都视为临时错误
func (e *TransportError) Retryable() bool {
	return true
}
