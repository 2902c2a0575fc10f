package processor

import (
	"context"
	"time"

	"github.com/devil3515/resume-parser/internal/llmjson"
	"github.com/devil3515/resume-parser/internal/types"
)

// PDFExtractor 从内存中的 PDF 提取纯文本
type PDFExtractor interface {
	ExtractText(ctx context.Context, data []byte, uri string) (string, error)
}

// ResumeExtractor 调用大模型提取简历字段
type ResumeExtractor interface {
	Extract(ctx context.Context, resumeText string) (llmjson.Result, error)
}

// JobMatcher 调用大模型比较简历与岗位描述
type JobMatcher interface {
	Match(ctx context.Context, resumeFields map[string]any, jobDescription string) (*types.MatchResult, error)
}

// ResultCache 结果缓存，由 storage.Redis 或 memory.Cache 实现
type ResultCache interface {
	// GetJSON 未命中时返回 false
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	// SetJSON ttl<=0 时使用默认过期时间
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// ObjectStore 原始文件归档
type ObjectStore interface {
	PutResume(ctx context.Context, key string, data []byte) error
}

// EventSink 事件出口，通常写入发件箱
type EventSink interface {
	EnqueueEvent(ctx context.Context, routingKey string, payload any) error
}

// UsageGate 订阅配额与功能检查，由 billing.Service 实现
type UsageGate interface {
	CheckResumeQuota(ctx context.Context, userID string) error
	// ReserveResume 预占一次用量，返回 false 表示该用户不计量
	ReserveResume(ctx context.Context, userID string) (bool, error)
	ReleaseResume(ctx context.Context, userID string) error
	RequireFeature(ctx context.Context, userID, feature string) error
}
