package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/devil3515/resume-parser/internal/billing"
	"github.com/devil3515/resume-parser/internal/constants"
	"github.com/devil3515/resume-parser/internal/logger"
	"github.com/devil3515/resume-parser/internal/tracing"
	"github.com/devil3515/resume-parser/internal/types"
)

// MatchService 简历与岗位描述的匹配评估
type MatchService struct {
	matcher  JobMatcher
	cache    ResultCache
	cacheTTL time.Duration
	gate     UsageGate
	log      zerolog.Logger
}

// MatchServiceOption 配置 MatchService
type MatchServiceOption func(*MatchService)

// WithMatchCache 按 (简历, 岗位描述) 的哈希缓存匹配结果
func WithMatchCache(c ResultCache, ttl time.Duration) MatchServiceOption {
	return func(s *MatchService) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithMatchGate 检查套餐是否开通岗位匹配
func WithMatchGate(g UsageGate) MatchServiceOption {
	return func(s *MatchService) {
		s.gate = g
	}
}

// NewMatchService 创建匹配服务
func NewMatchService(matcher JobMatcher, opts ...MatchServiceOption) *MatchService {
	s := &MatchService{
		matcher: matcher,
		log:     logger.Component("match_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Match 评估简历与岗位描述的匹配度。
// 有效订阅的套餐未开通 job_matching 时返回 billing.ErrFeatureNotAvailable；匿名用户不受限制。
func (s *MatchService) Match(ctx context.Context, userID string, resume map[string]any, jobDescription string) (*types.MatchResult, error) {
	ctx, span := tracer.Start(ctx, "MatchService.Match",
		trace.WithAttributes(
			attribute.Int("match.jd_length", len(jobDescription)),
			attribute.Bool("user.authenticated", userID != ""),
		))
	defer span.End()

	if s.matcher == nil {
		return nil, ErrMatcherNotInit
	}
	if len(resume) == 0 {
		return nil, ErrEmptyResumeData
	}
	if strings.TrimSpace(jobDescription) == "" {
		return nil, ErrEmptyJobDescription
	}

	if userID != "" && s.gate != nil {
		if err := s.gate.RequireFeature(ctx, userID, billing.FeatureJobMatching); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypePermission)
			return nil, err
		}
	}

	key, err := matchCacheKey(resume, jobDescription)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		var cached types.MatchResult
		found, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			s.log.Warn().Err(err).Msg("读取匹配缓存失败，继续处理")
		} else if found {
			span.SetAttributes(attribute.Bool("match.cache_hit", true))
			return &cached, nil
		}
	}

	result, err := s.matcher.Match(ctx, resume, jobDescription)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExternal)
		return nil, err
	}
	span.SetAttributes(attribute.Int("match.overall", result.OverallMatch))

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, result, s.cacheTTL); err != nil {
			s.log.Warn().Err(err).Msg("写入匹配缓存失败")
		}
	}
	s.log.Info().Str("user_id", userID).Int("overall", result.OverallMatch).Msg("岗位匹配完成")
	return result, nil
}

// matchCacheKey encoding/json 对 map 按键排序，同一份简历得到相同的哈希
func matchCacheKey(resume map[string]any, jobDescription string) (string, error) {
	raw, err := json.Marshal(resume)
	if err != nil {
		return "", fmt.Errorf("序列化简历数据失败: %w", err)
	}
	h := sha256.New()
	h.Write(raw)
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(jobDescription)))
	return fmt.Sprintf(constants.KeyMatchResult, hex.EncodeToString(h.Sum(nil))), nil
}
