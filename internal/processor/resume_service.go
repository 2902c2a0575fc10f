package processor

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/devil3515/resume-parser/internal/constants"
	"github.com/devil3515/resume-parser/internal/llmjson"
	"github.com/devil3515/resume-parser/internal/logger"
	"github.com/devil3515/resume-parser/internal/tracing"
)

var tracer = otel.Tracer("processor")

const defaultMaxUploadBytes int64 = 10 * 1024 * 1024

var pdfMagic = []byte("%PDF-")

// Upload 一次上传请求
type Upload struct {
	Filename string
	Data     []byte
	// UserID 为空表示匿名请求
	UserID string
}

// ResumeParsedEvent 解析成功后写入发件箱的事件
type ResumeParsedEvent struct {
	FileMD5    string    `json:"file_md5"`
	UserID     string    `json:"user_id,omitempty"`
	Filename   string    `json:"filename"`
	ObjectKey  string    `json:"object_key,omitempty"`
	FieldCount int       `json:"field_count"`
	ParsedAt   time.Time `json:"parsed_at"`
}

// AggregateID 发件箱聚合ID
func (e ResumeParsedEvent) AggregateID() string {
	return e.FileMD5
}

// ResumeService 串起一次简历上传的完整处理流程
type ResumeService struct {
	pdf       PDFExtractor
	extractor ResumeExtractor

	cache   ResultCache
	objects ObjectStore
	events  EventSink
	gate    UsageGate

	maxUploadBytes int64
	cacheTTL       time.Duration
	routingKey     string
	now            func() time.Time
	log            zerolog.Logger
}

// ResumeServiceOption 配置 ResumeService
type ResumeServiceOption func(*ResumeService)

// WithResultCache 按文件 MD5 缓存成功的解析结果
func WithResultCache(c ResultCache, ttl time.Duration) ResumeServiceOption {
	return func(s *ResumeService) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithObjectStore 归档原始 PDF
func WithObjectStore(o ObjectStore) ResumeServiceOption {
	return func(s *ResumeService) {
		s.objects = o
	}
}

// WithEventSink 解析成功后写入 resume.parsed 事件
func WithEventSink(e EventSink) ResumeServiceOption {
	return func(s *ResumeService) {
		s.events = e
	}
}

// WithParsedRoutingKey 覆盖解析完成事件的路由键
func WithParsedRoutingKey(key string) ResumeServiceOption {
	return func(s *ResumeService) {
		if key != "" {
			s.routingKey = key
		}
	}
}

// WithUsageGate 登录用户的配额检查与用量记录
func WithUsageGate(g UsageGate) ResumeServiceOption {
	return func(s *ResumeService) {
		s.gate = g
	}
}

// WithMaxUploadBytes 上传大小上限
func WithMaxUploadBytes(n int64) ResumeServiceOption {
	return func(s *ResumeService) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithResumeClock 测试用时钟
func WithResumeClock(now func() time.Time) ResumeServiceOption {
	return func(s *ResumeService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewResumeService 创建简历处理服务，缓存、归档、事件和配额都是可选组件
func NewResumeService(pdf PDFExtractor, extractor ResumeExtractor, opts ...ResumeServiceOption) *ResumeService {
	s := &ResumeService{
		pdf:            pdf,
		extractor:      extractor,
		maxUploadBytes: defaultMaxUploadBytes,
		routingKey:     constants.ResumeParsedEvent,
		now:            time.Now,
		log:            logger.Component("resume_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate 校验上传文件，返回的错误都对应 HTTP 400
func (s *ResumeService) Validate(up Upload) error {
	if strings.TrimSpace(up.Filename) == "" {
		return ErrNoSelectedFile
	}
	if !strings.EqualFold(filepath.Ext(up.Filename), ".pdf") {
		return fmt.Errorf("%w: %s", ErrNotPDF, up.Filename)
	}
	if len(up.Data) == 0 {
		return fmt.Errorf("%w: empty file", ErrNotPDF)
	}
	if int64(len(up.Data)) > s.maxUploadBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrFileTooLarge, len(up.Data), s.maxUploadBytes)
	}
	if !bytes.HasPrefix(bytes.TrimLeft(up.Data[:min(len(up.Data), 1024)], "\x00\t\r\n "), pdfMagic) {
		return fmt.Errorf("%w: missing %%PDF header", ErrNotPDF)
	}
	return nil
}

// Process 处理一次上传。
// 模型回复无法恢复时返回失败的 llmjson.Result 且 error 为 nil；
// 配额不足返回 billing.ErrQuotaExceeded，模型调用失败原样返回 agent 的错误。
func (s *ResumeService) Process(ctx context.Context, up Upload) (llmjson.Result, error) {
	ctx, span := tracer.Start(ctx, "ResumeService.Process",
		trace.WithAttributes(
			attribute.String("resume.filename", tracing.TruncateString(up.Filename, tracing.DefaultMaxLength)),
			attribute.Int("resume.size_bytes", len(up.Data)),
			attribute.Bool("user.authenticated", up.UserID != ""),
		))
	defer span.End()

	if s.pdf == nil {
		return llmjson.Result{}, ErrPDFExtractorNotInit
	}
	if s.extractor == nil {
		return llmjson.Result{}, ErrExtractorNotInit
	}

	if err := s.Validate(up); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return llmjson.Result{}, err
	}

	if up.UserID != "" && s.gate != nil {
		if err := s.gate.CheckResumeQuota(ctx, up.UserID); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypePermission)
			return llmjson.Result{}, err
		}
	}

	sum := md5.Sum(up.Data)
	fileMD5 := hex.EncodeToString(sum[:])
	span.SetAttributes(attribute.String("resume.md5", fileMD5))
	log := s.log.With().Str("md5", fileMD5).Str("user_id", up.UserID).Logger()

	cacheKey := fmt.Sprintf(constants.KeyResumeResult, fileMD5)
	if fields, ok := s.lookupCache(ctx, cacheKey, log); ok {
		span.SetAttributes(attribute.Bool("resume.cache_hit", true))
		log.Info().Msg("命中简历解析缓存")
		return llmjson.Success(fields), nil
	}

	reserved, err := s.reserveUsage(ctx, up.UserID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypePermission)
		return llmjson.Result{}, err
	}
	succeeded := false
	if reserved {
		defer func() {
			if !succeeded {
				s.releaseUsage(ctx, up.UserID, log)
			}
		}()
	}

	objectKey := s.archive(ctx, fileMD5, up.Data, log)

	text, err := s.pdf.ExtractText(ctx, up.Data, up.Filename)
	if err != nil {
		procErr := NewExtractTextError(fileMD5, err.Error())
		tracing.RecordError(span, procErr, tracing.ErrorTypeValidation)
		return llmjson.Result{}, procErr
	}
	if strings.TrimSpace(text) == "" {
		procErr := NewEmptyTextError(fileMD5)
		tracing.RecordError(span, procErr, tracing.ErrorTypeValidation)
		return llmjson.Result{}, procErr
	}
	span.SetAttributes(attribute.Int("resume.text_length", len(text)))

	start := s.now()
	result, err := s.extractor.Extract(ctx, text)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExternal)
		log.Error().Err(err).Msg("简历字段提取失败")
		return llmjson.Result{}, err
	}
	if !result.OK() {
		span.SetAttributes(attribute.String("resume.failure_kind", string(result.Kind)))
		log.Warn().Str("kind", string(result.Kind)).Msg("模型回复无法恢复为JSON")
		return result, nil
	}

	succeeded = true
	s.storeCache(ctx, cacheKey, result.Fields, log)
	s.publishParsed(ctx, ResumeParsedEvent{
		FileMD5:    fileMD5,
		UserID:     up.UserID,
		Filename:   up.Filename,
		ObjectKey:  objectKey,
		FieldCount: len(result.Fields),
		ParsedAt:   s.now(),
	}, log)

	log.Info().
		Int("fields", len(result.Fields)).
		Dur("llm_duration", s.now().Sub(start)).
		Msg("简历解析完成")
	return result, nil
}

func (s *ResumeService) lookupCache(ctx context.Context, key string, log zerolog.Logger) (map[string]any, bool) {
	if s.cache == nil {
		return nil, false
	}
	var fields map[string]any
	found, err := s.cache.GetJSON(ctx, key, &fields)
	if err != nil {
		log.Warn().Err(err).Msg("读取解析缓存失败，继续处理")
		return nil, false
	}
	if !found || fields == nil {
		return nil, false
	}
	return fields, true
}

func (s *ResumeService) storeCache(ctx context.Context, key string, fields map[string]any, log zerolog.Logger) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJSON(ctx, key, fields, s.cacheTTL); err != nil {
		log.Warn().Err(err).Msg("写入解析缓存失败")
	}
}

// archive 归档失败不影响解析，返回空对象名
func (s *ResumeService) archive(ctx context.Context, fileMD5 string, data []byte, log zerolog.Logger) string {
	if s.objects == nil {
		return ""
	}
	key := constants.ResumeObjectPrefix + fileMD5 + ".pdf"
	if err := s.objects.PutResume(ctx, key, data); err != nil {
		log.Warn().Err(NewArchiveError(fileMD5, err.Error())).Msg("归档原始简历失败")
		return ""
	}
	return key
}

// reserveUsage 在提取文本和调用模型之前预占用量，失败路径由调用方归还
func (s *ResumeService) reserveUsage(ctx context.Context, userID string) (bool, error) {
	if userID == "" || s.gate == nil {
		return false, nil
	}
	return s.gate.ReserveResume(ctx, userID)
}

func (s *ResumeService) releaseUsage(ctx context.Context, userID string, log zerolog.Logger) {
	// 请求被取消时仍需归还
	ctx = context.WithoutCancel(ctx)
	if err := s.gate.ReleaseResume(ctx, userID); err != nil {
		log.Warn().Err(err).Msg("归还预占用量失败")
		return
	}
	log.Debug().Msg("解析未成功，已归还预占用量")
}

func (s *ResumeService) publishParsed(ctx context.Context, event ResumeParsedEvent, log zerolog.Logger) {
	if s.events == nil {
		return
	}
	if err := s.events.EnqueueEvent(ctx, s.routingKey, event); err != nil {
		log.Warn().Err(NewPublishError(event.FileMD5, err.Error())).Msg("写入简历事件失败")
	}
}
