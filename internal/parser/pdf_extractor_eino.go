package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/devil3515/resume-parser/internal/logger"
)

// ErrNoDocuments PDF 解析器没有返回任何文档
var ErrNoDocuments = errors.New("pdf parser returned no documents")

const defaultPDFParseTimeout = 30 * time.Second

// EinoPDFTextExtractor 使用 Eino PDF Parser 提取整份PDF的纯文本
type EinoPDFTextExtractor struct {
	parser  *pdf.PDFParser
	timeout time.Duration
	log     zerolog.Logger
}

// EinoPDFOption PDF提取器的配置选项
type EinoPDFOption func(*EinoPDFTextExtractor)

// WithEinoLogger 使用自定义 logger
func WithEinoLogger(l zerolog.Logger) EinoPDFOption {
	return func(e *EinoPDFTextExtractor) {
		e.log = l
	}
}

// WithParseTimeout 设置单次解析超时
func WithParseTimeout(d time.Duration) EinoPDFOption {
	return func(e *EinoPDFTextExtractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewEinoPDFTextExtractor 初始化提取器。不按页拆分，整份文档作为一段连续文本返回。
func NewEinoPDFTextExtractor(ctx context.Context, options ...EinoPDFOption) (*EinoPDFTextExtractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{
		ToPages: false,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 Eino PDF 解析器失败: %w", err)
	}

	extractor := &EinoPDFTextExtractor{
		parser:  p,
		timeout: defaultPDFParseTimeout,
		log:     logger.Component("pdf_extractor"),
	}
	for _, option := range options {
		option(extractor)
	}
	return extractor, nil
}

// ExtractText 从内存中的PDF提取纯文本，供上传处理流程使用
func (e *EinoPDFTextExtractor) ExtractText(ctx context.Context, data []byte, uri string) (string, error) {
	text, _, err := e.ExtractTextFromReader(ctx, bytes.NewReader(data), uri, nil)
	return text, err
}

// ExtractTextFromReader 从 io.Reader 中提取文本，返回文本和解析元数据
func (e *EinoPDFTextExtractor) ExtractTextFromReader(ctx context.Context, reader io.Reader, uri string, extraMeta map[string]any) (string, map[string]any, error) {
	if extraMeta == nil {
		extraMeta = make(map[string]any)
	}

	startTime := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	docs, err := e.parseSafely(ctx, reader, uri, extraMeta)
	duration := time.Since(startTime)
	if err != nil {
		e.log.Warn().Err(err).Str("uri", uri).Dur("duration", duration).Msg("PDF解析失败")
		return "", extraMeta, fmt.Errorf("解析PDF失败(%s): %w", uri, err)
	}
	if len(docs) == 0 {
		return "", extraMeta, fmt.Errorf("%w: %s", ErrNoDocuments, uri)
	}

	var sb strings.Builder
	for i, doc := range docs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(doc.Content)
	}
	fullContent := sb.String()

	metadata := make(map[string]any)
	for k, v := range docs[0].MetaData {
		metadata[k] = v
	}
	for k, v := range extraMeta {
		metadata[k] = v
	}
	metadata["processing_duration_ms"] = duration.Milliseconds()
	metadata["document_count"] = len(docs)
	metadata["text_length"] = len(fullContent)

	e.log.Debug().Str("uri", uri).Int("chars", len(fullContent)).Dur("duration", duration).Msg("PDF提取完成")
	return fullContent, metadata, nil
}

// parseSafely 底层PDF库遇到损坏文件时可能panic，这里转换为错误
func (e *EinoPDFTextExtractor) parseSafely(ctx context.Context, reader io.Reader, uri string, extraMeta map[string]any) (docs []*schema.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("PDF解析器异常: %v", r)
		}
	}()

	parsed, err := e.parser.Parse(ctx, reader,
		einoParser.WithURI(uri),
		einoParser.WithExtraMeta(extraMeta),
	)
	if err != nil {
		return nil, err
	}
	return parsed, nil
}
