package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/devil3515/resume-parser/internal/logger"
)

// ErrTikaStatus Tika 服务返回非 200
var ErrTikaStatus = errors.New("tika server returned an error status")

const (
	defaultTikaTimeout  = 60 * time.Second
	maxTikaErrorBodyLen = 512
)

// TikaPDFExtractor 通过 Apache Tika 服务提取 PDF 文本
type TikaPDFExtractor struct {
	serverURL       string
	client          *http.Client
	extractMetadata bool
	log             zerolog.Logger
}

// TikaOption Tika 提取器的配置选项
type TikaOption func(*TikaPDFExtractor)

// WithTikaTimeout 设置单次请求超时
func WithTikaTimeout(d time.Duration) TikaOption {
	return func(e *TikaPDFExtractor) {
		if d > 0 {
			e.client.Timeout = d
		}
	}
}

// WithTikaHTTPClient 替换 HTTP 客户端
func WithTikaHTTPClient(c *http.Client) TikaOption {
	return func(e *TikaPDFExtractor) {
		if c != nil {
			e.client = c
		}
	}
}

// WithTikaMetadata 提取文本时同时请求 /meta，只用于日志
func WithTikaMetadata(enabled bool) TikaOption {
	return func(e *TikaPDFExtractor) {
		e.extractMetadata = enabled
	}
}

// WithTikaLogger 使用自定义 logger
func WithTikaLogger(l zerolog.Logger) TikaOption {
	return func(e *TikaPDFExtractor) {
		e.log = l
	}
}

// NewTikaPDFExtractor serverURL 例如 http://localhost:9998
func NewTikaPDFExtractor(serverURL string, options ...TikaOption) *TikaPDFExtractor {
	e := &TikaPDFExtractor{
		serverURL: strings.TrimRight(serverURL, "/"),
		client:    &http.Client{Timeout: defaultTikaTimeout},
		log:       logger.Component("tika_extractor"),
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// ExtractText 以纯文本模式调用 PUT /tika
func (e *TikaPDFExtractor) ExtractText(ctx context.Context, data []byte, uri string) (string, error) {
	start := time.Now()
	body, err := e.put(ctx, "/tika", "text/plain", data, uri)
	if err != nil {
		e.log.Warn().Err(err).Str("uri", uri).Dur("duration", time.Since(start)).Msg("Tika 提取失败")
		return "", fmt.Errorf("解析PDF失败(%s): %w", uri, err)
	}
	text := string(body)

	event := e.log.Debug().Str("uri", uri).Int("chars", len(text)).Dur("duration", time.Since(start))
	if e.extractMetadata {
		if meta, err := e.Metadata(ctx, data, uri); err == nil {
			event = event.Interface("pages", meta["xmpTPg:NPages"])
		} else {
			e.log.Debug().Err(err).Msg("Tika 元数据提取失败")
		}
	}
	event.Msg("PDF提取完成")
	return text, nil
}

// Metadata 调用 PUT /meta 返回文档元数据
func (e *TikaPDFExtractor) Metadata(ctx context.Context, data []byte, uri string) (map[string]any, error) {
	body, err := e.put(ctx, "/meta", "application/json", data, uri)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("解析元数据JSON失败: %w", err)
	}
	return meta, nil
}

func (e *TikaPDFExtractor) put(ctx context.Context, path, accept string, data []byte, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.serverURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("Accept", accept)
	if uri != "" {
		req.Header.Set("X-Tika-Resource-Name", uri)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求Tika服务失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取Tika响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > maxTikaErrorBodyLen {
			body = body[:maxTikaErrorBodyLen]
		}
		return nil, fmt.Errorf("%w: %d %s", ErrTikaStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
