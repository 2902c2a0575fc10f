package tracing

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorType span 上 error.type 属性的取值
type ErrorType string

const (
	ErrorTypeHTTP       ErrorType = "http"
	ErrorTypeDB         ErrorType = "db"
	ErrorTypeRedis      ErrorType = "redis"
	ErrorTypeRabbitMQ   ErrorType = "rabbitmq"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeInternal   ErrorType = "internal"
	// ErrorTypeExternal 大模型、Stripe、Tika 等外部服务
	ErrorTypeExternal   ErrorType = "external_system"
	ErrorTypePermission ErrorType = "permission"
	ErrorTypeTimeout    ErrorType = "timeout"
)

// RecordError 在 span 上记录错误并置为 Error 状态。
// 超时和取消统一归为 timeout，原类型记在 error.origin。span 或 err 为 nil 时忽略。
func RecordError(span trace.Span, err error, errorType ErrorType, attrs ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}
	msg := TruncateString(err.Error(), DefaultMaxLength)
	kvs := make([]attribute.KeyValue, 0, len(attrs)+3)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kvs = append(kvs,
			attribute.String("error.type", string(ErrorTypeTimeout)),
			attribute.String("error.origin", string(errorType)),
		)
	} else {
		kvs = append(kvs, attribute.String("error.type", string(errorType)))
	}
	kvs = append(kvs, attribute.String("error.message", msg))
	kvs = append(kvs, attrs...)

	span.RecordError(err)
	span.SetAttributes(kvs...)
	span.SetStatus(codes.Error, msg)
}

// RecordHTTPError 按状态码补充 error.category，4xx 不把 span 标为失败
func RecordHTTPError(span trace.Span, err error, statusCode int) {
	if span == nil || err == nil {
		return
	}
	category := httpErrorCategory(statusCode)
	if statusCode >= 400 && statusCode < 500 {
		span.SetAttributes(
			attribute.String("error.category", category),
			attribute.Int("http.status_code", statusCode),
			attribute.String("error.message", TruncateString(err.Error(), DefaultMaxLength)),
		)
		return
	}
	RecordError(span, err, ErrorTypeHTTP,
		attribute.Int("http.status_code", statusCode),
		attribute.String("error.category", category),
	)
}

func httpErrorCategory(statusCode int) string {
	switch {
	case statusCode == 429:
		return "rate_limited"
	case statusCode == 502, statusCode == 504:
		return "upstream"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "unknown"
	}
}
