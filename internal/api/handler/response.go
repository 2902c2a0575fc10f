// Package handler 实现 HTTP 接口，把请求转换为服务层调用并把错误映射为状态码
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"go.opentelemetry.io/otel/trace"

	"github.com/devil3515/resume-parser/internal/logger"
	"github.com/devil3515/resume-parser/internal/tracing"
	"github.com/devil3515/resume-parser/pkg/agent"
)

var errInvalidJSON = errors.New("Invalid JSON body")

// errorJSON 统一的错误响应 {"error": msg}
func errorJSON(c *app.RequestContext, status int, msg string) {
	c.JSON(status, utils.H{"error": msg})
}

// bindJSON 解码请求体，空请求体视为 {}
func bindJSON(c *app.RequestContext, dst any) error {
	body := bytes.TrimSpace(c.Request.Body())
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidJSON, err)
	}
	return nil
}

// flexID 兼容前端传数字或字符串形式的ID
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", s)
	}
	*f = flexID(n)
	return nil
}

// llmErrorResponse 大模型调用失败的映射：服务商错误 502，超时 504，其余网络错误 502
func llmErrorResponse(err error) (int, utils.H, bool) {
	var pe *agent.ProviderError
	if errors.As(err, &pe) {
		return consts.StatusBadGateway, utils.H{
			"error":       "LLM provider returned an error",
			"status_code": pe.StatusCode,
			"message":     tracing.TruncateString(pe.Body, tracing.MaxProviderBody),
		}, true
	}
	if isTimeout(err) {
		return consts.StatusGatewayTimeout, utils.H{"error": "LLM request timed out"}, true
	}
	if errors.Is(err, agent.ErrTransport) {
		return consts.StatusBadGateway, utils.H{"error": "LLM service is unreachable", "message": err.Error()}, true
	}
	return 0, nil, false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// internalError 记录日志并返回 500
func internalError(ctx context.Context, c *app.RequestContext, err error, msg string) {
	tracing.RecordHTTPError(trace.SpanFromContext(ctx), err, consts.StatusInternalServerError)
	logger.Error().Err(err).Str("path", string(c.Path())).Msg(msg)
	errorJSON(c, consts.StatusInternalServerError, "Internal server error")
}
