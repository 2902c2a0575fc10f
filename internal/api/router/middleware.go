package router

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"

	"github.com/devil3515/resume-parser/internal/logger"
)

// RequestIDHeader 请求ID头
const RequestIDHeader = "X-Request-ID"

const (
	corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsAllowHeaders = "Authorization, Content-Type, Stripe-Signature, X-Request-ID"
	corsMaxAge       = 12 * time.Hour
)

// RequestID 透传或生成请求ID，并把带 request_id 的 logger 放入上下文
func RequestID() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		id := string(c.GetHeader(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Response.Header.Set(RequestIDHeader, id)
		l := logger.Logger.With().Str("request_id", id).Logger()
		c.Next(l.WithContext(ctx))
	}
}

// AccessLog 请求结束后记录一条访问日志
func AccessLog() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)

		status := c.Response.StatusCode()
		event := logger.Ctx(ctx).Info()
		if status >= consts.StatusInternalServerError {
			event = logger.Ctx(ctx).Error()
		}
		event.
			Str("method", string(c.Method())).
			Str("path", string(c.Path())).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP请求")
	}
}

// CORS 跨域中间件，allowOrigins 为空时允许任意来源
func CORS(allowOrigins []string) app.HandlerFunc {
	allowAll := len(allowOrigins) == 0
	allowed := make(map[string]bool, len(allowOrigins))
	for _, o := range allowOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	maxAge := strconv.Itoa(int(corsMaxAge.Seconds()))

	return func(ctx context.Context, c *app.RequestContext) {
		origin := string(c.GetHeader("Origin"))
		if origin != "" {
			switch {
			case allowAll:
				c.Response.Header.Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				c.Response.Header.Set("Access-Control-Allow-Origin", origin)
				c.Response.Header.Add("Vary", "Origin")
			}
			c.Response.Header.Set("Access-Control-Expose-Headers", RequestIDHeader)
		}

		if string(c.Method()) == consts.MethodOptions && len(c.GetHeader("Access-Control-Request-Method")) > 0 {
			c.Response.Header.Set("Access-Control-Allow-Methods", corsAllowMethods)
			c.Response.Header.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			c.Response.Header.Set("Access-Control-Max-Age", maxAge)
			c.AbortWithStatus(consts.StatusNoContent)
			return
		}
		c.Next(ctx)
	}
}
