package handler

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// Pinger 依赖检查，由 storage.Storage 实现
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler 存活与依赖检查
type HealthHandler struct {
	deps    Pinger
	timeout time.Duration
}

// NewHealthHandler deps 为 nil 时只做存活检查
func NewHealthHandler(deps Pinger) *HealthHandler {
	return &HealthHandler{deps: deps, timeout: 2 * time.Second}
}

// Index 根路径
func (h *HealthHandler) Index(ctx context.Context, c *app.RequestContext) {
	c.String(consts.StatusOK, "Resume Parser API is running.")
}

// Health 依赖不可用时返回 503
func (h *HealthHandler) Health(ctx context.Context, c *app.RequestContext) {
	if h.deps == nil {
		c.JSON(consts.StatusOK, utils.H{"status": "ok"})
		return
	}
	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.deps.Ping(pingCtx); err != nil {
		c.JSON(consts.StatusServiceUnavailable, utils.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, utils.H{"status": "ok"})
}
