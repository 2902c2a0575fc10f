package handler

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/devil3515/resume-parser/internal/auth"
	"github.com/devil3515/resume-parser/internal/billing"
	"github.com/devil3515/resume-parser/internal/logger"
)

// StripeSignatureHeader webhook 签名头
const StripeSignatureHeader = "Stripe-Signature"

// BillingHandler 套餐、支付与订阅接口
type BillingHandler struct {
	svc *billing.Service
}

// NewBillingHandler 创建计费处理器
func NewBillingHandler(svc *billing.Service) *BillingHandler {
	return &BillingHandler{svc: svc}
}

type planRequest struct {
	PlanID flexID `json:"plan_id"`
}

// CreateCheckoutSession 创建 Stripe Checkout 会话，未登录也可以购买
func (h *BillingHandler) CreateCheckoutSession(ctx context.Context, c *app.RequestContext) {
	var req planRequest
	if err := bindJSON(c, &req); err != nil {
		errorJSON(c, consts.StatusBadRequest, errInvalidJSON.Error())
		return
	}

	sess, err := h.svc.CreateCheckout(ctx, auth.UserIDFrom(c), int64(req.PlanID))
	if err != nil {
		var gwErr *billing.GatewayError
		switch {
		case errors.Is(err, billing.ErrGatewayNotConfigured):
			errorJSON(c, consts.StatusInternalServerError, err.Error())
		case errors.Is(err, billing.ErrPlanIDRequired), errors.Is(err, billing.ErrInvalidPlan):
			errorJSON(c, consts.StatusBadRequest, err.Error())
		case errors.As(err, &gwErr):
			errorJSON(c, consts.StatusBadRequest, gwErr.Error())
		default:
			internalError(ctx, c, err, "创建 Checkout 会话失败")
		}
		return
	}
	c.JSON(consts.StatusOK, utils.H{"id": sess.ID, "url": sess.URL})
}

// PublishableKey 前端使用的 Stripe 公钥
func (h *BillingHandler) PublishableKey(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{"publishable_key": h.svc.PublishableKey()})
}

// Webhook Stripe 回调。验签失败返回 400，处理失败返回 500 让 Stripe 重试。
func (h *BillingHandler) Webhook(ctx context.Context, c *app.RequestContext) {
	payload := c.Request.Body()
	signature := string(c.GetHeader(StripeSignatureHeader))

	err := h.svc.HandleWebhook(ctx, payload, signature)
	switch {
	case err == nil:
		c.Status(consts.StatusOK)
	case errors.Is(err, billing.ErrMissingSignature), errors.Is(err, billing.ErrInvalidSignature):
		c.Status(consts.StatusBadRequest)
	default:
		logger.Error().Err(err).Msg("处理 Stripe webhook 失败")
		c.Status(consts.StatusInternalServerError)
	}
}

// PaymentSuccess 支付成功跳转页
func (h *BillingHandler) PaymentSuccess(ctx context.Context, c *app.RequestContext) {
	view, err := h.svc.PaymentSuccess(ctx, c.Query("session_id"), c.Query("plan_id"))
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrPaymentNotFound), errors.Is(err, billing.ErrPlanNotFound):
			c.JSON(consts.StatusNotFound, utils.H{"status": "error", "message": err.Error()})
		default:
			internalError(ctx, c, err, "查询支付结果失败")
		}
		return
	}
	c.JSON(consts.StatusOK, view)
}

// PaymentCancel 支付取消跳转页
func (h *BillingHandler) PaymentCancel(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, h.svc.PaymentCancelled())
}

// Plans 可购买的套餐，按价格升序
func (h *BillingHandler) Plans(ctx context.Context, c *app.RequestContext) {
	plans, err := h.svc.ListPlans(ctx)
	if err != nil {
		internalError(ctx, c, err, "查询套餐失败")
		return
	}
	c.JSON(consts.StatusOK, plans)
}

// SubscriptionStatus 当前订阅
func (h *BillingHandler) SubscriptionStatus(ctx context.Context, c *app.RequestContext) {
	view, err := h.svc.Status(ctx, auth.UserIDFrom(c))
	if err != nil {
		internalError(ctx, c, err, "查询订阅状态失败")
		return
	}
	c.JSON(consts.StatusOK, view)
}

type featureRequest struct {
	Feature string `json:"feature"`
}

// CheckFeature 功能权限检查
func (h *BillingHandler) CheckFeature(ctx context.Context, c *app.RequestContext) {
	var req featureRequest
	if err := bindJSON(c, &req); err != nil {
		errorJSON(c, consts.StatusBadRequest, errInvalidJSON.Error())
		return
	}
	access, err := h.svc.CheckFeature(ctx, auth.UserIDFrom(c), req.Feature)
	if err != nil {
		if errors.Is(err, billing.ErrFeatureRequired) {
			errorJSON(c, consts.StatusBadRequest, err.Error())
			return
		}
		internalError(ctx, c, err, "检查功能权限失败")
		return
	}
	c.JSON(consts.StatusOK, access)
}

// IncrementUsage 记录一次简历处理
func (h *BillingHandler) IncrementUsage(ctx context.Context, c *app.RequestContext) {
	remaining, err := h.svc.IncrementUsage(ctx, auth.UserIDFrom(c))
	if err != nil {
		var quotaErr *billing.QuotaError
		switch {
		case errors.Is(err, billing.ErrNoActiveSubscription):
			errorJSON(c, consts.StatusForbidden, billing.ErrNoActiveSubscription.Error())
		case errors.As(err, &quotaErr):
			c.JSON(consts.StatusForbidden, utils.H{
				"error":             billing.ErrQuotaExceeded.Error(),
				"remaining_resumes": quotaErr.Remaining,
			})
		default:
			internalError(ctx, c, err, "记录用量失败")
		}
		return
	}
	c.JSON(consts.StatusOK, utils.H{
		"message":           "Usage incremented successfully",
		"remaining_resumes": remaining,
	})
}

type cancelRequest struct {
	CancelType string `json:"cancel_type"`
}

// CancelSubscription 取消订阅，默认到期后取消
func (h *BillingHandler) CancelSubscription(ctx context.Context, c *app.RequestContext) {
	var req cancelRequest
	if err := bindJSON(c, &req); err != nil {
		errorJSON(c, consts.StatusBadRequest, errInvalidJSON.Error())
		return
	}
	if req.CancelType == "" {
		req.CancelType = billing.CancelEndOfPeriod
	}

	res, err := h.svc.Cancel(ctx, auth.UserIDFrom(c), req.CancelType)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrNoActiveSubscription):
			errorJSON(c, consts.StatusNotFound, "No active subscription found")
		case errors.Is(err, billing.ErrInvalidCancelType):
			errorJSON(c, consts.StatusBadRequest, err.Error())
		default:
			internalError(ctx, c, err, "取消订阅失败")
		}
		return
	}
	c.JSON(consts.StatusOK, res)
}

// ReactivateSubscription 恢复最近一次取消的订阅
func (h *BillingHandler) ReactivateSubscription(ctx context.Context, c *app.RequestContext) {
	res, err := h.svc.Reactivate(ctx, auth.UserIDFrom(c))
	if err != nil {
		if errors.Is(err, billing.ErrNoCancelledSubscription) {
			errorJSON(c, consts.StatusNotFound, err.Error())
			return
		}
		internalError(ctx, c, err, "恢复订阅失败")
		return
	}
	c.JSON(consts.StatusOK, res)
}

// SubscriptionHistory 全部订阅记录，按创建时间倒序
func (h *BillingHandler) SubscriptionHistory(ctx context.Context, c *app.RequestContext) {
	history, err := h.svc.History(ctx, auth.UserIDFrom(c))
	if err != nil {
		internalError(ctx, c, err, "查询订阅历史失败")
		return
	}
	if history == nil {
		history = []billing.HistoryEntry{}
	}
	c.JSON(consts.StatusOK, utils.H{"subscription_history": history})
}

// UpgradeSubscription 更换套餐，没有订阅时直接创建
func (h *BillingHandler) UpgradeSubscription(ctx context.Context, c *app.RequestContext) {
	var req planRequest
	if err := bindJSON(c, &req); err != nil {
		errorJSON(c, consts.StatusBadRequest, errInvalidJSON.Error())
		return
	}
	res, err := h.svc.Upgrade(ctx, auth.UserIDFrom(c), int64(req.PlanID))
	if err != nil {
		if errors.Is(err, billing.ErrPlanIDRequired) || errors.Is(err, billing.ErrInvalidPlan) {
			errorJSON(c, consts.StatusBadRequest, err.Error())
			return
		}
		internalError(ctx, c, err, "更换套餐失败")
		return
	}
	c.JSON(consts.StatusOK, res)
}
