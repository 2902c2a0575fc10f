// Package router 注册 HTTP 路由和全局中间件
package router

import (
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/route"

	"github.com/devil3515/resume-parser/internal/api/handler"
	"github.com/devil3515/resume-parser/internal/auth"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Health  *handler.HealthHandler
	Resume  *handler.ResumeHandler
	Auth    *handler.AuthHandler
	Billing *handler.BillingHandler
}

// RegisterRoutes 注册全部路由。旧的 /process 路由保留在根路径。
func RegisterRoutes(h *server.Hertz, hs Handlers, tokens *auth.TokenService, allowOrigins []string) {
	h.Use(RequestID(), AccessLog(), CORS(allowOrigins))

	required := auth.Middleware(tokens)
	optional := auth.OptionalMiddleware(tokens)

	h.GET("/", hs.Health.Index)
	h.POST("/process", optional, hs.Resume.Process)

	api := h.Group("/api/v1")
	api.GET("/health", hs.Health.Health)

	resume := api.Group("/resume", optional)
	resume.POST("/process", hs.Resume.Process)
	resume.POST("/match", hs.Resume.Match)

	users := api.Group("/users")
	users.POST("/register", hs.Auth.Register)
	users.POST("/login", hs.Auth.Login)
	users.POST("/token/refresh", hs.Auth.RefreshToken)
	users.GET("/profile", required, hs.Auth.Profile)
	for _, method := range []func(string, ...app.HandlerFunc) route.IRoutes{users.PUT, users.PATCH} {
		method("/profile/update", required, hs.Auth.UpdateProfile)
	}
	users.POST("/change-password", required, hs.Auth.ChangePassword)

	payments := api.Group("/payments")
	payments.POST("/create-checkout-session", optional, hs.Billing.CreateCheckoutSession)
	payments.GET("/publishable-key", hs.Billing.PublishableKey)
	payments.POST("/webhook", hs.Billing.Webhook)
	payments.GET("/success", hs.Billing.PaymentSuccess)
	payments.GET("/cancel", hs.Billing.PaymentCancel)
	payments.GET("/plans", hs.Billing.Plans)

	account := payments.Group("", required)
	account.GET("/subscription/status", hs.Billing.SubscriptionStatus)
	account.POST("/features/check", hs.Billing.CheckFeature)
	account.POST("/usage/increment", hs.Billing.IncrementUsage)
	account.POST("/subscription/cancel", hs.Billing.CancelSubscription)
	account.POST("/subscription/reactivate", hs.Billing.ReactivateSubscription)
	account.GET("/subscription/history", hs.Billing.SubscriptionHistory)
	account.POST("/subscription/upgrade", hs.Billing.UpgradeSubscription)
}
