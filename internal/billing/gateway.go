package billing

import "context"

// 处理的 webhook 事件类型
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventCheckoutAsyncFailed   = "checkout.session.async_payment_failed"
	EventCheckoutExpired       = "checkout.session.expired"
	EventPaymentIntentFailed   = "payment_intent.payment_failed"
	metadataPlanID             = "plan_id"
	metadataUserID             = "user_id"
	checkoutSessionPlaceholder = "{CHECKOUT_SESSION_ID}"
)

// CheckoutRequest 创建 Checkout 会话的参数
type CheckoutRequest struct {
	ProductName string
	Description string
	AmountCents int64
	Currency    string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// CheckoutSession 网关返回的会话
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// WebhookEvent 验签后的 webhook 事件。
// ObjectID 对 checkout 事件是会话ID，对 payment_intent 事件是 PaymentIntent ID。
type WebhookEvent struct {
	ID             string
	Type           string
	ObjectID       string
	CustomerID     string
	SubscriptionID string
	Metadata       map[string]string
}

// PaymentGateway 支付网关
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	// ParseWebhook 校验签名并解析事件，失败时返回包装了 ErrInvalidSignature 的错误
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
	// CancelSubscription atPeriodEnd 为 false 时立即取消
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) error
	ResumeSubscription(ctx context.Context, subscriptionID string) error
	ChangeSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) error
}
