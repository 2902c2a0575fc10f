package billing

import (
	"context"
	"time"
)

// Repository 计费数据持久化接口。
// 查询订阅时需要同时加载 Plan；在 Transaction 内读取的订阅行应被锁定直到事务结束。
type Repository interface {
	ListActivePlans(ctx context.Context) ([]Plan, error)
	// GetPlan 找不到时返回 ErrPlanNotFound
	GetPlan(ctx context.Context, id int64) (*Plan, error)
	// GetPlanByName 找不到时返回 ErrPlanNotFound
	GetPlanByName(ctx context.Context, name string) (*Plan, error)
	// SavePlan ID 为 0 时新建并回填 ID
	SavePlan(ctx context.Context, plan *Plan) error

	// FindSubscription 返回用户最近创建的订阅，status 为空时不限状态，找不到返回 ErrSubscriptionNotFound
	FindSubscription(ctx context.Context, userID string, status SubscriptionStatus) (*Subscription, error)
	// ListSubscriptions 按创建时间倒序
	ListSubscriptions(ctx context.Context, userID string) ([]Subscription, error)
	// SaveSubscription ID 为 0 时新建并回填 ID
	SaveSubscription(ctx context.Context, sub *Subscription) error

	// CreatePayment 新建支付记录并回填 ID
	CreatePayment(ctx context.Context, payment *Payment) error
	// GetPaymentBySession 找不到时返回 ErrPaymentNotFound
	GetPaymentBySession(ctx context.Context, sessionID string) (*Payment, error)
	SavePayment(ctx context.Context, payment *Payment) error

	// EnqueueEvent 写入发件箱，与当前事务一同提交
	EnqueueEvent(ctx context.Context, routingKey string, payload any) error

	// Transaction 在同一事务中执行 fn
	Transaction(ctx context.Context, fn func(tx Repository) error) error
}

// EventDeduper 记录已处理的 webhook 事件
type EventDeduper interface {
	// MarkEventProcessed 首次标记返回 true
	MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	// UnmarkEvent 处理失败时撤销标记，让 Stripe 重试
	UnmarkEvent(ctx context.Context, eventID string) error
}

// PaymentCompletedEvent 支付完成后投递的消息
type PaymentCompletedEvent struct {
	PaymentID       int64     `json:"payment_id"`
	StripeSessionID string    `json:"stripe_session_id"`
	UserID          string    `json:"user_id,omitempty"`
	PlanID          int64     `json:"plan_id,omitempty"`
	SubscriptionID  int64     `json:"subscription_id,omitempty"`
	AmountCents     int64     `json:"amount_cents"`
	Currency        string    `json:"currency"`
	CompletedAt     time.Time `json:"completed_at"`
}

// AggregateID 发件箱聚合ID
func (e PaymentCompletedEvent) AggregateID() string {
	return e.StripeSessionID
}
