package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/devil3515/resume-parser/internal/billing"
)

// Event 写入进程内发件箱的事件
type Event struct {
	RoutingKey string
	Payload    json.RawMessage
}

type billingState struct {
	plans         map[int64]billing.Plan
	subscriptions map[int64]billing.Subscription
	payments      map[int64]billing.Payment
	events        []Event
	nextPlan      int64
	nextSub       int64
	nextPayment   int64
}

func (s *billingState) clone() *billingState {
	return &billingState{
		plans:         maps.Clone(s.plans),
		subscriptions: maps.Clone(s.subscriptions),
		payments:      maps.Clone(s.payments),
		events:        append([]Event(nil), s.events...),
		nextPlan:      s.nextPlan,
		nextSub:       s.nextSub,
		nextPayment:   s.nextPayment,
	}
}

// BillingRepository 进程内计费仓储。
// Transaction 串行执行，fn 返回错误时整体回滚到事务开始前的快照。
type BillingRepository struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	state *billingState
}

var _ billing.Repository = (*BillingRepository)(nil)

// NewBillingRepository 创建空仓储
func NewBillingRepository() *BillingRepository {
	return &BillingRepository{state: &billingState{
		plans:         make(map[int64]billing.Plan),
		subscriptions: make(map[int64]billing.Subscription),
		payments:      make(map[int64]billing.Payment),
	}}
}

// Events 返回已写入发件箱的事件副本
func (r *BillingRepository) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Event(nil), r.state.events...)
}

// ListActivePlans 按价格升序
func (r *BillingRepository) ListActivePlans(_ context.Context) ([]billing.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plans := make([]billing.Plan, 0, len(r.state.plans))
	for _, p := range r.state.plans {
		if p.IsActive {
			plans = append(plans, p)
		}
	}
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].PriceCents != plans[j].PriceCents {
			return plans[i].PriceCents < plans[j].PriceCents
		}
		return plans[i].ID < plans[j].ID
	})
	return plans, nil
}

// GetPlan 按ID查询套餐
func (r *BillingRepository) GetPlan(_ context.Context, id int64) (*billing.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.state.plans[id]
	if !ok {
		return nil, billing.ErrPlanNotFound
	}
	return &p, nil
}

// GetPlanByName 按名称查询套餐
func (r *BillingRepository) GetPlanByName(_ context.Context, name string) (*billing.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.state.plans {
		if p.Name == name {
			return &p, nil
		}
	}
	return nil, billing.ErrPlanNotFound
}

// SavePlan ID 为 0 时新建
func (r *BillingRepository) SavePlan(_ context.Context, plan *billing.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if plan.ID == 0 {
		for _, p := range r.state.plans {
			if p.Name == plan.Name {
				return fmt.Errorf("套餐名称重复: %s", plan.Name)
			}
		}
		r.state.nextPlan++
		plan.ID = r.state.nextPlan
	}
	r.state.plans[plan.ID] = *plan
	return nil
}

// withPlan 填充订阅的套餐，调用方需持有读锁
func (r *BillingRepository) withPlan(sub billing.Subscription) billing.Subscription {
	if p, ok := r.state.plans[sub.PlanID]; ok {
		sub.Plan = &p
	} else {
		sub.Plan = nil
	}
	return sub
}

// sortedSubscriptions 用户订阅按创建时间倒序，调用方需持有读锁
func (r *BillingRepository) sortedSubscriptions(userID string) []billing.Subscription {
	var subs []billing.Subscription
	for _, s := range r.state.subscriptions {
		if s.UserID == userID {
			subs = append(subs, r.withPlan(s))
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].CreatedAt.After(subs[j].CreatedAt)
		}
		return subs[i].ID > subs[j].ID
	})
	return subs
}

// FindSubscription 用户最近创建的订阅，status 为空表示不限
func (r *BillingRepository) FindSubscription(_ context.Context, userID string, status billing.SubscriptionStatus) (*billing.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sortedSubscriptions(userID) {
		if status == "" || s.Status == status {
			return &s, nil
		}
	}
	return nil, billing.ErrSubscriptionNotFound
}

// ListSubscriptions 按创建时间倒序
func (r *BillingRepository) ListSubscriptions(_ context.Context, userID string) ([]billing.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedSubscriptions(userID), nil
}

// SaveSubscription ID 为 0 时新建
func (r *BillingRepository) SaveSubscription(_ context.Context, sub *billing.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub.ID == 0 {
		r.state.nextSub++
		sub.ID = r.state.nextSub
	}
	stored := *sub
	stored.Plan = nil
	r.state.subscriptions[sub.ID] = stored
	return nil
}

// CreatePayment 会话ID重复时报错
func (r *BillingRepository) CreatePayment(_ context.Context, payment *billing.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.state.payments {
		if p.StripeSessionID == payment.StripeSessionID {
			return fmt.Errorf("支付会话重复: %s", payment.StripeSessionID)
		}
	}
	r.state.nextPayment++
	payment.ID = r.state.nextPayment
	stored := *payment
	stored.Metadata = maps.Clone(payment.Metadata)
	r.state.payments[payment.ID] = stored
	return nil
}

// GetPaymentBySession 按 Checkout 会话ID查询
func (r *BillingRepository) GetPaymentBySession(_ context.Context, sessionID string) (*billing.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.state.payments {
		if p.StripeSessionID == sessionID {
			p.Metadata = maps.Clone(p.Metadata)
			return &p, nil
		}
	}
	return nil, billing.ErrPaymentNotFound
}

// SavePayment 更新已有支付记录
func (r *BillingRepository) SavePayment(_ context.Context, payment *billing.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state.payments[payment.ID]; !ok {
		return billing.ErrPaymentNotFound
	}
	stored := *payment
	stored.Metadata = maps.Clone(payment.Metadata)
	r.state.payments[payment.ID] = stored
	return nil
}

// EnqueueEvent 追加到进程内发件箱
func (r *BillingRepository) EnqueueEvent(_ context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.events = append(r.state.events, Event{RoutingKey: routingKey, Payload: body})
	return nil
}

// Transaction 串行执行 fn，失败时回滚
func (r *BillingRepository) Transaction(ctx context.Context, fn func(tx billing.Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	snapshot := r.state.clone()
	r.mu.RUnlock()

	if err := fn(billingTx{r}); err != nil {
		r.mu.Lock()
		r.state = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

// billingTx 事务内的视图，嵌套 Transaction 直接复用当前事务
type billingTx struct {
	*BillingRepository
}

func (tx billingTx) Transaction(_ context.Context, fn func(tx billing.Repository) error) error {
	return fn(tx)
}
