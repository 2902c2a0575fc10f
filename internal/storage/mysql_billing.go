package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/devil3515/resume-parser/internal/billing"
	"github.com/devil3515/resume-parser/internal/storage/models"
)

// BillingRepository billing.Repository 的 MySQL 实现。
// 事务内的实例读取订阅时加 FOR UPDATE 锁。
type BillingRepository struct {
	db       *gorm.DB
	exchange string
	locking  bool
}

var _ billing.Repository = (*BillingRepository)(nil)

// NewBillingRepository exchange 为发件箱事件的目标交换机
func NewBillingRepository(m *MySQL, exchange string) *BillingRepository {
	return &BillingRepository{db: m.DB(), exchange: exchange}
}

func planFromModel(m *models.Plan) *billing.Plan {
	return &billing.Plan{
		ID:            m.PlanID,
		Name:          m.Name,
		PriceCents:    m.PriceCents,
		Currency:      m.Currency,
		StripePriceID: m.StripePriceID,
		Description:   m.Description,
		Features: billing.Features{
			MaxResumesPerMonth: m.MaxResumesPerMonth,
			ATSAnalysis:        m.ATSAnalysis,
			JobMatching:        m.JobMatching,
			ResumeTemplates:    m.ResumeTemplates,
			PrioritySupport:    m.PrioritySupport,
			APIAccess:          m.APIAccess,
		},
		IsActive:  m.IsActive,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func planToModel(p *billing.Plan) *models.Plan {
	return &models.Plan{
		PlanID:             p.ID,
		Name:               p.Name,
		PriceCents:         p.PriceCents,
		Currency:           p.Currency,
		StripePriceID:      p.StripePriceID,
		Description:        p.Description,
		MaxResumesPerMonth: p.Features.MaxResumesPerMonth,
		ATSAnalysis:        p.Features.ATSAnalysis,
		JobMatching:        p.Features.JobMatching,
		ResumeTemplates:    p.Features.ResumeTemplates,
		PrioritySupport:    p.Features.PrioritySupport,
		APIAccess:          p.Features.APIAccess,
		IsActive:           p.IsActive,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

func subscriptionFromModel(m *models.Subscription) *billing.Subscription {
	sub := &billing.Subscription{
		ID:                        m.SubscriptionID,
		UserID:                    m.UserID,
		PlanID:                    m.PlanID,
		Status:                    billing.SubscriptionStatus(m.Status),
		StripeSubscriptionID:      m.StripeSubscriptionID,
		StripeCustomerID:          m.StripeCustomerID,
		StartDate:                 m.StartDate,
		EndDate:                   m.EndDate,
		CancelledAt:               m.CancelledAt,
		ResumesProcessedThisMonth: m.ResumesProcessedThisMonth,
		LastUsageReset:            m.LastUsageReset,
		CreatedAt:                 m.CreatedAt,
		UpdatedAt:                 m.UpdatedAt,
	}
	if m.Plan.PlanID != 0 {
		sub.Plan = planFromModel(&m.Plan)
	}
	return sub
}

func subscriptionToModel(s *billing.Subscription) *models.Subscription {
	return &models.Subscription{
		SubscriptionID:            s.ID,
		UserID:                    s.UserID,
		PlanID:                    s.PlanID,
		Status:                    string(s.Status),
		StripeSubscriptionID:      s.StripeSubscriptionID,
		StripeCustomerID:          s.StripeCustomerID,
		StartDate:                 s.StartDate,
		EndDate:                   s.EndDate,
		CancelledAt:               s.CancelledAt,
		ResumesProcessedThisMonth: s.ResumesProcessedThisMonth,
		LastUsageReset:            s.LastUsageReset,
		CreatedAt:                 s.CreatedAt,
		UpdatedAt:                 s.UpdatedAt,
	}
}

func paymentFromModel(m *models.Payment) (*billing.Payment, error) {
	meta, err := models.JSONToStringMap(m.MetadataJSON)
	if err != nil {
		return nil, fmt.Errorf("解析支付元数据失败: %w", err)
	}
	p := &billing.Payment{
		ID:              m.PaymentID,
		StripeSessionID: m.StripeSessionID,
		SubscriptionID:  m.SubscriptionID,
		AmountCents:     m.AmountCents,
		Currency:        m.Currency,
		Status:          billing.PaymentStatus(m.Status),
		Metadata:        meta,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if m.UserID != nil {
		p.UserID = *m.UserID
	}
	return p, nil
}

func paymentToModel(p *billing.Payment) (*models.Payment, error) {
	meta, err := models.StringMapToJSON(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("序列化支付元数据失败: %w", err)
	}
	m := &models.Payment{
		PaymentID:       p.ID,
		StripeSessionID: p.StripeSessionID,
		SubscriptionID:  p.SubscriptionID,
		AmountCents:     p.AmountCents,
		Currency:        p.Currency,
		Status:          string(p.Status),
		MetadataJSON:    meta,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
	if p.UserID != "" {
		userID := p.UserID
		m.UserID = &userID
	}
	return m, nil
}

// ListActivePlans 按价格升序
func (r *BillingRepository) ListActivePlans(ctx context.Context) ([]billing.Plan, error) {
	var rows []models.Plan
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("price_cents asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	plans := make([]billing.Plan, 0, len(rows))
	for i := range rows {
		plans = append(plans, *planFromModel(&rows[i]))
	}
	return plans, nil
}

func (r *BillingRepository) firstPlan(ctx context.Context, query string, arg any) (*billing.Plan, error) {
	var row models.Plan
	err := r.db.WithContext(ctx).Where(query, arg).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, billing.ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return planFromModel(&row), nil
}

// GetPlan 按ID查询套餐
func (r *BillingRepository) GetPlan(ctx context.Context, id int64) (*billing.Plan, error) {
	return r.firstPlan(ctx, "plan_id = ?", id)
}

// GetPlanByName 按名称查询套餐
func (r *BillingRepository) GetPlanByName(ctx context.Context, name string) (*billing.Plan, error) {
	return r.firstPlan(ctx, "name = ?", name)
}

// SavePlan 新建或整行更新
func (r *BillingRepository) SavePlan(ctx context.Context, plan *billing.Plan) error {
	row := planToModel(plan)
	if err := r.db.WithContext(ctx).Save(row).Error; err != nil {
		return err
	}
	plan.ID = row.PlanID
	return nil
}

func (r *BillingRepository) subscriptionQuery(ctx context.Context) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&models.Subscription{})
	if r.locking {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

// FindSubscription 用户最近创建的订阅，status 为空表示不限
func (r *BillingRepository) FindSubscription(ctx context.Context, userID string, status billing.SubscriptionStatus) (*billing.Subscription, error) {
	q := r.subscriptionQuery(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var row models.Subscription
	err := q.Order("created_at desc").Order("subscription_id desc").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, billing.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}

	sub := subscriptionFromModel(&row)
	if sub.Plan, err = r.GetPlan(ctx, row.PlanID); err != nil {
		return nil, err
	}
	return sub, nil
}

// ListSubscriptions 按创建时间倒序，预加载套餐
func (r *BillingRepository) ListSubscriptions(ctx context.Context, userID string) ([]billing.Subscription, error) {
	var rows []models.Subscription
	err := r.db.WithContext(ctx).Preload("Plan").Where("user_id = ?", userID).
		Order("created_at desc").Order("subscription_id desc").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	subs := make([]billing.Subscription, 0, len(rows))
	for i := range rows {
		subs = append(subs, *subscriptionFromModel(&rows[i]))
	}
	return subs, nil
}

// SaveSubscription 新建或整行更新
func (r *BillingRepository) SaveSubscription(ctx context.Context, sub *billing.Subscription) error {
	row := subscriptionToModel(sub)
	if err := r.db.WithContext(ctx).Omit("Plan").Save(row).Error; err != nil {
		return err
	}
	sub.ID = row.SubscriptionID
	return nil
}

// CreatePayment 新建支付记录
func (r *BillingRepository) CreatePayment(ctx context.Context, payment *billing.Payment) error {
	row, err := paymentToModel(payment)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	payment.ID = row.PaymentID
	return nil
}

// GetPaymentBySession 按 Checkout 会话ID查询
func (r *BillingRepository) GetPaymentBySession(ctx context.Context, sessionID string) (*billing.Payment, error) {
	q := r.db.WithContext(ctx)
	if r.locking {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row models.Payment
	err := q.Where("stripe_session_id = ?", sessionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, billing.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return paymentFromModel(&row)
}

// SavePayment 整行更新
func (r *BillingRepository) SavePayment(ctx context.Context, payment *billing.Payment) error {
	row, err := paymentToModel(payment)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(row).Error
}

// EnqueueEvent 写入发件箱
func (r *BillingRepository) EnqueueEvent(ctx context.Context, routingKey string, payload any) error {
	return enqueueOutbox(ctx, r.db, r.exchange, routingKey, payload)
}

// Transaction 在 GORM 事务中执行 fn，fn 返回错误时回滚
func (r *BillingRepository) Transaction(ctx context.Context, fn func(tx billing.Repository) error) error {
	if r.locking {
		return fn(r)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&BillingRepository{db: tx, exchange: r.exchange, locking: true})
	})
}
