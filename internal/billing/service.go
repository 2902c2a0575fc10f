package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/devil3515/resume-parser/internal/logger"
)

const (
	defaultSuccessURL    = "http://localhost:8080/success?session_id=" + checkoutSessionPlaceholder
	defaultCancelURL     = "http://localhost:8080/cancel"
	defaultProductPrefix = "Resume Parser"
	defaultDedupTTL      = 72 * time.Hour
	defaultPaymentKey    = "billing.payment.completed"
)

// Service 计费业务
type Service struct {
	repo           Repository
	gateway        PaymentGateway
	dedup          EventDeduper
	successURL     string
	cancelURL      string
	productPrefix  string
	publishableKey string
	dedupTTL       time.Duration
	paymentKey     string
	now            func() time.Time
	log            zerolog.Logger
}

// Option 配置 Service
type Option func(*Service)

// WithGateway 设置支付网关，未设置时创建 Checkout 返回 ErrGatewayNotConfigured
func WithGateway(g PaymentGateway) Option {
	return func(s *Service) {
		s.gateway = g
	}
}

// WithDeduper 设置 webhook 事件去重
func WithDeduper(d EventDeduper, ttl time.Duration) Option {
	return func(s *Service) {
		s.dedup = d
		if ttl > 0 {
			s.dedupTTL = ttl
		}
	}
}

// WithCheckoutURLs 设置支付成功和取消后的跳转地址
func WithCheckoutURLs(successURL, cancelURL string) Option {
	return func(s *Service) {
		if successURL != "" {
			s.successURL = successURL
		}
		if cancelURL != "" {
			s.cancelURL = cancelURL
		}
	}
}

// WithProductPrefix 设置 Checkout 商品名前缀
func WithProductPrefix(prefix string) Option {
	return func(s *Service) {
		if prefix != "" {
			s.productPrefix = prefix
		}
	}
}

// WithPublishableKey 设置前端使用的公钥
func WithPublishableKey(key string) Option {
	return func(s *Service) {
		s.publishableKey = key
	}
}

// WithPaymentRoutingKey 设置支付完成事件的路由键
func WithPaymentRoutingKey(key string) Option {
	return func(s *Service) {
		if key != "" {
			s.paymentKey = key
		}
	}
}

// WithClock 替换时间源，测试使用
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService 创建计费服务
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		successURL:    defaultSuccessURL,
		cancelURL:     defaultCancelURL,
		productPrefix: defaultProductPrefix,
		dedupTTL:      defaultDedupTTL,
		paymentKey:    defaultPaymentKey,
		now:           time.Now,
		log:           logger.Component("billing"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListPlans 返回所有上架套餐，按价格升序
func (s *Service) ListPlans(ctx context.Context) ([]PlanView, error) {
	plans, err := s.repo.ListActivePlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询套餐失败: %w", err)
	}
	views := make([]PlanView, 0, len(plans))
	for i := range plans {
		views = append(views, plans[i].View())
	}
	return views, nil
}

// SeedDefaultPlans 按名称创建或更新默认套餐
func (s *Service) SeedDefaultPlans(ctx context.Context) (created, updated int, err error) {
	for _, def := range DefaultPlans() {
		plan := def
		existing, getErr := s.repo.GetPlanByName(ctx, plan.Name)
		switch {
		case getErr == nil:
			plan.ID = existing.ID
			plan.StripePriceID = existing.StripePriceID
			plan.CreatedAt = existing.CreatedAt
			updated++
		case errors.Is(getErr, ErrPlanNotFound):
			plan.CreatedAt = s.now()
			created++
		default:
			return created, updated, fmt.Errorf("查询套餐 %s 失败: %w", plan.Name, getErr)
		}
		plan.UpdatedAt = s.now()
		if err := s.repo.SavePlan(ctx, &plan); err != nil {
			return created, updated, fmt.Errorf("保存套餐 %s 失败: %w", plan.Name, err)
		}
		s.log.Info().Str("plan", plan.Name).Float64("price", plan.Price()).Msg("套餐已同步")
	}
	return created, updated, nil
}

// PublishableKey 前端公钥
func (s *Service) PublishableKey() string {
	return s.publishableKey
}

// CreateCheckout 为套餐创建 Checkout 会话并记录待支付订单，userID 可以为空
func (s *Service) CreateCheckout(ctx context.Context, userID string, planID int64) (*CheckoutSession, error) {
	if s.gateway == nil {
		return nil, ErrGatewayNotConfigured
	}
	if planID <= 0 {
		return nil, ErrPlanIDRequired
	}
	plan, err := s.activePlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		metadataPlanID: strconv.FormatInt(plan.ID, 10),
		metadataUserID: userID,
	}
	sess, err := s.gateway.CreateCheckoutSession(ctx, CheckoutRequest{
		ProductName: fmt.Sprintf("%s - %s", s.productPrefix, plan.Name),
		Description: plan.Description,
		AmountCents: plan.PriceCents,
		Currency:    plan.Currency,
		SuccessURL:  s.successURL,
		CancelURL:   s.cancelURL,
		Metadata:    metadata,
	})
	if err != nil {
		s.log.Error().Err(err).Int64("plan_id", planID).Msg("创建 Checkout 会话失败")
		return nil, err
	}

	now := s.now()
	payment := &Payment{
		StripeSessionID: sess.ID,
		UserID:          userID,
		AmountCents:     plan.PriceCents,
		Currency:        plan.Currency,
		Status:          PaymentPending,
		Metadata:        metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("保存支付记录失败: %w", err)
	}
	s.log.Info().Str("session_id", sess.ID).Int64("payment_id", payment.ID).Msg("Checkout 会话已创建")
	return sess, nil
}

func (s *Service) activePlan(ctx context.Context, planID int64) (*Plan, error) {
	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			return nil, ErrInvalidPlan
		}
		return nil, fmt.Errorf("查询套餐失败: %w", err)
	}
	if !plan.IsActive {
		return nil, ErrInvalidPlan
	}
	return plan, nil
}

// HandleWebhook 校验并处理 Stripe 事件，重复事件直接忽略
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}
	if s.gateway == nil {
		return ErrGatewayNotConfigured
	}
	event, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		s.log.Warn().Err(err).Msg("webhook 验签失败")
		return err
	}

	if s.dedup != nil && event.ID != "" {
		first, err := s.dedup.MarkEventProcessed(ctx, event.ID, s.dedupTTL)
		if err != nil {
			s.log.Warn().Err(err).Str("event_id", event.ID).Msg("webhook 去重检查失败，继续处理")
		} else if !first {
			s.log.Info().Str("event_id", event.ID).Str("type", event.Type).Msg("重复的 webhook 事件，已忽略")
			return nil
		}
	}

	if err := s.dispatchEvent(ctx, event); err != nil {
		if s.dedup != nil && event.ID != "" {
			if uerr := s.dedup.UnmarkEvent(ctx, event.ID); uerr != nil {
				s.log.Warn().Err(uerr).Str("event_id", event.ID).Msg("撤销 webhook 去重标记失败")
			}
		}
		return err
	}
	return nil
}

func (s *Service) dispatchEvent(ctx context.Context, event *WebhookEvent) error {
	switch event.Type {
	case EventCheckoutCompleted:
		return s.completeCheckout(ctx, event)
	case EventPaymentIntentFailed, EventCheckoutAsyncFailed, EventCheckoutExpired:
		return s.failPayment(ctx, event)
	default:
		s.log.Debug().Str("type", event.Type).Msg("未处理的 webhook 事件类型")
		return nil
	}
}

func (s *Service) completeCheckout(ctx context.Context, event *WebhookEvent) error {
	return s.repo.Transaction(ctx, func(tx Repository) error {
		payment, err := tx.GetPaymentBySession(ctx, event.ObjectID)
		if err != nil {
			if errors.Is(err, ErrPaymentNotFound) {
				s.log.Warn().Str("session_id", event.ObjectID).Msg("webhook 对应的支付记录不存在")
				return nil
			}
			return err
		}

		now := s.now()
		payment.Status = PaymentCompleted
		payment.UpdatedAt = now

		completed := PaymentCompletedEvent{
			PaymentID:       payment.ID,
			StripeSessionID: payment.StripeSessionID,
			UserID:          payment.UserID,
			AmountCents:     payment.AmountCents,
			Currency:        payment.Currency,
			CompletedAt:     now,
		}

		planID, _ := strconv.ParseInt(event.Metadata[metadataPlanID], 10, 64)
		if payment.UserID != "" && planID > 0 {
			plan, err := tx.GetPlan(ctx, planID)
			switch {
			case err == nil:
				sub, err := s.activateSubscription(ctx, tx, payment.UserID, plan, event)
				if err != nil {
					return err
				}
				payment.SubscriptionID = &sub.ID
				completed.PlanID = plan.ID
				completed.SubscriptionID = sub.ID
				s.log.Info().Str("user_id", payment.UserID).Str("plan", plan.Name).Msg("订阅已激活")
			case errors.Is(err, ErrPlanNotFound):
				s.log.Warn().Int64("plan_id", planID).Msg("webhook 中的套餐不存在")
			default:
				return err
			}
		}

		if err := tx.SavePayment(ctx, payment); err != nil {
			return fmt.Errorf("更新支付记录失败: %w", err)
		}
		if err := tx.EnqueueEvent(ctx, s.paymentKey, completed); err != nil {
			return fmt.Errorf("写入发件箱失败: %w", err)
		}
		s.log.Info().Str("session_id", payment.StripeSessionID).Msg("支付已完成")
		return nil
	})
}

// activateSubscription 复用用户最近的订阅行，没有则新建
func (s *Service) activateSubscription(ctx context.Context, tx Repository, userID string, plan *Plan, event *WebhookEvent) (*Subscription, error) {
	now := s.now()
	sub, err := tx.FindSubscription(ctx, userID, "")
	if err != nil {
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return nil, err
		}
		sub = &Subscription{
			UserID:         userID,
			StartDate:      now,
			LastUsageReset: now,
			CreatedAt:      now,
		}
	}
	sub.PlanID = plan.ID
	sub.Plan = plan
	sub.Status = StatusActive
	sub.CancelledAt = nil
	if event.CustomerID != "" {
		sub.StripeCustomerID = event.CustomerID
	}
	if event.SubscriptionID != "" {
		sub.StripeSubscriptionID = event.SubscriptionID
	}
	sub.UpdatedAt = now
	if err := tx.SaveSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("保存订阅失败: %w", err)
	}
	return sub, nil
}

func (s *Service) failPayment(ctx context.Context, event *WebhookEvent) error {
	payment, err := s.repo.GetPaymentBySession(ctx, event.ObjectID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			s.log.Warn().Str("object_id", event.ObjectID).Str("type", event.Type).Msg("失败事件对应的支付记录不存在")
			return nil
		}
		return err
	}
	if payment.Status == PaymentCompleted {
		return nil
	}
	payment.Status = PaymentFailed
	payment.UpdatedAt = s.now()
	if err := s.repo.SavePayment(ctx, payment); err != nil {
		return fmt.Errorf("更新支付记录失败: %w", err)
	}
	s.log.Info().Str("session_id", payment.StripeSessionID).Str("type", event.Type).Msg("支付已标记为失败")
	return nil
}

// LandingPlan 支付成功页展示的套餐
type LandingPlan struct {
	Name     string   `json:"name"`
	Features Features `json:"features"`
}

// LandingView 支付跳转页的返回内容
type LandingView struct {
	Status    string       `json:"status"`
	Message   string       `json:"message"`
	SessionID string       `json:"session_id,omitempty"`
	Amount    *float64     `json:"amount,omitempty"`
	Currency  string       `json:"currency,omitempty"`
	Plan      *LandingPlan `json:"plan,omitempty"`
}

// PaymentSuccess 支付成功跳转页。只读取状态，订阅由已验签的 webhook 激活。
func (s *Service) PaymentSuccess(ctx context.Context, sessionID, planID string) (*LandingView, error) {
	if sessionID == "" {
		return &LandingView{Status: "success", Message: "Payment completed successfully!"}, nil
	}
	payment, err := s.repo.GetPaymentBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	amount := payment.Amount()
	view := &LandingView{
		Status:    "success",
		Message:   "Payment completed successfully!",
		SessionID: sessionID,
		Amount:    &amount,
		Currency:  payment.Currency,
	}

	if planID != "" {
		id, convErr := strconv.ParseInt(planID, 10, 64)
		if convErr != nil {
			return nil, ErrPlanNotFound
		}
		plan, err := s.repo.GetPlan(ctx, id)
		if err != nil {
			return nil, err
		}
		if payment.UserID != "" && payment.Status == PaymentCompleted && payment.SubscriptionID != nil {
			view.Message = "Payment completed and subscription activated!"
			view.Plan = &LandingPlan{Name: plan.Name, Features: plan.Features}
		}
	}

	switch payment.Status {
	case PaymentPending:
		view.Status = "pending"
		view.Message = "Payment is being processed"
	case PaymentFailed:
		view.Status = "failed"
		view.Message = "Payment failed"
		view.Plan = nil
	}
	return view, nil
}

// PaymentCancelled 支付取消跳转页
func (s *Service) PaymentCancelled() *LandingView {
	return &LandingView{Status: "cancelled", Message: "Payment was cancelled"}
}

// SubscriptionView 订阅状态详情
type SubscriptionView struct {
	ID                        int64              `json:"id"`
	PlanName                  string             `json:"plan_name"`
	Status                    SubscriptionStatus `json:"status"`
	StartDate                 time.Time          `json:"start_date"`
	EndDate                   *time.Time         `json:"end_date"`
	IsActive                  bool               `json:"is_active"`
	ResumesProcessedThisMonth int                `json:"resumes_processed_this_month"`
	RemainingResumes          int                `json:"remaining_resumes"`
	Features                  Features           `json:"features"`
}

// StatusView 订阅状态
type StatusView struct {
	HasSubscription bool              `json:"has_subscription"`
	Message         string            `json:"message,omitempty"`
	Subscription    *SubscriptionView `json:"subscription,omitempty"`
}

// Status 返回用户当前的有效订阅
func (s *Service) Status(ctx context.Context, userID string) (*StatusView, error) {
	sub, err := s.activeSubscription(ctx, s.repo, userID)
	if err != nil {
		if errors.Is(err, ErrNoActiveSubscription) {
			return &StatusView{HasSubscription: false, Message: "No active subscription found"}, nil
		}
		return nil, err
	}
	now := s.now()
	sub.ResetIfNewMonth(now)
	return &StatusView{
		HasSubscription: true,
		Subscription: &SubscriptionView{
			ID:                        sub.ID,
			PlanName:                  sub.Plan.Name,
			Status:                    sub.Status,
			StartDate:                 sub.StartDate,
			EndDate:                   sub.EndDate,
			IsActive:                  sub.IsActive(now),
			ResumesProcessedThisMonth: sub.ResumesProcessedThisMonth,
			RemainingResumes:          sub.Remaining(),
			Features:                  sub.Plan.Features,
		},
	}, nil
}

func (s *Service) activeSubscription(ctx context.Context, repo Repository, userID string) (*Subscription, error) {
	sub, err := repo.FindSubscription(ctx, userID, StatusActive)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, ErrNoActiveSubscription
		}
		return nil, fmt.Errorf("查询订阅失败: %w", err)
	}
	if sub.Plan == nil {
		plan, err := repo.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return nil, fmt.Errorf("查询订阅套餐失败: %w", err)
		}
		sub.Plan = plan
	}
	return sub, nil
}

// FeatureAccess 功能权限检查结果
type FeatureAccess struct {
	HasAccess        bool   `json:"has_access"`
	Message          string `json:"message,omitempty"`
	Feature          string `json:"feature,omitempty"`
	RemainingResumes *int   `json:"remaining_resumes,omitempty"`
	MaxResumes       *int   `json:"max_resumes,omitempty"`
}

// CheckFeature 检查用户是否可以使用某功能，resume_processing 返回配额信息
func (s *Service) CheckFeature(ctx context.Context, userID, feature string) (*FeatureAccess, error) {
	feature = strings.TrimSpace(feature)
	if feature == "" {
		return nil, ErrFeatureRequired
	}

	if feature != FeatureResumeProcessing {
		sub, err := s.activeSubscription(ctx, s.repo, userID)
		if err != nil {
			if errors.Is(err, ErrNoActiveSubscription) {
				return &FeatureAccess{HasAccess: false, Message: "No active subscription"}, nil
			}
			return nil, err
		}
		return &FeatureAccess{HasAccess: sub.Plan.Features.Has(feature), Feature: feature}, nil
	}

	var access *FeatureAccess
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		sub, err := s.activeSubscription(ctx, tx, userID)
		if err != nil {
			return err
		}
		now := s.now()
		if sub.ResetIfNewMonth(now) {
			if err := tx.SaveSubscription(ctx, sub); err != nil {
				return fmt.Errorf("重置月度用量失败: %w", err)
			}
		}
		remaining := sub.Remaining()
		maxResumes := sub.Plan.Features.MaxResumesPerMonth
		access = &FeatureAccess{
			HasAccess:        sub.CanProcess(now),
			RemainingResumes: &remaining,
			MaxResumes:       &maxResumes,
		}
		return nil
	})
	if errors.Is(err, ErrNoActiveSubscription) {
		return &FeatureAccess{HasAccess: false, Message: "No active subscription"}, nil
	}
	if err != nil {
		return nil, err
	}
	return access, nil
}

// RequireFeature 用户有有效订阅且套餐未开通该功能时返回 *FeatureError，没有订阅时放行
func (s *Service) RequireFeature(ctx context.Context, userID, feature string) error {
	if userID == "" {
		return nil
	}
	sub, err := s.activeSubscription(ctx, s.repo, userID)
	if err != nil {
		if errors.Is(err, ErrNoActiveSubscription) {
			return nil
		}
		return err
	}
	if !sub.Plan.Features.Has(feature) {
		return &FeatureError{Feature: feature, Plan: sub.Plan.Name}
	}
	return nil
}

// IncrementUsage 在锁定的订阅行上增加一次用量，返回剩余次数
func (s *Service) IncrementUsage(ctx context.Context, userID string) (int, error) {
	var remaining int
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		sub, err := s.activeSubscription(ctx, tx, userID)
		if err != nil {
			return err
		}
		now := s.now()
		sub.ResetIfNewMonth(now)
		if !sub.CanProcess(now) {
			return &QuotaError{Remaining: sub.Remaining(), Max: sub.Plan.Features.MaxResumesPerMonth}
		}
		sub.ResumesProcessedThisMonth++
		sub.UpdatedAt = now
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return fmt.Errorf("更新用量失败: %w", err)
		}
		remaining = sub.Remaining()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// ReserveResume 在调用大模型前预占一次用量，与 IncrementUsage 同一个事务语义，
// 并发上传不会超出配额。匿名用户和没有有效订阅的用户不预占，返回 false。
func (s *Service) ReserveResume(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	remaining, err := s.IncrementUsage(ctx, userID)
	if errors.Is(err, ErrNoActiveSubscription) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.log.Debug().Str("user_id", userID).Int("remaining", remaining).Msg("已预占简历用量")
	return true, nil
}

// ReleaseResume 解析失败时归还预占的用量。预占之后跨月重置过的不再扣减。
func (s *Service) ReleaseResume(ctx context.Context, userID string) error {
	return s.repo.Transaction(ctx, func(tx Repository) error {
		sub, err := s.activeSubscription(ctx, tx, userID)
		if errors.Is(err, ErrNoActiveSubscription) {
			return nil
		}
		if err != nil {
			return err
		}
		now := s.now()
		if sub.ResetIfNewMonth(now) || sub.ResumesProcessedThisMonth == 0 {
			return nil
		}
		sub.ResumesProcessedThisMonth--
		sub.UpdatedAt = now
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return fmt.Errorf("归还用量失败: %w", err)
		}
		return nil
	})
}

// CheckResumeQuota 解析前检查配额。匿名用户和没有有效订阅的用户不受限制。
func (s *Service) CheckResumeQuota(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	access, err := s.CheckFeature(ctx, userID, FeatureResumeProcessing)
	if err != nil {
		return err
	}
	if access.MaxResumes == nil {
		return nil
	}
	if !access.HasAccess {
		return &QuotaError{Remaining: *access.RemainingResumes, Max: *access.MaxResumes}
	}
	return nil
}

// 取消方式
const (
	CancelImmediate   = "immediate"
	CancelEndOfPeriod = "end_of_period"
)

// CancelResult 取消订阅的结果
type CancelResult struct {
	Message            string             `json:"message"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	CancelledAt        *time.Time         `json:"cancelled_at"`
	ActiveUntil        any                `json:"active_until,omitempty"`
}

// Cancel 取消当前订阅，cancelType 为空时按 end_of_period 处理
func (s *Service) Cancel(ctx context.Context, userID, cancelType string) (*CancelResult, error) {
	if cancelType == "" {
		cancelType = CancelEndOfPeriod
	}

	var result *CancelResult
	var stripeSubID string
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		sub, err := s.activeSubscription(ctx, tx, userID)
		if err != nil {
			return err
		}
		if cancelType != CancelImmediate && cancelType != CancelEndOfPeriod {
			return ErrInvalidCancelType
		}
		now := s.now()
		sub.Status = StatusCancelled
		sub.CancelledAt = &now
		sub.UpdatedAt = now
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return fmt.Errorf("保存订阅失败: %w", err)
		}
		stripeSubID = sub.StripeSubscriptionID

		result = &CancelResult{SubscriptionStatus: StatusCancelled, CancelledAt: &now}
		if cancelType == CancelImmediate {
			result.Message = "Subscription cancelled immediately"
		} else {
			result.Message = "Subscription will be cancelled at the end of the current period"
			if sub.EndDate != nil {
				result.ActiveUntil = *sub.EndDate
			} else {
				result.ActiveUntil = "End of current period"
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if stripeSubID != "" && s.gateway != nil {
		if err := s.gateway.CancelSubscription(ctx, stripeSubID, cancelType == CancelEndOfPeriod); err != nil {
			s.log.Error().Err(err).Str("stripe_subscription_id", stripeSubID).Msg("Stripe 取消订阅失败")
		}
	}
	s.log.Info().Str("user_id", userID).Str("cancel_type", cancelType).Msg("订阅已取消")
	return result, nil
}

// ReactivateResult 重新激活的结果
type ReactivateResult struct {
	Message            string             `json:"message"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	PlanName           string             `json:"plan_name"`
}

// Reactivate 重新激活最近一次取消的订阅
func (s *Service) Reactivate(ctx context.Context, userID string) (*ReactivateResult, error) {
	var result *ReactivateResult
	var stripeSubID string
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		sub, err := tx.FindSubscription(ctx, userID, StatusCancelled)
		if err != nil {
			if errors.Is(err, ErrSubscriptionNotFound) {
				return ErrNoCancelledSubscription
			}
			return err
		}
		if sub.Plan == nil {
			if sub.Plan, err = tx.GetPlan(ctx, sub.PlanID); err != nil {
				return err
			}
		}
		sub.Status = StatusActive
		sub.CancelledAt = nil
		sub.UpdatedAt = s.now()
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return fmt.Errorf("保存订阅失败: %w", err)
		}
		stripeSubID = sub.StripeSubscriptionID
		result = &ReactivateResult{
			Message:            "Subscription reactivated successfully",
			SubscriptionStatus: StatusActive,
			PlanName:           sub.Plan.Name,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if stripeSubID != "" && s.gateway != nil {
		if err := s.gateway.ResumeSubscription(ctx, stripeSubID); err != nil {
			s.log.Error().Err(err).Str("stripe_subscription_id", stripeSubID).Msg("Stripe 重新激活订阅失败")
		}
	}
	return result, nil
}

// HistoryEntry 订阅历史的一条记录
type HistoryEntry struct {
	ID          int64              `json:"id"`
	PlanName    string             `json:"plan_name"`
	Status      SubscriptionStatus `json:"status"`
	StartDate   time.Time          `json:"start_date"`
	EndDate     *time.Time         `json:"end_date"`
	CancelledAt *time.Time         `json:"cancelled_at"`
	CreatedAt   time.Time          `json:"created_at"`
	Price       float64            `json:"price"`
	Currency    string             `json:"currency"`
}

// History 返回用户的全部订阅，最新的在前
func (s *Service) History(ctx context.Context, userID string) ([]HistoryEntry, error) {
	subs, err := s.repo.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("查询订阅历史失败: %w", err)
	}
	history := make([]HistoryEntry, 0, len(subs))
	for _, sub := range subs {
		entry := HistoryEntry{
			ID:          sub.ID,
			Status:      sub.Status,
			StartDate:   sub.StartDate,
			EndDate:     sub.EndDate,
			CancelledAt: sub.CancelledAt,
			CreatedAt:   sub.CreatedAt,
		}
		if sub.Plan != nil {
			entry.PlanName = sub.Plan.Name
			entry.Price = sub.Plan.Price()
			entry.Currency = sub.Plan.Currency
		}
		history = append(history, entry)
	}
	return history, nil
}

// UpgradeResult 更换套餐的结果
type UpgradeResult struct {
	Message  string   `json:"message"`
	OldPlan  string   `json:"old_plan,omitempty"`
	NewPlan  string   `json:"new_plan,omitempty"`
	NewPrice *float64 `json:"new_price,omitempty"`
	PlanName string   `json:"plan_name,omitempty"`
	Price    *float64 `json:"price,omitempty"`
	Currency string   `json:"currency"`
}

// Upgrade 把当前订阅换成新套餐，没有有效订阅时直接创建
func (s *Service) Upgrade(ctx context.Context, userID string, planID int64) (*UpgradeResult, error) {
	if planID <= 0 {
		return nil, ErrPlanIDRequired
	}
	newPlan, err := s.activePlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	price := newPlan.Price()

	var result *UpgradeResult
	var stripeSubID string
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		now := s.now()
		current, err := s.activeSubscription(ctx, tx, userID)
		if err != nil && !errors.Is(err, ErrNoActiveSubscription) {
			return err
		}

		if current == nil {
			sub := &Subscription{
				UserID:         userID,
				PlanID:         newPlan.ID,
				Plan:           newPlan,
				Status:         StatusActive,
				StartDate:      now,
				LastUsageReset: now,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.SaveSubscription(ctx, sub); err != nil {
				return fmt.Errorf("创建订阅失败: %w", err)
			}
			result = &UpgradeResult{
				Message:  fmt.Sprintf("New subscription created with %s plan", newPlan.Name),
				PlanName: newPlan.Name,
				Price:    &price,
				Currency: newPlan.Currency,
			}
			return nil
		}

		oldPlan := current.Plan
		current.PlanID = newPlan.ID
		current.Plan = newPlan
		current.UpdatedAt = now
		if err := tx.SaveSubscription(ctx, current); err != nil {
			return fmt.Errorf("更新订阅失败: %w", err)
		}
		stripeSubID = current.StripeSubscriptionID
		result = &UpgradeResult{
			Message:  fmt.Sprintf("Subscription upgraded from %s to %s", oldPlan.Name, newPlan.Name),
			OldPlan:  oldPlan.Name,
			NewPlan:  newPlan.Name,
			NewPrice: &price,
			Currency: newPlan.Currency,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if stripeSubID != "" && newPlan.StripePriceID != "" && s.gateway != nil {
		if err := s.gateway.ChangeSubscriptionPrice(ctx, stripeSubID, newPlan.StripePriceID); err != nil {
			s.log.Error().Err(err).Str("stripe_subscription_id", stripeSubID).Msg("Stripe 更换套餐失败")
		}
	}
	return result, nil
}
