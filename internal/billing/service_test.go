package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devil3515/resume-parser/internal/billing"
	"github.com/devil3515/resume-parser/internal/storage/memory"
)

// fakeGateway 记录调用的支付网关。签名为 "valid" 时按 JSON 解析事件。
type fakeGateway struct {
	mu          sync.Mutex
	sessions    int
	lastRequest billing.CheckoutRequest
	cancelled   map[string]bool // subscriptionID -> atPeriodEnd
	resumed     []string
	priceChange map[string]string
	checkoutErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{cancelled: map[string]bool{}, priceChange: map[string]string{}}
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	g.sessions++
	g.lastRequest = req
	id := fmt.Sprintf("cs_test_%d", g.sessions)
	return &billing.CheckoutSession{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

type fakeEvent struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"`
	ObjectID       string            `json:"object_id"`
	CustomerID     string            `json:"customer_id"`
	SubscriptionID string            `json:"subscription_id"`
	Metadata       map[string]string `json:"metadata"`
}

func (g *fakeGateway) ParseWebhook(payload []byte, signature string) (*billing.WebhookEvent, error) {
	if signature != "valid" {
		return nil, billing.ErrInvalidSignature
	}
	var e fakeEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidSignature, err)
	}
	return &billing.WebhookEvent{
		ID:             e.ID,
		Type:           e.Type,
		ObjectID:       e.ObjectID,
		CustomerID:     e.CustomerID,
		SubscriptionID: e.SubscriptionID,
		Metadata:       e.Metadata,
	}, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, id string, atPeriodEnd bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled[id] = atPeriodEnd
	return nil
}

func (g *fakeGateway) ResumeSubscription(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resumed = append(g.resumed, id)
	return nil
}

func (g *fakeGateway) ChangeSubscriptionPrice(_ context.Context, id, priceID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.priceChange[id] = priceID
	return nil
}

type fixture struct {
	svc   *billing.Service
	repo  *memory.BillingRepository
	gw    *fakeGateway
	cache *memory.Cache
	now   time.Time
	plans map[string]int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  memory.NewBillingRepository(),
		gw:    newFakeGateway(),
		cache: memory.NewCache(0),
		now:   time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
		plans: map[string]int64{},
	}
	f.svc = billing.NewService(f.repo,
		billing.WithGateway(f.gw),
		billing.WithDeduper(f.cache, time.Hour),
		billing.WithPublishableKey("pk_test_123"),
		billing.WithClock(func() time.Time { return f.now }),
	)

	ctx := context.Background()
	created, updated, err := f.svc.SeedDefaultPlans(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, created)
	require.Equal(t, 0, updated)

	views, err := f.svc.ListPlans(ctx)
	require.NoError(t, err)
	for _, v := range views {
		f.plans[v.Name] = v.ID
	}
	return f
}

func (f *fixture) subscribe(t *testing.T, userID, plan string) {
	t.Helper()
	_, err := f.svc.Upgrade(context.Background(), userID, f.plans[plan])
	require.NoError(t, err)
}

func webhookPayload(t *testing.T, e fakeEvent) []byte {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return b
}

func TestSeedAndListPlans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	views, err := f.svc.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, views, 4)

	names := []string{views[0].Name, views[1].Name, views[2].Name, views[3].Name}
	assert.Equal(t, []string{"Free", "Basic", "Professional", "Enterprise"}, names, "按价格升序")
	assert.InDelta(t, 9.99, views[1].Price, 0.0001)
	assert.Equal(t, 2, views[0].Features.MaxResumesPerMonth)
	assert.Equal(t, billing.Unlimited, views[3].Features.MaxResumesPerMonth)
	assert.False(t, views[0].Features.JobMatching)
	assert.True(t, views[1].Features.JobMatching)

	// 再次初始化只更新不新建
	created, updated, err := f.svc.SeedDefaultPlans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Equal(t, 4, updated)
}

func TestCreateCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("缺少套餐ID", func(t *testing.T) {
		_, err := f.svc.CreateCheckout(ctx, "u1", 0)
		assert.ErrorIs(t, err, billing.ErrPlanIDRequired)
	})

	t.Run("套餐不存在", func(t *testing.T) {
		_, err := f.svc.CreateCheckout(ctx, "u1", 999)
		assert.ErrorIs(t, err, billing.ErrInvalidPlan)
	})

	t.Run("成功创建并记录待支付订单", func(t *testing.T) {
		sess, err := f.svc.CreateCheckout(ctx, "u1", f.plans["Basic"])
		require.NoError(t, err)
		assert.NotEmpty(t, sess.URL)

		assert.Equal(t, "Resume Parser - Basic", f.gw.lastRequest.ProductName)
		assert.Equal(t, int64(999), f.gw.lastRequest.AmountCents)
		assert.Equal(t, "u1", f.gw.lastRequest.Metadata["user_id"])
		assert.Contains(t, f.gw.lastRequest.SuccessURL, "{CHECKOUT_SESSION_ID}")

		payment, err := f.repo.GetPaymentBySession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.PaymentPending, payment.Status)
		assert.Equal(t, "u1", payment.UserID)
	})

	t.Run("网关错误原样返回", func(t *testing.T) {
		f.gw.checkoutErr = &billing.GatewayError{Op: "checkout", Err: errors.New("card declined")}
		defer func() { f.gw.checkoutErr = nil }()
		_, err := f.svc.CreateCheckout(ctx, "u1", f.plans["Basic"])
		var gwErr *billing.GatewayError
		assert.ErrorAs(t, err, &gwErr)
	})

	t.Run("未配置网关", func(t *testing.T) {
		svc := billing.NewService(f.repo)
		_, err := svc.CreateCheckout(ctx, "u1", f.plans["Basic"])
		assert.ErrorIs(t, err, billing.ErrGatewayNotConfigured)
	})

	assert.Equal(t, "pk_test_123", f.svc.PublishableKey())
}

func TestHandleWebhook_CheckoutCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.CreateCheckout(ctx, "u1", f.plans["Professional"])
	require.NoError(t, err)

	// 跳转页只读，不激活订阅
	landing, err := f.svc.PaymentSuccess(ctx, sess.ID, fmt.Sprint(f.plans["Professional"]))
	require.NoError(t, err)
	assert.Equal(t, "pending", landing.Status)
	status, err := f.svc.Status(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.HasSubscription, "跳转页不能激活订阅")

	payload := webhookPayload(t, fakeEvent{
		ID:             "evt_1",
		Type:           billing.EventCheckoutCompleted,
		ObjectID:       sess.ID,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		Metadata:       map[string]string{"plan_id": fmt.Sprint(f.plans["Professional"]), "user_id": "u1"},
	})
	require.NoError(t, f.svc.HandleWebhook(ctx, payload, "valid"))

	payment, err := f.repo.GetPaymentBySession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PaymentCompleted, payment.Status)
	require.NotNil(t, payment.SubscriptionID)

	status, err = f.svc.Status(ctx, "u1")
	require.NoError(t, err)
	require.True(t, status.HasSubscription)
	assert.Equal(t, "Professional", status.Subscription.PlanName)
	assert.Equal(t, 50, status.Subscription.RemainingResumes)

	events := f.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "billing.payment.completed", events[0].RoutingKey)
	var completed billing.PaymentCompletedEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &completed))
	assert.Equal(t, sess.ID, completed.StripeSessionID)
	assert.Equal(t, int64(2999), completed.AmountCents)

	landing, err = f.svc.PaymentSuccess(ctx, sess.ID, fmt.Sprint(f.plans["Professional"]))
	require.NoError(t, err)
	assert.Equal(t, "success", landing.Status)
	assert.Equal(t, "Payment completed and subscription activated!", landing.Message)
	require.NotNil(t, landing.Plan)
	assert.Equal(t, "Professional", landing.Plan.Name)

	// 同一事件重复投递只处理一次
	require.NoError(t, f.svc.HandleWebhook(ctx, payload, "valid"))
	assert.Len(t, f.repo.Events(), 1, "重复事件不应再次写入发件箱")
}

func TestHandleWebhook_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.HandleWebhook(ctx, []byte(`{}`), ""), billing.ErrMissingSignature)
	assert.ErrorIs(t, f.svc.HandleWebhook(ctx, []byte(`{}`), "forged"), billing.ErrInvalidSignature)

	// 未知会话和未处理的事件类型都直接确认
	unknown := webhookPayload(t, fakeEvent{ID: "evt_u", Type: billing.EventCheckoutCompleted, ObjectID: "cs_missing"})
	assert.NoError(t, f.svc.HandleWebhook(ctx, unknown, "valid"))
	other := webhookPayload(t, fakeEvent{ID: "evt_o", Type: "invoice.paid"})
	assert.NoError(t, f.svc.HandleWebhook(ctx, other, "valid"))
}

func TestHandleWebhook_PaymentFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.CreateCheckout(ctx, "u1", f.plans["Basic"])
	require.NoError(t, err)

	expired := webhookPayload(t, fakeEvent{ID: "evt_exp", Type: billing.EventCheckoutExpired, ObjectID: sess.ID})
	require.NoError(t, f.svc.HandleWebhook(ctx, expired, "valid"))

	payment, err := f.repo.GetPaymentBySession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PaymentFailed, payment.Status)

	landing, err := f.svc.PaymentSuccess(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "failed", landing.Status)
	assert.Equal(t, "Payment failed", landing.Message)

	// 已完成的支付不会被失败事件降级
	sess2, err := f.svc.CreateCheckout(ctx, "u1", f.plans["Basic"])
	require.NoError(t, err)
	done := webhookPayload(t, fakeEvent{ID: "evt_done", Type: billing.EventCheckoutCompleted, ObjectID: sess2.ID,
		Metadata: map[string]string{"plan_id": fmt.Sprint(f.plans["Basic"])}})
	require.NoError(t, f.svc.HandleWebhook(ctx, done, "valid"))
	failed := webhookPayload(t, fakeEvent{ID: "evt_fail", Type: billing.EventCheckoutAsyncFailed, ObjectID: sess2.ID})
	require.NoError(t, f.svc.HandleWebhook(ctx, failed, "valid"))

	payment, err = f.repo.GetPaymentBySession(ctx, sess2.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PaymentCompleted, payment.Status)

	assert.Equal(t, "cancelled", f.svc.PaymentCancelled().Status)
}

func TestUsageQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 匿名用户和没有订阅的用户不受限制
	assert.NoError(t, f.svc.CheckResumeQuota(ctx, ""))
	assert.NoError(t, f.svc.CheckResumeQuota(ctx, "nobody"))
	_, err := f.svc.IncrementUsage(ctx, "nobody")
	assert.ErrorIs(t, err, billing.ErrNoActiveSubscription)

	f.subscribe(t, "u1", "Free")

	remaining, err := f.svc.IncrementUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
	remaining, err = f.svc.IncrementUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	_, err = f.svc.IncrementUsage(ctx, "u1")
	assert.ErrorIs(t, err, billing.ErrQuotaExceeded)
	var quotaErr *billing.QuotaError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, 2, quotaErr.Max)

	err = f.svc.CheckResumeQuota(ctx, "u1")
	assert.ErrorIs(t, err, billing.ErrQuotaExceeded)

	access, err := f.svc.CheckFeature(ctx, "u1", billing.FeatureResumeProcessing)
	require.NoError(t, err)
	assert.False(t, access.HasAccess)
	assert.Equal(t, 0, *access.RemainingResumes)

	// 进入下个月后自动清零
	f.now = f.now.AddDate(0, 1, 0)
	access, err = f.svc.CheckFeature(ctx, "u1", billing.FeatureResumeProcessing)
	require.NoError(t, err)
	assert.True(t, access.HasAccess)
	assert.Equal(t, 2, *access.RemainingResumes)
	assert.NoError(t, f.svc.CheckResumeQuota(ctx, "u1"))
}

func TestUsageQuota_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscribe(t, "u1", "Basic")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.IncrementUsage(ctx, "u1"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, succeeded, "并发扣减不能超过套餐上限")
}

func TestReserveAndReleaseResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reserved, err := f.svc.ReserveResume(ctx, "")
	require.NoError(t, err)
	assert.False(t, reserved, "匿名用户不计量")
	reserved, err = f.svc.ReserveResume(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, reserved, "没有订阅不计量")
	assert.NoError(t, f.svc.ReleaseResume(ctx, "nobody"))

	f.subscribe(t, "u1", "Free")
	for range 2 {
		reserved, err = f.svc.ReserveResume(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, reserved)
	}
	_, err = f.svc.ReserveResume(ctx, "u1")
	assert.ErrorIs(t, err, billing.ErrQuotaExceeded)

	require.NoError(t, f.svc.ReleaseResume(ctx, "u1"))
	status, err := f.svc.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Subscription.ResumesProcessedThisMonth)

	reserved, err = f.svc.ReserveResume(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, reserved, "归还后可以再次预占")

	// 跨月后归还不会把新月份的用量扣成负数
	f.now = f.now.AddDate(0, 1, 0)
	require.NoError(t, f.svc.ReleaseResume(ctx, "u1"))
	require.NoError(t, f.svc.ReleaseResume(ctx, "u1"))
	status, err = f.svc.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, status.Subscription.ResumesProcessedThisMonth)
}

func TestUnlimitedPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscribe(t, "u1", "Enterprise")

	for range 5 {
		remaining, err := f.svc.IncrementUsage(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, billing.Unlimited, remaining)
	}
}

func TestCheckFeatureAndRequireFeature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CheckFeature(ctx, "u1", " ")
	assert.ErrorIs(t, err, billing.ErrFeatureRequired)

	access, err := f.svc.CheckFeature(ctx, "u1", billing.FeatureJobMatching)
	require.NoError(t, err)
	assert.False(t, access.HasAccess)
	assert.Equal(t, "No active subscription", access.Message)
	assert.NoError(t, f.svc.RequireFeature(ctx, "u1", billing.FeatureJobMatching), "没有订阅时放行")

	f.subscribe(t, "u1", "Free")
	access, err = f.svc.CheckFeature(ctx, "u1", billing.FeatureATSAnalysis)
	require.NoError(t, err)
	assert.True(t, access.HasAccess)

	err = f.svc.RequireFeature(ctx, "u1", billing.FeatureJobMatching)
	assert.ErrorIs(t, err, billing.ErrFeatureNotAvailable)
	var featureErr *billing.FeatureError
	require.ErrorAs(t, err, &featureErr)
	assert.Equal(t, "Free", featureErr.Plan)

	assert.NoError(t, f.svc.RequireFeature(ctx, "", billing.FeatureJobMatching), "匿名用户放行")
}

func TestCancelAndReactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Cancel(ctx, "u1", "bogus")
	assert.ErrorIs(t, err, billing.ErrNoActiveSubscription, "先检查订阅再校验取消方式")

	sess, err := f.svc.CreateCheckout(ctx, "u1", f.plans["Basic"])
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleWebhook(ctx, webhookPayload(t, fakeEvent{
		ID: "evt_c", Type: billing.EventCheckoutCompleted, ObjectID: sess.ID, SubscriptionID: "sub_42",
		Metadata: map[string]string{"plan_id": fmt.Sprint(f.plans["Basic"])},
	}), "valid"))

	_, err = f.svc.Cancel(ctx, "u1", "bogus")
	assert.ErrorIs(t, err, billing.ErrInvalidCancelType)

	res, err := f.svc.Cancel(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCancelled, res.SubscriptionStatus)
	assert.Equal(t, "End of current period", res.ActiveUntil)
	assert.True(t, f.gw.cancelled["sub_42"], "默认在周期结束时取消")

	status, err := f.svc.Status(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.HasSubscription)

	re, err := f.svc.Reactivate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Basic", re.PlanName)
	assert.Equal(t, []string{"sub_42"}, f.gw.resumed)

	_, err = f.svc.Reactivate(ctx, "u1")
	assert.ErrorIs(t, err, billing.ErrNoCancelledSubscription)

	res, err = f.svc.Cancel(ctx, "u1", billing.CancelImmediate)
	require.NoError(t, err)
	assert.Equal(t, "Subscription cancelled immediately", res.Message)
	assert.False(t, f.gw.cancelled["sub_42"])
}

func TestUpgradeAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Upgrade(ctx, "u1", 0)
	assert.ErrorIs(t, err, billing.ErrPlanIDRequired)
	_, err = f.svc.Upgrade(ctx, "u1", 999)
	assert.ErrorIs(t, err, billing.ErrInvalidPlan)

	res, err := f.svc.Upgrade(ctx, "u1", f.plans["Basic"])
	require.NoError(t, err)
	assert.Equal(t, "New subscription created with Basic plan", res.Message)

	f.now = f.now.Add(time.Hour)
	res, err = f.svc.Upgrade(ctx, "u1", f.plans["Professional"])
	require.NoError(t, err)
	assert.Equal(t, "Subscription upgraded from Basic to Professional", res.Message)
	assert.InDelta(t, 29.99, *res.NewPrice, 0.0001)

	history, err := f.svc.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 1, "升级复用原订阅行")
	assert.Equal(t, "Professional", history[0].PlanName)

	empty, err := f.svc.History(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
