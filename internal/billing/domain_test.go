package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/devil3515/resume-parser/internal/billing"
)

func TestSubscription_ResetIfNewMonth(t *testing.T) {
	jan2025 := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	sub := &billing.Subscription{ResumesProcessedThisMonth: 7, LastUsageReset: jan2025}

	assert.False(t, sub.ResetIfNewMonth(jan2025.AddDate(0, 0, 5)), "同月不重置")
	assert.Equal(t, 7, sub.ResumesProcessedThisMonth)

	// 月份相同但年份不同也要重置
	jan2026 := jan2025.AddDate(1, 0, 0)
	assert.True(t, sub.ResetIfNewMonth(jan2026))
	assert.Equal(t, 0, sub.ResumesProcessedThisMonth)
	assert.Equal(t, jan2026, sub.LastUsageReset)
}

func TestSubscription_IsActiveAndRemaining(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	plan := &billing.Plan{Name: "Basic", Features: billing.Features{MaxResumesPerMonth: 10}}
	sub := &billing.Subscription{Status: billing.StatusActive, Plan: plan, ResumesProcessedThisMonth: 4, LastUsageReset: now}

	assert.True(t, sub.IsActive(now))
	assert.True(t, sub.CanProcess(now))
	assert.Equal(t, 6, sub.Remaining())

	past := now.Add(-time.Hour)
	sub.EndDate = &past
	assert.False(t, sub.IsActive(now), "结束时间已过")
	assert.False(t, sub.CanProcess(now))

	sub.EndDate = nil
	sub.ResumesProcessedThisMonth = 12
	assert.Equal(t, 0, sub.Remaining(), "剩余次数不为负")

	sub.Status = billing.StatusCancelled
	assert.False(t, sub.IsActive(now))

	unlimited := &billing.Subscription{Status: billing.StatusActive, Plan: &billing.Plan{Features: billing.Features{MaxResumesPerMonth: billing.Unlimited}}, ResumesProcessedThisMonth: 1000}
	assert.True(t, unlimited.CanProcess(now))
	assert.Equal(t, billing.Unlimited, unlimited.Remaining())

	assert.Equal(t, 0, (&billing.Subscription{}).Remaining(), "没有套餐时剩余为 0")
}

func TestFeaturesHas(t *testing.T) {
	f := billing.Features{ATSAnalysis: true, APIAccess: true}
	assert.True(t, f.Has(billing.FeatureATSAnalysis))
	assert.True(t, f.Has(billing.FeatureAPIAccess))
	assert.False(t, f.Has(billing.FeatureJobMatching))
	assert.False(t, f.Has("unknown"))
}

func TestDefaultPlans(t *testing.T) {
	plans := billing.DefaultPlans()
	assert.Len(t, plans, 4)
	for _, p := range plans {
		assert.True(t, p.IsActive, p.Name)
		assert.Equal(t, "USD", p.Currency, p.Name)
	}
	assert.True(t, plans[3].Unlimited())
	assert.InDelta(t, 99.99, plans[3].Price(), 0.0001)

	view := plans[1].View()
	assert.Equal(t, "Basic", view.Name)
	assert.InDelta(t, 9.99, view.Price, 0.0001)
}

func TestTypedErrors(t *testing.T) {
	assert.ErrorIs(t, &billing.QuotaError{Max: 2}, billing.ErrQuotaExceeded)
	assert.ErrorIs(t, &billing.FeatureError{Feature: "job_matching", Plan: "Free"}, billing.ErrFeatureNotAvailable)
	inner := assert.AnError
	assert.ErrorIs(t, &billing.GatewayError{Op: "checkout", Err: inner}, inner)
}
