package billing

import (
	"errors"
	"fmt"
)

var (
	ErrPlanIDRequired          = errors.New("Plan ID is required")
	ErrInvalidPlan             = errors.New("Invalid plan")
	ErrPlanNotFound            = errors.New("Plan not found")
	ErrPaymentNotFound         = errors.New("Payment not found")
	ErrNoActiveSubscription    = errors.New("No active subscription")
	ErrNoCancelledSubscription = errors.New("No cancelled subscription found")
	ErrQuotaExceeded           = errors.New("Monthly resume limit reached")
	ErrInvalidCancelType       = errors.New(`Invalid cancel_type. Use "immediate" or "end_of_period"`)
	ErrFeatureRequired         = errors.New("Feature name is required")
	ErrFeatureNotAvailable     = errors.New("Feature not available on current plan")
	ErrGatewayNotConfigured    = errors.New("Stripe configuration missing")
	ErrMissingSignature        = errors.New("missing Stripe-Signature header")
	ErrInvalidSignature        = errors.New("invalid webhook payload or signature")
	ErrSubscriptionNotFound    = errors.New("subscription not found")
)

// QuotaError 当月配额用尽
type QuotaError struct {
	Remaining int
	Max       int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s (%d/%d)", ErrQuotaExceeded.Error(), e.Max-e.Remaining, e.Max)
}

func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// FeatureError 当前套餐不包含某功能
type FeatureError struct {
	Feature string
	Plan    string
}

func (e *FeatureError) Error() string {
	return fmt.Sprintf("套餐 %s 不包含功能 %s", e.Plan, e.Feature)
}

func (e *FeatureError) Is(target error) bool {
	return target == ErrFeatureNotAvailable
}

// GatewayError 支付网关调用失败
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("Stripe error: %v", e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
