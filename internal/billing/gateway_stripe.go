package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeGateway 基于 stripe-go 的 PaymentGateway 实现
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway secretKey 为空时返回 ErrGatewayNotConfigured
func NewStripeGateway(secretKey, webhookSecret string, backends *stripe.Backends) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, ErrGatewayNotConfigured
	}
	return &StripeGateway{
		api:           client.New(secretKey, backends),
		webhookSecret: webhookSecret,
	}, nil
}

// CreateCheckoutSession 创建一次性付款的 Checkout 会话
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(req.ProductName),
	}
	if req.Description != "" {
		product.Description = stripe.String(req.Description)
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(strings.ToLower(req.Currency)),
					ProductData: product,
					UnitAmount:  stripe.Int64(req.AmountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, &GatewayError{Op: "checkout", Err: err}
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// ParseWebhook 校验 Stripe-Signature 并提取事件对象
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}

	switch {
	case strings.HasPrefix(out.Type, "checkout.session."):
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("%w: 解析 checkout session 失败: %v", ErrInvalidSignature, err)
		}
		out.ObjectID = sess.ID
		out.Metadata = sess.Metadata
		if sess.Customer != nil {
			out.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			out.SubscriptionID = sess.Subscription.ID
		}
	case strings.HasPrefix(out.Type, "payment_intent."):
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: 解析 payment intent 失败: %v", ErrInvalidSignature, err)
		}
		out.ObjectID = pi.ID
		out.Metadata = pi.Metadata
		if pi.Customer != nil {
			out.CustomerID = pi.Customer.ID
		}
	}
	return out, nil
}

// CancelSubscription 立即取消或在周期结束时取消
func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) error {
	if atPeriodEnd {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		if _, err := g.api.Subscriptions.Update(subscriptionID, params); err != nil {
			return &GatewayError{Op: "cancel_at_period_end", Err: err}
		}
		return nil
	}
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := g.api.Subscriptions.Cancel(subscriptionID, params); err != nil {
		return &GatewayError{Op: "cancel", Err: err}
	}
	return nil
}

// ResumeSubscription 撤销周期结束取消
func (g *StripeGateway) ResumeSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(false)}
	params.Context = ctx
	if _, err := g.api.Subscriptions.Update(subscriptionID, params); err != nil {
		return &GatewayError{Op: "resume", Err: err}
	}
	return nil
}

// ChangeSubscriptionPrice 把订阅的第一个订阅项换成新价格
func (g *StripeGateway) ChangeSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) error {
	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	sub, err := g.api.Subscriptions.Get(subscriptionID, getParams)
	if err != nil {
		return &GatewayError{Op: "get_subscription", Err: err}
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return &GatewayError{Op: "change_price", Err: fmt.Errorf("订阅 %s 没有订阅项", subscriptionID)}
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{ID: stripe.String(sub.Items.Data[0].ID), Price: stripe.String(priceID)},
		},
	}
	params.Context = ctx
	if _, err := g.api.Subscriptions.Update(subscriptionID, params); err != nil {
		return &GatewayError{Op: "change_price", Err: err}
	}
	return nil
}
