package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/devil3515/resume-parser/internal/billing"
)

const testWebhookSecret = "whsec_test_secret"

func signedPayload(t *testing.T, payload string) (body []byte, header string) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func TestNewStripeGateway_RequiresKey(t *testing.T) {
	_, err := billing.NewStripeGateway("", testWebhookSecret, nil)
	assert.ErrorIs(t, err, billing.ErrGatewayNotConfigured)
}

func TestStripeGateway_ParseWebhook(t *testing.T) {
	gw, err := billing.NewStripeGateway("sk_test_dummy", testWebhookSecret, nil)
	require.NoError(t, err)

	t.Run("checkout.session.completed 提取会话与元数据", func(t *testing.T) {
		body, header := signedPayload(t, `{
			"id": "evt_1",
			"object": "event",
			"type": "checkout.session.completed",
			"data": {"object": {
				"id": "cs_test_1",
				"object": "checkout.session",
				"customer": "cus_1",
				"subscription": "sub_1",
				"metadata": {"plan_id": "2", "user_id": "u1"}
			}}
		}`)

		event, err := gw.ParseWebhook(body, header)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", event.ID)
		assert.Equal(t, billing.EventCheckoutCompleted, event.Type)
		assert.Equal(t, "cs_test_1", event.ObjectID)
		assert.Equal(t, "cus_1", event.CustomerID)
		assert.Equal(t, "sub_1", event.SubscriptionID)
		assert.Equal(t, "2", event.Metadata["plan_id"])
	})

	t.Run("payment_intent.payment_failed 使用 PaymentIntent ID", func(t *testing.T) {
		body, header := signedPayload(t, `{
			"id": "evt_2",
			"object": "event",
			"type": "payment_intent.payment_failed",
			"data": {"object": {"id": "pi_1", "object": "payment_intent"}}
		}`)

		event, err := gw.ParseWebhook(body, header)
		require.NoError(t, err)
		assert.Equal(t, "pi_1", event.ObjectID)
	})

	t.Run("签名错误", func(t *testing.T) {
		body, _ := signedPayload(t, `{"id":"evt_3","object":"event","type":"checkout.session.completed"}`)
		_, err := gw.ParseWebhook(body, "t=1,v1=deadbeef")
		assert.ErrorIs(t, err, billing.ErrInvalidSignature)
	})

	t.Run("负载被篡改", func(t *testing.T) {
		_, header := signedPayload(t, `{"id":"evt_4","object":"event","type":"checkout.session.completed"}`)
		_, err := gw.ParseWebhook([]byte(`{"id":"evt_5","object":"event"}`), header)
		assert.ErrorIs(t, err, billing.ErrInvalidSignature)
	})
}
