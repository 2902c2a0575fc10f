package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devil3515/resume-parser/internal/storage/models"
)

type publishCall struct {
	exchange   string
	routingKey string
	body       string
}

type fakePublisher struct {
	calls []publishCall
	errs  map[string]error // routingKey -> error
}

func (p *fakePublisher) PublishMessage(_ context.Context, exchange, routingKey string, message []byte, persistent bool) error {
	p.calls = append(p.calls, publishCall{exchange: exchange, routingKey: routingKey, body: string(message)})
	return p.errs[routingKey]
}

func TestNewMessageRelay_Options(t *testing.T) {
	r := NewMessageRelay(nil, &fakePublisher{})
	assert.Equal(t, defaultPollingInterval, r.pollingInterval)
	assert.Equal(t, defaultBatchSize, r.batchSize)
	assert.Equal(t, defaultMaxRetryCount, r.maxRetryCount)

	r = NewMessageRelay(nil, &fakePublisher{},
		WithPollingInterval(time.Second),
		WithBatchSize(50),
		WithMaxRetryCount(2),
		WithBatchSize(0), // 非法值忽略
	)
	assert.Equal(t, time.Second, r.pollingInterval)
	assert.Equal(t, 50, r.batchSize)
	assert.Equal(t, 2, r.maxRetryCount)
}

func TestPublishBatch(t *testing.T) {
	pub := &fakePublisher{errs: map[string]error{"broken": errors.New("channel closed")}}
	r := NewMessageRelay(nil, pub, WithMaxRetryCount(3))
	fixed := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	messages := []models.OutboxMessage{
		{ID: 1, TargetExchange: "events", TargetRoutingKey: "resume.parsed", Payload: `{"a":1}`, Status: models.OutboxStatusPending},
		{ID: 2, TargetExchange: "events", TargetRoutingKey: "broken", Payload: `{}`, Status: models.OutboxStatusPending},
		{ID: 3, TargetExchange: "events", TargetRoutingKey: "broken", Payload: `{}`, Status: models.OutboxStatusPending, RetryCount: 2},
	}

	sent, failed := r.publishBatch(context.Background(), messages)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, failed)
	require.Len(t, pub.calls, 3)
	assert.Equal(t, `{"a":1}`, pub.calls[0].body)

	assert.Equal(t, models.OutboxStatusSent, messages[0].Status)
	require.NotNil(t, messages[0].ProcessedAt)
	assert.Equal(t, fixed, *messages[0].ProcessedAt)

	// 未达到重试上限，保持 PENDING 等待下次轮询
	assert.Equal(t, models.OutboxStatusPending, messages[1].Status)
	assert.Equal(t, 1, messages[1].RetryCount)
	assert.Equal(t, "channel closed", messages[1].ErrorMessage)

	assert.Equal(t, models.OutboxStatusFailed, messages[2].Status, "达到重试上限后标记为 FAILED")
	assert.Equal(t, 3, messages[2].RetryCount)
}

func TestStartStop(t *testing.T) {
	r := NewMessageRelay(nil, &fakePublisher{}, WithPollingInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Start(ctx)
	r.Stop()
	r.Stop() // 重复调用安全
}
