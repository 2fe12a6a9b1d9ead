package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/perchsocial/perch/pkg/async"
	"github.com/perchsocial/perch/pkg/observability"
)

// Event is the payload published on the redis channel
type Event struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	PostID     uuid.UUID `json:"post_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// publishTimeout bounds a single fire-and-forget publish attempt
const publishTimeout = 5 * time.Second

// Publisher publishes events to a redis pub/sub channel. Publish never
// blocks the caller and never returns an error; failures are parked in
// the delivery log for the retry worker.
type Publisher struct {
	client  *redis.Client
	channel string
	log     *DeliveryLogStore
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewPublisher creates a new redis publisher
func NewPublisher(client *redis.Client, channel string, log *DeliveryLogStore, logger *observability.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		client:  client,
		channel: channel,
		log:     log,
		logger:  logger,
		metrics: metrics,
	}
}

// Publish emits one event, fire-and-forget. The delivery is logged
// before the attempt so a crash between log and publish is retried.
func (p *Publisher) Publish(_ context.Context, eventKind string, postID uuid.UUID) {
	event := Event{
		ID:         uuid.NewString(),
		Kind:       eventKind,
		PostID:     postID,
		OccurredAt: time.Now(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).Error("failed to encode event")
		return
	}

	entry := &DeliveryLog{
		ID:        event.ID,
		EventKind: eventKind,
		PostID:    postID,
		Payload:   payload,
		Status:    DeliveryStatusPending,
		CreatedAt: event.OccurredAt,
	}
	p.log.Add(entry)

	// Detached from the request context: the publish outlives the
	// HTTP response that triggered it.
	async.SafeGo(context.Background(), publishTimeout, "notify.publish", p.logger, func(ctx context.Context) error {
		p.attempt(ctx, entry.ID, payload)
		return nil
	})
}

// Deliver pushes a logged payload to redis once. Used by the retry
// worker; status bookkeeping stays with the caller.
func (p *Publisher) Deliver(ctx context.Context, payload []byte) error {
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return trace.ConnectionProblem(err, "failed to publish event")
	}
	return nil
}

// attempt makes the first delivery attempt and records the outcome
func (p *Publisher) attempt(ctx context.Context, id string, payload []byte) {
	p.log.IncrementAttempts(id)
	if err := p.Deliver(ctx, payload); err != nil {
		p.metrics.NotifyPublishesTotal.WithLabelValues("failed").Inc()
		p.log.MarkRetrying(id, err, time.Now().Add(time.Second))
		p.logger.WithError(err).WithField("delivery_id", id).Warn("event publish failed, queued for retry")
		return
	}
	p.metrics.NotifyPublishesTotal.WithLabelValues("ok").Inc()
	p.log.MarkSuccess(id)
}

// NopSink discards events. Used in tests and redis-less deployments.
type NopSink struct{}

// Publish does nothing
func (NopSink) Publish(context.Context, string, uuid.UUID) {}
