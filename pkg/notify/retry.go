package notify

import (
	"context"
	"math"
	"time"

	"github.com/perchsocial/perch/pkg/observability"
)

// RetryConfig configures delivery retry behavior
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      1 * time.Second,
		MaxDelay:          5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy implements exponential backoff
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a new retry policy
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 1 * time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Minute
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = 2.0
	}
	return &RetryPolicy{config: config}
}

// ShouldRetry reports whether a delivery with the given attempt count
// gets another try.
func (p *RetryPolicy) ShouldRetry(attempts int) bool {
	return attempts < p.config.MaxAttempts
}

// NextRetryDelay computes the backoff before the next attempt
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return p.config.InitialDelay
	}
	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempts-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// RetryWorker periodically re-drives failed deliveries
type RetryWorker struct {
	publisher *Publisher
	store     *DeliveryLogStore
	policy    *RetryPolicy
	interval  time.Duration
	logger    *observability.Logger
	metrics   *observability.Metrics
	stopCh    chan struct{}
}

// NewRetryWorker creates a new retry worker
func NewRetryWorker(publisher *Publisher, store *DeliveryLogStore, policy *RetryPolicy, interval time.Duration, logger *observability.Logger, metrics *observability.Metrics) *RetryWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RetryWorker{
		publisher: publisher,
		store:     store,
		policy:    policy,
		interval:  interval,
		logger:    logger,
		metrics:   metrics,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the worker loop until Stop or context cancellation
func (w *RetryWorker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.ProcessPending(ctx)
			}
		}
	}()
}

// Stop terminates the worker loop
func (w *RetryWorker) Stop() {
	close(w.stopCh)
}

// ProcessPending retries every due delivery once
func (w *RetryWorker) ProcessPending(ctx context.Context) {
	for _, entry := range w.store.PendingRetries(time.Now()) {
		w.retry(ctx, entry)
	}
}

// retry makes one attempt for a due delivery
func (w *RetryWorker) retry(ctx context.Context, entry DeliveryLog) {
	attempts := w.store.IncrementAttempts(entry.ID)
	w.metrics.NotifyRetriesTotal.Inc()

	err := w.publisher.Deliver(ctx, entry.Payload)
	if err == nil {
		w.store.MarkSuccess(entry.ID)
		return
	}

	if !w.policy.ShouldRetry(attempts) {
		w.store.MarkFailed(entry.ID, err)
		w.logger.WithError(err).WithFields(map[string]interface{}{
			"delivery_id": entry.ID,
			"attempts":    attempts,
		}).Error("event delivery abandoned")
		return
	}

	w.store.MarkRetrying(entry.ID, err, time.Now().Add(w.policy.NextRetryDelay(attempts)))
}
