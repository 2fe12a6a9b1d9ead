// Package notify publishes permission and post change events over redis
// pub/sub. Publishing is best-effort and never fails the caller; failed
// deliveries land in an in-memory delivery log that a retry worker
// re-drives with exponential backoff, and a cron job prunes completed
// entries. Consumers must be idempotent, delivery is at-least-once.
package notify
