package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus represents the state of one event delivery
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "pending"
	DeliveryStatusSuccess  DeliveryStatus = "success"
	DeliveryStatusFailed   DeliveryStatus = "failed"
	DeliveryStatusRetrying DeliveryStatus = "retrying"
)

// DeliveryLog records one event publish and its retry state
type DeliveryLog struct {
	ID          string         `json:"id"`
	EventKind   string         `json:"event_kind"`
	PostID      uuid.UUID      `json:"post_id"`
	Payload     []byte         `json:"payload"`
	Status      DeliveryStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	LastError   string         `json:"last_error,omitempty"`
	NextRetryAt *time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// DeliveryLogStore keeps delivery logs in memory, bounded by maxLogs
type DeliveryLogStore struct {
	mu      sync.RWMutex
	logs    map[string]*DeliveryLog
	maxLogs int
}

// NewDeliveryLogStore creates a new delivery log store
func NewDeliveryLogStore(maxLogs int) *DeliveryLogStore {
	if maxLogs <= 0 {
		maxLogs = 1000
	}
	return &DeliveryLogStore{
		logs:    make(map[string]*DeliveryLog),
		maxLogs: maxLogs,
	}
}

// Add records a new delivery, evicting the oldest entry when full
func (s *DeliveryLogStore) Add(log *DeliveryLog) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.logs) >= s.maxLogs {
		s.evictOldest()
	}
	s.logs[log.ID] = log
}

// Get retrieves a delivery log by ID
func (s *DeliveryLogStore) Get(id string) (*DeliveryLog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, exists := s.logs[id]
	return log, exists
}

// MarkSuccess records a completed delivery
func (s *DeliveryLogStore) MarkSuccess(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok := s.logs[id]; ok {
		now := time.Now()
		log.Status = DeliveryStatusSuccess
		log.CompletedAt = &now
		log.NextRetryAt = nil
		log.LastError = ""
	}
}

// MarkRetrying schedules a failed delivery for retry
func (s *DeliveryLogStore) MarkRetrying(id string, deliveryErr error, nextRetryAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok := s.logs[id]; ok {
		log.Status = DeliveryStatusRetrying
		log.LastError = deliveryErr.Error()
		log.NextRetryAt = &nextRetryAt
	}
}

// MarkFailed records a delivery abandoned after exhausting retries
func (s *DeliveryLogStore) MarkFailed(id string, deliveryErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok := s.logs[id]; ok {
		now := time.Now()
		log.Status = DeliveryStatusFailed
		log.LastError = deliveryErr.Error()
		log.NextRetryAt = nil
		log.CompletedAt = &now
	}
}

// IncrementAttempts bumps the attempt counter and returns the new count
func (s *DeliveryLogStore) IncrementAttempts(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok := s.logs[id]; ok {
		log.Attempts++
		return log.Attempts
	}
	return 0
}

// PendingRetries returns copies of the deliveries due for a retry
func (s *DeliveryLogStore) PendingRetries(now time.Time) []DeliveryLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []DeliveryLog
	for _, log := range s.logs {
		if log.Status == DeliveryStatusRetrying && log.NextRetryAt != nil && !log.NextRetryAt.After(now) {
			due = append(due, *log)
		}
	}
	return due
}

// Prune removes completed entries older than the retention age and
// returns how many were dropped.
func (s *DeliveryLogStore) Prune(retentionAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retentionAge)
	pruned := 0
	for id, log := range s.logs {
		done := log.Status == DeliveryStatusSuccess || log.Status == DeliveryStatusFailed
		if done && log.CompletedAt != nil && log.CompletedAt.Before(cutoff) {
			delete(s.logs, id)
			pruned++
		}
	}
	return pruned
}

// Len returns the number of tracked deliveries
func (s *DeliveryLogStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}

// evictOldest removes the oldest completed entry, falling back to the
// oldest overall only when every entry is still in flight. Pending and
// retrying deliveries survive eviction pressure. Caller holds the write
// lock.
func (s *DeliveryLogStore) evictOldest() {
	var oldestID, oldestDoneID string
	var oldestTime, oldestDoneTime time.Time
	for id, log := range s.logs {
		if oldestID == "" || log.CreatedAt.Before(oldestTime) {
			oldestID = id
			oldestTime = log.CreatedAt
		}
		done := log.Status == DeliveryStatusSuccess || log.Status == DeliveryStatusFailed
		if done && (oldestDoneID == "" || log.CreatedAt.Before(oldestDoneTime)) {
			oldestDoneID = id
			oldestDoneTime = log.CreatedAt
		}
	}
	if oldestDoneID != "" {
		delete(s.logs, oldestDoneID)
		return
	}
	if oldestID != "" {
		delete(s.logs, oldestID)
	}
}
