package retry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"karbon/pkg/platform/sentinel"
)

// QueueStatus is the review state of a queued operation.
type QueueStatus string

const (
	QueueStatusPending  QueueStatus = "pending"
	QueueStatusResolved QueueStatus = "resolved"
)

// QueuedOperation is an anchoring call that exhausted retries (or was
// short-circuited in fallback mode) and now awaits manual review.
//
// The queue is process-local and not durable across restarts. Known
// limitation: operations queued before a crash must be replayed from the
// failure logs.
type QueuedOperation struct {
	ID            string
	Kind          OperationKind
	Name          string
	CreditID      string
	PayloadDigest string
	// SignedPayload is retained for submissions tripped in fallback mode so a
	// later resubmission needs no re-signing.
	SignedPayload []byte
	Error         string
	Attempts      int
	Status        QueueStatus
	CreatedAt     time.Time
	ResolvedAt    time.Time

	// run re-executes the original call. Process-local by nature.
	run func(ctx context.Context) (string, error)
}

// Queue holds operations pending manual resolution.
type Queue struct {
	mu  sync.RWMutex
	ops map[string]*QueuedOperation
}

// NewQueue creates an empty manual-review queue.
func NewQueue() *Queue {
	return &Queue{ops: make(map[string]*QueuedOperation)}
}

func (q *Queue) enqueue(op Operation, attempts int, cause error) *QueuedOperation {
	entry := &QueuedOperation{
		ID:            uuid.NewString(),
		Kind:          op.Kind,
		Name:          op.Name,
		CreditID:      op.CreditID,
		PayloadDigest: digest(op.SignedPayload),
		SignedPayload: op.SignedPayload,
		Error:         cause.Error(),
		Attempts:      attempts,
		Status:        QueueStatusPending,
		CreatedAt:     time.Now(),
		run:           op.Do,
	}
	q.mu.Lock()
	q.ops[entry.ID] = entry
	q.mu.Unlock()
	return entry
}

// List returns queued operations, pending first, newest first within status.
func (q *Queue) List() []*QueuedOperation {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*QueuedOperation, 0, len(q.ops))
	for _, op := range q.ops {
		cp := *op
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Status != out[j].Status {
			return out[i].Status == QueueStatusPending
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Get returns a queued operation by id.
func (q *Queue) Get(id string) (*QueuedOperation, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	op, ok := q.ops[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *op
	return &cp, nil
}

// Resolve marks a queued operation handled out of band.
func (q *Queue) Resolve(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	op, ok := q.ops[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if op.Status == QueueStatusResolved {
		return sentinel.ErrInvalidState
	}
	op.Status = QueueStatusResolved
	op.ResolvedAt = time.Now()
	return nil
}

func (q *Queue) markResolved(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if op, ok := q.ops[id]; ok {
		op.Status = QueueStatusResolved
		op.ResolvedAt = time.Now()
	}
}

func (q *Queue) recordAttempt(id string, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if op, ok := q.ops[id]; ok {
		op.Attempts++
		op.Error = cause.Error()
	}
}

func digest(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
