// Package scheduling holds the durable queue of scheduled outbound messages.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/physio-messaging/internal/messaging"
	"github.com/wolfman30/physio-messaging/internal/store"
	"github.com/wolfman30/physio-messaging/pkg/logging"
)

var (
	ErrTenantRequired = errors.New("scheduling: tenant id required")
	ErrDuplicateID    = errors.New("scheduling: message id already exists")
)

// messageKey scopes ids to their tenant; two tenants may use the same id.
type messageKey struct {
	tenantID string
	id       string
}

// Queue owns every scheduled message. All mutations are serialized by one
// mutex; messages are never removed.
type Queue struct {
	store  store.Store
	clock  messaging.Clock
	logger *logging.Logger

	mu      sync.Mutex
	byKey   map[messageKey]*ScheduledMessage
	order   []messageKey
	claimed map[messageKey]struct{}
	// loadFailed blocks persisting until a Load succeeds.
	loadFailed bool

	persistMu sync.Mutex
}

// NewQueue builds an empty queue. A nil store keeps the queue in memory only.
func NewQueue(st store.Store, clock messaging.Clock, logger *logging.Logger) *Queue {
	if clock == nil {
		clock = messaging.SystemClock{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Queue{
		store:   st,
		clock:   clock,
		logger:  logger,
		byKey:   make(map[messageKey]*ScheduledMessage),
		claimed: make(map[messageKey]struct{}),
	}
}

// Enqueue adds msg as pending and persists the queue. Ids are unique per
// tenant. The message stays queued even if persisting fails; the error is
// still returned.
func (q *Queue) Enqueue(ctx context.Context, msg ScheduledMessage) (string, error) {
	msg.TenantID = strings.TrimSpace(msg.TenantID)
	if msg.TenantID == "" {
		return "", ErrTenantRequired
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := q.clock.Now()
	msg.Status = StatusPending
	msg.CreatedAt = now
	msg.UpdatedAt = now
	msg.DeliveryID = ""
	msg.LastError = ""
	msg.ScheduledFor = msg.ScheduledFor.UTC()

	key := messageKey{tenantID: msg.TenantID, id: msg.ID}
	q.mu.Lock()
	if _, exists := q.byKey[key]; exists {
		q.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
	}
	stored := msg.clone()
	q.byKey[key] = &stored
	q.order = append(q.order, key)
	q.mu.Unlock()

	if err := q.persist(ctx); err != nil {
		return msg.ID, err
	}
	return msg.ID, nil
}

// Cancel moves tenantID's pending message id to cancelled. It returns false
// when the message is unknown or already terminal. Cancelling a claimed
// message does not stop its in-flight delivery.
func (q *Queue) Cancel(ctx context.Context, tenantID, id string) bool {
	key := messageKey{tenantID: tenantID, id: id}
	q.mu.Lock()
	msg, ok := q.byKey[key]
	if !ok || msg.Status != StatusPending {
		q.mu.Unlock()
		return false
	}
	msg.Status = StatusCancelled
	msg.UpdatedAt = q.clock.Now()
	delete(q.claimed, key)
	q.mu.Unlock()

	if err := q.persist(ctx); err != nil {
		q.logger.Error("scheduling: persist after cancel failed", "id", id, "error", err)
	}
	return true
}

// Due claims and returns every unclaimed pending message scheduled at or
// before now, across all tenants. Order is unspecified.
func (q *Queue) Due(now time.Time) []ScheduledMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []ScheduledMessage
	for _, key := range q.order {
		msg := q.byKey[key]
		if msg.Status != StatusPending || msg.ScheduledFor.After(now) {
			continue
		}
		if _, busy := q.claimed[key]; busy {
			continue
		}
		q.claimed[key] = struct{}{}
		out = append(out, msg.clone())
	}
	return out
}

// MarkResult records the outcome of dispatching tenantID's message id. Only
// pending messages transition; repeated or late calls are no-ops returning
// false.
func (q *Queue) MarkResult(ctx context.Context, tenantID, id string, outcome Outcome) bool {
	key := messageKey{tenantID: tenantID, id: id}
	q.mu.Lock()
	msg, ok := q.byKey[key]
	if !ok || msg.Status != StatusPending {
		delete(q.claimed, key)
		q.mu.Unlock()
		return false
	}
	if outcome.Success {
		msg.Status = StatusSent
		msg.DeliveryID = outcome.DeliveryID
		msg.LastError = ""
	} else {
		msg.Status = StatusFailed
		msg.LastError = outcome.Error
	}
	msg.UpdatedAt = q.clock.Now()
	delete(q.claimed, key)
	q.mu.Unlock()

	if err := q.persist(ctx); err != nil {
		q.logger.Error("scheduling: persist after result failed", "id", id, "error", err)
	}
	return true
}

// Lookup returns a message only if it belongs to tenantID.
func (q *Queue) Lookup(tenantID, id string) (ScheduledMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.byKey[messageKey{tenantID: tenantID, id: id}]
	if !ok {
		return ScheduledMessage{}, false
	}
	return msg.clone(), true
}

// ListByTenant returns tenantID's messages ordered by ScheduledFor. An empty
// status matches every status.
func (q *Queue) ListByTenant(tenantID string, status Status) []ScheduledMessage {
	q.mu.Lock()
	out := make([]ScheduledMessage, 0)
	for _, key := range q.order {
		if key.tenantID != tenantID {
			continue
		}
		msg := q.byKey[key]
		if status != "" && msg.Status != status {
			continue
		}
		out = append(out, msg.clone())
	}
	q.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledFor.Before(out[j].ScheduledFor)
	})
	return out
}

// Pending counts messages still waiting to be sent.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, msg := range q.byKey {
		if msg.Status == StatusPending {
			n++
		}
	}
	return n
}

// Load replaces the queue with the persisted copy. Claims are in-memory
// only, so pending messages become due again after a restart. After a
// failed Load the queue refuses to persist until a later Load succeeds.
func (q *Queue) Load(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	var saved []ScheduledMessage
	found, err := store.LoadJSON(ctx, q.store, store.KeyScheduledMessages, &saved)
	if err != nil {
		q.mu.Lock()
		q.loadFailed = true
		q.mu.Unlock()
		return fmt.Errorf("scheduling: load: %w", err)
	}
	if !found {
		q.mu.Lock()
		q.loadFailed = false
		q.mu.Unlock()
		return nil
	}
	byKey := make(map[messageKey]*ScheduledMessage, len(saved))
	order := make([]messageKey, 0, len(saved))
	for i := range saved {
		msg := saved[i]
		if msg.ID == "" {
			continue
		}
		key := messageKey{tenantID: msg.TenantID, id: msg.ID}
		if _, dup := byKey[key]; dup {
			continue
		}
		byKey[key] = &msg
		order = append(order, key)
	}
	q.mu.Lock()
	q.byKey = byKey
	q.order = order
	q.claimed = make(map[messageKey]struct{})
	q.loadFailed = false
	q.mu.Unlock()
	q.logger.Info("scheduling: queue restored", "messages", len(order))
	return nil
}

// persist writes a fresh snapshot. The snapshot is taken while holding
// persistMu so saves land in the order their snapshots were taken.
func (q *Queue) persist(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()
	if q.loadFailed {
		q.mu.Unlock()
		return fmt.Errorf("scheduling: persist: %w", store.ErrLoadFailed)
	}
	snapshot := make([]ScheduledMessage, 0, len(q.order))
	for _, key := range q.order {
		snapshot = append(snapshot, q.byKey[key].clone())
	}
	q.mu.Unlock()

	if err := store.SaveJSON(ctx, q.store, store.KeyScheduledMessages, snapshot); err != nil {
		return fmt.Errorf("scheduling: persist: %w", err)
	}
	return nil
}
