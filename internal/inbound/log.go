package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/physio-messaging/internal/store"
	"github.com/wolfman30/physio-messaging/pkg/logging"
)

// IncomingMessage is one inbound user message as received from the carrier.
type IncomingMessage struct {
	ID          string          `json:"id"`
	From        string          `json:"from"`
	ContactName string          `json:"contactName,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Type        string          `json:"type"`
	Content     json.RawMessage `json:"content,omitempty"`
	Text        string          `json:"text,omitempty"`
	TenantID    string          `json:"tenantId"`
	PatientID   string          `json:"patientId,omitempty"`
	Processed   bool            `json:"processed"`
	ReceivedAt  time.Time       `json:"receivedAt"`
}

// ErrMissingID rejects messages without a carrier message id.
var ErrMissingID = errors.New("inbound: message id required")

// Log is the append-only inbound message log. Entries are keyed by carrier
// message id, so webhook redeliveries are recognised and dropped. Changes are
// written to the store by Flush, not on every append.
type Log struct {
	store  store.Store
	logger *logging.Logger

	mu         sync.Mutex
	byID       map[string]*IncomingMessage
	order      []string
	dirty      bool
	loadFailed bool

	persistMu sync.Mutex
}

func NewLog(st store.Store, logger *logging.Logger) *Log {
	if logger == nil {
		logger = logging.Default()
	}
	return &Log{store: st, logger: logger, byID: make(map[string]*IncomingMessage)}
}

// Append stores msg unless its id was seen before. added is false for
// duplicates.
func (l *Log) Append(_ context.Context, msg IncomingMessage) (bool, error) {
	if msg.ID == "" {
		return false, ErrMissingID
	}
	l.mu.Lock()
	if _, exists := l.byID[msg.ID]; exists {
		l.mu.Unlock()
		return false, nil
	}
	msg.Content = append(json.RawMessage(nil), msg.Content...)
	l.byID[msg.ID] = &msg
	l.order = append(l.order, msg.ID)
	l.dirty = true
	l.mu.Unlock()
	return true, nil
}

// MarkProcessed flags a message as handled. It only succeeds once.
func (l *Log) MarkProcessed(_ context.Context, id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg, ok := l.byID[id]
	if !ok || msg.Processed {
		return false
	}
	msg.Processed = true
	l.dirty = true
	return true
}

// Get returns a message only if it belongs to tenantID.
func (l *Log) Get(tenantID, id string) (IncomingMessage, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg, ok := l.byID[id]
	if !ok || msg.TenantID != tenantID {
		return IncomingMessage{}, false
	}
	return *msg, true
}

// ListByTenant returns tenantID's messages, newest first. limit <= 0 means all.
func (l *Log) ListByTenant(tenantID string, limit int) []IncomingMessage {
	l.mu.Lock()
	out := make([]IncomingMessage, 0)
	for _, id := range l.order {
		if msg := l.byID[id]; msg.TenantID == tenantID {
			out = append(out, *msg)
		}
	}
	l.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Len reports the number of logged messages.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// Load replaces the log with its persisted copy. After a failed Load the log
// refuses to flush until a later Load succeeds.
func (l *Log) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	var saved []IncomingMessage
	found, err := store.LoadJSON(ctx, l.store, store.KeyInboundMessages, &saved)
	if err != nil {
		l.mu.Lock()
		l.loadFailed = true
		l.mu.Unlock()
		return fmt.Errorf("inbound: load: %w", err)
	}
	if !found {
		l.mu.Lock()
		l.loadFailed = false
		l.mu.Unlock()
		return nil
	}
	byID := make(map[string]*IncomingMessage, len(saved))
	order := make([]string, 0, len(saved))
	for i := range saved {
		msg := saved[i]
		if _, dup := byID[msg.ID]; dup {
			continue
		}
		byID[msg.ID] = &msg
		order = append(order, msg.ID)
	}
	l.mu.Lock()
	l.byID = byID
	l.order = order
	l.dirty = false
	l.loadFailed = false
	l.mu.Unlock()
	return nil
}

// Flush saves the log when it changed since the last flush.
func (l *Log) Flush(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	l.mu.Lock()
	if l.loadFailed {
		l.mu.Unlock()
		return fmt.Errorf("inbound: flush: %w", store.ErrLoadFailed)
	}
	if !l.dirty {
		l.mu.Unlock()
		return nil
	}
	snapshot := make([]IncomingMessage, 0, len(l.order))
	for _, id := range l.order {
		snapshot = append(snapshot, *l.byID[id])
	}
	l.dirty = false
	l.mu.Unlock()

	if err := store.SaveJSON(ctx, l.store, store.KeyInboundMessages, snapshot); err != nil {
		l.mu.Lock()
		l.dirty = true
		l.mu.Unlock()
		return fmt.Errorf("inbound: flush: %w", err)
	}
	l.logger.Debug("inbound log flushed", "messages", len(snapshot))
	return nil
}
