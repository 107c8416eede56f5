// Package analytics keeps per-tenant, per-day message counters.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/physio-messaging/internal/messaging"
	"github.com/wolfman30/physio-messaging/internal/store"
	"github.com/wolfman30/physio-messaging/pkg/logging"
)

// DateLayout is the format of MessageAnalytics.Date.
const DateLayout = "2006-01-02"

// Kind names a counter.
type Kind string

const (
	// Sent and Failed come from the dispatcher: the gateway accepted or refused the send.
	KindSent   Kind = "sent"
	KindFailed Kind = "failed"
	// Carrier-reported statuses from webhooks.
	KindCarrierSent   Kind = "carrier_sent"
	KindDelivered     Kind = "delivered"
	KindRead          Kind = "read"
	KindCarrierFailed Kind = "carrier_failed"
	// Inbound traffic.
	KindReceived    Kind = "received"
	KindBotResolved Kind = "bot_resolved"
)

// ErrUnknownKind is returned for counters the aggregator does not track.
var ErrUnknownKind = errors.New("analytics: unknown counter kind")

// MessageAnalytics is the counter record for one tenant and day.
type MessageAnalytics struct {
	TenantID          string  `json:"tenantId"`
	Date              string  `json:"date"`
	Sent              int64   `json:"sent"`
	Delivered         int64   `json:"delivered"`
	Read              int64   `json:"read"`
	Failed            int64   `json:"failed"`
	CarrierSent       int64   `json:"carrierSent"`
	CarrierFailed     int64   `json:"carrierFailed"`
	Received          int64   `json:"received"`
	BotResolved       int64   `json:"botResolved"`
	ResponseRate      float64 `json:"responseRate"`
	BotResolutionRate float64 `json:"botResolutionRate"`
}

func (m *MessageAnalytics) counter(kind Kind) *int64 {
	switch kind {
	case KindSent:
		return &m.Sent
	case KindFailed:
		return &m.Failed
	case KindCarrierSent:
		return &m.CarrierSent
	case KindDelivered:
		return &m.Delivered
	case KindRead:
		return &m.Read
	case KindCarrierFailed:
		return &m.CarrierFailed
	case KindReceived:
		return &m.Received
	case KindBotResolved:
		return &m.BotResolved
	}
	return nil
}

func (m MessageAnalytics) withRates() MessageAnalytics {
	m.ResponseRate = ratio(m.Received, m.Sent)
	m.BotResolutionRate = ratio(m.BotResolved, m.Received)
	return m
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Period is an inclusive range of YYYY-MM-DD dates. Empty bounds are open.
type Period struct {
	From string
	To   string
}

// Day is the single-day period for date.
func Day(date string) Period { return Period{From: date, To: date} }

func (p Period) contains(date string) bool {
	if p.From != "" && date < p.From {
		return false
	}
	if p.To != "" && date > p.To {
		return false
	}
	return true
}

type recordKey struct {
	tenantID string
	date     string
}

// Aggregator maintains the analytics table. Records are created on first
// increment and only ever grow.
type Aggregator struct {
	store  store.Store
	clock  messaging.Clock
	loc    *time.Location
	logger *logging.Logger

	mu      sync.Mutex
	records    map[recordKey]*MessageAnalytics
	dirty      bool
	loadFailed bool

	persistMu sync.Mutex
}

// NewAggregator builds an aggregator. A nil store disables persistence and
// a nil location means UTC.
func NewAggregator(st store.Store, clock messaging.Clock, loc *time.Location, logger *logging.Logger) *Aggregator {
	if clock == nil {
		clock = messaging.SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Aggregator{
		store:   st,
		clock:   clock,
		loc:     loc,
		logger:  logger,
		records: make(map[recordKey]*MessageAnalytics),
	}
}

// DateFor formats t as a day in the aggregator's location.
func (a *Aggregator) DateFor(t time.Time) string {
	return t.In(a.loc).Format(DateLayout)
}

// Today is the current day in the aggregator's location.
func (a *Aggregator) Today() string {
	return a.DateFor(a.clock.Now())
}

// Increment adds one to the kind counter of (tenantID, date).
func (a *Aggregator) Increment(tenantID, date string, kind Kind) error {
	if tenantID == "" {
		tenantID = messaging.DefaultTenant
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("analytics: invalid date %q: %w", date, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	key := recordKey{tenantID: tenantID, date: date}
	rec, ok := a.records[key]
	if !ok {
		rec = &MessageAnalytics{TenantID: tenantID, Date: date}
	}
	c := rec.counter(kind)
	if c == nil {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	*c++
	a.records[key] = rec
	a.dirty = true
	return nil
}

// IncrementNow increments kind for tenantID on today's date.
func (a *Aggregator) IncrementNow(tenantID string, kind Kind) error {
	return a.Increment(tenantID, a.Today(), kind)
}

// Snapshot returns tenantID's records within period, ordered by date.
func (a *Aggregator) Snapshot(tenantID string, period Period) []MessageAnalytics {
	a.mu.Lock()
	out := make([]MessageAnalytics, 0)
	for key, rec := range a.records {
		if key.tenantID != tenantID || !period.contains(key.date) {
			continue
		}
		out = append(out, rec.withRates())
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Totals sums a tenant's records over period.
func (a *Aggregator) Totals(tenantID string, period Period) MessageAnalytics {
	total := MessageAnalytics{TenantID: tenantID, Date: period.From}
	for _, rec := range a.Snapshot(tenantID, period) {
		total.Sent += rec.Sent
		total.Delivered += rec.Delivered
		total.Read += rec.Read
		total.Failed += rec.Failed
		total.CarrierSent += rec.CarrierSent
		total.CarrierFailed += rec.CarrierFailed
		total.Received += rec.Received
		total.BotResolved += rec.BotResolved
	}
	return total.withRates()
}

func (a *Aggregator) all() []MessageAnalytics {
	out := make([]MessageAnalytics, 0, len(a.records))
	for _, rec := range a.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].Date < out[j].Date
	})
	return out
}

// Flush saves the table when it changed since the last flush.
func (a *Aggregator) Flush(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	a.persistMu.Lock()
	defer a.persistMu.Unlock()

	a.mu.Lock()
	if a.loadFailed {
		a.mu.Unlock()
		return fmt.Errorf("analytics: flush: %w", store.ErrLoadFailed)
	}
	if !a.dirty {
		a.mu.Unlock()
		return nil
	}
	snapshot := a.all()
	a.dirty = false
	a.mu.Unlock()

	if err := store.SaveJSON(ctx, a.store, store.KeyAnalytics, snapshot); err != nil {
		a.mu.Lock()
		a.dirty = true
		a.mu.Unlock()
		return fmt.Errorf("analytics: flush: %w", err)
	}
	a.logger.Debug("analytics flushed", "records", len(snapshot))
	return nil
}

// Load replaces the in-memory table with the persisted one. A failed Load
// blocks Flush until a later Load succeeds.
func (a *Aggregator) Load(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	var saved []MessageAnalytics
	found, err := store.LoadJSON(ctx, a.store, store.KeyAnalytics, &saved)
	if err != nil {
		a.mu.Lock()
		a.loadFailed = true
		a.mu.Unlock()
		return fmt.Errorf("analytics: load: %w", err)
	}
	if !found {
		a.mu.Lock()
		a.loadFailed = false
		a.mu.Unlock()
		return nil
	}
	records := make(map[recordKey]*MessageAnalytics, len(saved))
	for i := range saved {
		rec := saved[i]
		records[recordKey{tenantID: rec.TenantID, date: rec.Date}] = &rec
	}
	a.mu.Lock()
	a.records = records
	a.dirty = false
	a.loadFailed = false
	a.mu.Unlock()
	return nil
}
