package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/physio-messaging/internal/messaging"
	"github.com/wolfman30/physio-messaging/internal/store"
	"github.com/wolfman30/physio-messaging/pkg/logging"
)

var baseTime = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type failingStore struct{}

func (failingStore) Load(context.Context, string) ([]byte, error) { return nil, store.ErrNotFound }
func (failingStore) Save(context.Context, string, []byte) error    { return errors.New("disk full") }

func newTestQueue(st store.Store) (*Queue, *messaging.ManualClock) {
	clock := messaging.NewManualClock(baseTime)
	return NewQueue(st, clock, logging.Discard()), clock
}

func textMessage(tenantID string, at time.Time) ScheduledMessage {
	return ScheduledMessage{
		TenantID:     tenantID,
		PatientID:    "p1",
		ScheduledFor: at,
		Message:      messaging.LogicalMessage{Kind: messaging.KindText, To: "11999887766", Text: "hello"},
	}
}

func TestEnqueueAssignsIDAndPending(t *testing.T) {
	q, _ := newTestQueue(nil)
	id, err := q.Enqueue(context.Background(), textMessage("t1", baseTime.Add(time.Hour)))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msg, ok := q.Lookup("t1", id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, msg.Status)
	assert.Equal(t, baseTime, msg.CreatedAt)
	assert.Equal(t, 1, q.Pending())
}

func TestEnqueueKeepsCallerID(t *testing.T) {
	q, _ := newTestQueue(nil)
	msg := textMessage("t1", baseTime)
	msg.ID = "fixed"
	msg.Status = StatusSent
	id, err := q.Enqueue(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "fixed", id)
	got, _ := q.Lookup("t1", "fixed")
	assert.Equal(t, StatusPending, got.Status)

	_, err = q.Enqueue(context.Background(), msg)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestCallerIDsAreScopedPerTenant(t *testing.T) {
	q, _ := newTestQueue(nil)
	ctx := context.Background()
	a := textMessage("clinic-a", baseTime)
	a.ID = "appt-42-reminder"
	b := textMessage("clinic-b", baseTime)
	b.ID = "appt-42-reminder"

	_, err := q.Enqueue(ctx, a)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 2, q.Pending())

	require.True(t, q.Cancel(ctx, "clinic-b", "appt-42-reminder"))
	gotA, _ := q.Lookup("clinic-a", "appt-42-reminder")
	gotB, _ := q.Lookup("clinic-b", "appt-42-reminder")
	assert.Equal(t, StatusPending, gotA.Status)
	assert.Equal(t, StatusCancelled, gotB.Status)

	due := q.Due(baseTime)
	require.Len(t, due, 1)
	assert.Equal(t, "clinic-a", due[0].TenantID)
	assert.False(t, q.MarkResult(ctx, "clinic-b", "appt-42-reminder", Outcome{Success: true}))
	assert.True(t, q.MarkResult(ctx, "clinic-a", "appt-42-reminder", Outcome{Success: true}))
}

func TestEnqueueRequiresTenant(t *testing.T) {
	q, _ := newTestQueue(nil)
	_, err := q.Enqueue(context.Background(), textMessage("  ", baseTime))
	assert.ErrorIs(t, err, ErrTenantRequired)
}

func TestEnqueuePersistFailureStillQueues(t *testing.T) {
	q, _ := newTestQueue(failingStore{})
	id, err := q.Enqueue(context.Background(), textMessage("t1", baseTime))
	require.Error(t, err)
	_, ok := q.Lookup("t1", id)
	assert.True(t, ok)
}

func TestDueBoundary(t *testing.T) {
	q, _ := newTestQueue(nil)
	ctx := context.Background()
	exact, _ := q.Enqueue(ctx, textMessage("t1", baseTime))
	_, _ = q.Enqueue(ctx, textMessage("t1", baseTime.Add(time.Nanosecond)))
	earlier, _ := q.Enqueue(ctx, textMessage("t2", baseTime.Add(-time.Minute)))

	due := q.Due(baseTime)
	ids := map[string]bool{}
	for _, m := range due {
		ids[m.ID] = true
		assert.False(t, m.ScheduledFor.After(baseTime))
	}
	assert.Len(t, due, 2)
	assert.True(t, ids[exact])
	assert.True(t, ids[earlier])
}

func TestDueClaimsMessages(t *testing.T) {
	q, _ := newTestQueue(nil)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, textMessage("t1", baseTime))

	require.Len(t, q.Due(baseTime), 1)
	assert.Empty(t, q.Due(baseTime.Add(time.Hour)), "claimed message must not be returned twice")

	require.True(t, q.MarkResult(ctx, "t1", id, Outcome{Success: true, DeliveryID: "wamid.1"}))
	assert.Empty(t, q.Due(baseTime.Add(time.Hour)))
}

func TestDueSkipsTerminal(t *testing.T) {
	q, _ := newTestQueue(nil)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, textMessage("t1", baseTime))
	require.True(t, q.Cancel(ctx, "t1", id))
	assert.Empty(t, q.Due(baseTime))
}

func TestMarkResultIdempotent(t *testing.T) {
	q, _ := newTestQueue(nil)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, textMessage("t1", baseTime))
	q.Due(baseTime)

	assert.True(t, q.MarkResult(ctx, "t1", id, Outcome{Success: false, Error: "boom"}))
	assert.False(t, q.MarkResult(ctx, "t1", id, Outcome{Success: false, Error: "boom"}))
	assert.False(t, q.MarkResult(ctx, "t1", id, Outcome{Success: true, DeliveryID: "x"}))

	msg, _ := q.Lookup("t1", id)
	assert.Equal(t, StatusFailed, msg.Status)
	assert.Equal(t, "boom", msg.LastError)
	assert.Empty(t, msg.DeliveryID)
	assert.False(t, q.MarkResult(ctx, "t1", "unknown", Outcome{Success: true}))
}

func TestCancelAfterSent(t *testing.T) {
	q, _ := newTestQueue(nil)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, textMessage("t1", baseTime))
	q.Due(baseTime)
	require.True(t, q.MarkResult(ctx, "t1", id, Outcome{Success: true, DeliveryID: "wamid.1"}))

	assert.False(t, q.Cancel(ctx, "t1", id))
	msg, _ := q.Lookup("t1", id)
	assert.Equal(t, StatusSent, msg.Status)
	assert.Equal(t, "wamid.1", msg.DeliveryID)
	assert.False(t, q.Cancel(ctx, "t1", "missing"))
}

func TestCancelClaimedMessageWinsOverLateResult(t *testing.T) {
	q, _ := newTestQueue(nil)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, textMessage("t1", baseTime))
	require.Len(t, q.Due(baseTime), 1)

	require.True(t, q.Cancel(ctx, "t1", id))
	assert.False(t, q.MarkResult(ctx, "t1", id, Outcome{Success: true, DeliveryID: "late"}))
	msg, _ := q.Lookup("t1", id)
	assert.Equal(t, StatusCancelled, msg.Status)
	assert.Empty(t, q.Due(baseTime))
}

func TestTenantIsolation(t *testing.T) {
	q, clock := newTestQueue(nil)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, textMessage("t1", baseTime.Add(2*time.Hour)))
	clock.Advance(time.Minute)
	_, _ = q.Enqueue(ctx, textMessage("t1", baseTime.Add(time.Hour)))
	_, _ = q.Enqueue(ctx, textMessage("t2", baseTime))

	_, ok := q.Lookup("t2", id)
	assert.False(t, ok)

	list := q.ListByTenant("t1", "")
	require.Len(t, list, 2)
	assert.True(t, list[0].ScheduledFor.Before(list[1].ScheduledFor))
	for _, m := range list {
		assert.Equal(t, "t1", m.TenantID)
	}
	assert.Len(t, q.ListByTenant("t2", StatusPending), 1)
	assert.Empty(t, q.ListByTenant("t2", StatusSent))
}

func TestLookupReturnsCopy(t *testing.T) {
	q, _ := newTestQueue(nil)
	msg := textMessage("t1", baseTime)
	msg.Message = messaging.LogicalMessage{
		Kind:     messaging.KindTemplate,
		To:       "11999887766",
		Template: &messaging.TemplateRef{Name: "exercise_reminder", Params: []string{"Ana"}},
	}
	id, _ := q.Enqueue(context.Background(), msg)
	got, _ := q.Lookup("t1", id)
	got.Message.Template.Params[0] = "mutated"
	again, _ := q.Lookup("t1", id)
	assert.Equal(t, "Ana", again.Message.Template.Params[0])
}

func TestConcurrentDueNeverDoubleClaims(t *testing.T) {
	q, _ := newTestQueue(nil)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		_, _ = q.Enqueue(ctx, textMessage("t1", baseTime))
	}
	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, m := range q.Due(baseTime) {
				mu.Lock()
				seen[m.ID]++
				mu.Unlock()
				q.MarkResult(ctx, m.TenantID, m.ID, Outcome{Success: true})
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
	for id, n := range seen {
		assert.Equal(t, 1, n, "message %s claimed %d times", id, n)
	}
	assert.Equal(t, 0, q.Pending())
}

func TestPersistAndLoad(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	q, _ := newTestQueue(st)

	msg := textMessage("t1", baseTime)
	msg.Message.Interactive = json.RawMessage(`{"type":"button"}`)
	id, err := q.Enqueue(ctx, msg)
	require.NoError(t, err)
	sentID, _ := q.Enqueue(ctx, textMessage("t1", baseTime))
	q.Due(baseTime)
	q.MarkResult(ctx, "t1", sentID, Outcome{Success: true, DeliveryID: "wamid.2"})

	restored, _ := newTestQueue(st)
	require.NoError(t, restored.Load(ctx))
	got, ok := restored.Lookup("t1", id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, got.Status)
	assert.JSONEq(t, `{"type":"button"}`, string(got.Message.Interactive))

	sent, _ := restored.Lookup("t1", sentID)
	assert.Equal(t, StatusSent, sent.Status)

	due := restored.Due(baseTime)
	require.Len(t, due, 1, "claims do not survive a restart")
	assert.Equal(t, id, due[0].ID)
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus("sent")
	assert.True(t, ok)
	assert.Equal(t, StatusSent, s)
	_, ok = ParseStatus("queued")
	assert.False(t, ok)
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())
}

// unreachableStore fails Load while down is set.
type unreachableStore struct {
	*store.MemoryStore
	down bool
}

func (s *unreachableStore) Load(ctx context.Context, key string) ([]byte, error) {
	if s.down {
		return nil, errors.New("redis: connection refused")
	}
	return s.MemoryStore.Load(ctx, key)
}

func TestFailedLoadNeverOverwritesStoredQueue(t *testing.T) {
	ctx := context.Background()
	st := &unreachableStore{MemoryStore: store.NewMemoryStore()}
	q, _ := newTestQueue(st)
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, textMessage("t1", baseTime))
		require.NoError(t, err)
	}

	st.down = true
	restarted, _ := newTestQueue(st)
	require.Error(t, restarted.Load(ctx))
	id, err := restarted.Enqueue(ctx, textMessage("t1", baseTime))
	assert.ErrorIs(t, err, store.ErrLoadFailed)
	assert.NotEmpty(t, id)

	st.down = false
	check, _ := newTestQueue(st)
	require.NoError(t, check.Load(ctx))
	assert.Len(t, check.ListByTenant("t1", ""), 3)

	require.NoError(t, restarted.Load(ctx))
	_, err = restarted.Enqueue(ctx, textMessage("t1", baseTime))
	require.NoError(t, err)
	require.NoError(t, check.Load(ctx))
	assert.Len(t, check.ListByTenant("t1", ""), 4)
}
