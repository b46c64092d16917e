package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustgate/pkg/requestcontext"
)

// failingStore rejects every append so tests can check the ledger swallows
// persistence failures.
type failingStore struct{}

func (failingStore) Append(context.Context, Event) error { return errors.New("disk full") }
func (failingStore) Query(context.Context, Filter, int) ([]Event, error) {
	return nil, errors.New("disk full")
}

func TestRecord_FillsIdentityFields(t *testing.T) {
	store := NewInMemoryStore()
	ledger := NewLedger(store)

	now := time.Now()
	ctx := requestcontext.WithRequestID(requestcontext.WithTime(context.Background(), now), "req-7")

	id := ledger.Record(ctx, Event{
		ActorSubjectID: "u1",
		Action:         ActionOTCRequest,
		Status:         StatusSuccess,
	})
	require.NotEmpty(t, id)

	events, err := store.Query(ctx, Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].EventID)
	assert.Equal(t, now, events[0].Timestamp)
	assert.Equal(t, "req-7", events[0].RequestID)
}

func TestRecord_NeverFailsCaller(t *testing.T) {
	ledger := NewLedger(failingStore{})

	// Must not panic or surface the store error.
	id := ledger.Record(context.Background(), Event{Action: ActionOTCVerify, Status: StatusFailed})
	assert.NotEmpty(t, id)
}

func TestRecord_AsyncDropsWhenFull(t *testing.T) {
	store := NewInMemoryStore()
	ledger := NewLedger(store, WithAsyncBuffer(1))

	first := ledger.Record(context.Background(), Event{Action: ActionOTCRequest})
	second := ledger.Record(context.Background(), Event{Action: ActionOTCRequest})
	assert.NotEmpty(t, first)
	assert.NotEmpty(t, second, "a full inbox must not block or fail the caller")

	// Only the buffered event survives; nothing was appended synchronously.
	events, err := store.Query(context.Background(), Filter{}, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestQuery_NewestFirstAndFiltered(t *testing.T) {
	store := NewInMemoryStore()
	ledger := NewLedger(store)

	base := time.Now()
	for i, action := range []Action{ActionOTCRequest, ActionOTCVerify, ActionOTCRequest} {
		ledger.Record(context.Background(), Event{
			ActorSubjectID: "u1",
			Action:         action,
			Status:         StatusSuccess,
			Timestamp:      base.Add(time.Duration(i) * time.Second),
		})
	}

	events, err := ledger.Query(context.Background(), Filter{Action: ActionOTCRequest}, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].Timestamp.After(events[1].Timestamp), "newest first")

	limited, err := ledger.Query(context.Background(), Filter{}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestWorker_DrainsInbox(t *testing.T) {
	store := NewInMemoryStore()
	ledger := NewLedger(store, WithAsyncBuffer(16))
	worker := NewWorker(store, ledger.Inbox(), nil)

	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()

	for range 3 {
		ledger.Record(context.Background(), Event{Action: ActionSessionIssued, Status: StatusSuccess})
	}
	ledger.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after inbox close")
	}

	events, err := store.Query(context.Background(), Filter{Action: ActionSessionIssued}, 0)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestFilter_Matches(t *testing.T) {
	event := Event{
		ActorSubjectID: "u1",
		Action:         ActionEscalationApproved,
		TenantID:       "ceoA",
		ResourceType:   "escalation",
		ResourceID:     "e-1",
	}

	assert.True(t, Filter{}.Matches(event))
	assert.True(t, Filter{TenantID: "ceoA", Action: ActionEscalationApproved}.Matches(event))
	assert.False(t, Filter{TenantID: "ceoB"}.Matches(event))
	assert.False(t, Filter{ResourceID: "e-2"}.Matches(event))
}
