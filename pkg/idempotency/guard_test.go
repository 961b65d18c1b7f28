package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallylabs/creditcore/pkg/event"
)

func traceEnvelope(t *testing.T, traceID string) *event.Envelope {
	t.Helper()
	opts := []event.Option{event.WithTenantID("tenant-a")}
	if traceID != "" {
		opts = append(opts, event.WithTraceID(traceID))
	}
	env, err := event.New(event.TypeCreditConsumed,
		event.CreditConsumed{EntityID: "agent-1", AmountMinor: 100}, opts...)
	require.NoError(t, err)
	if traceID == "" {
		env.TraceID = ""
	}
	return env
}

func TestGuardShouldProcess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	guard := NewGuard(store, nil)

	env := traceEnvelope(t, "trace-1")

	t.Run("first delivery wins", func(t *testing.T) {
		ok, err := guard.ShouldProcess(ctx, "projection-manager", env)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, store.Has("projection-manager", "trace-1"))
	})

	t.Run("redelivery is refused", func(t *testing.T) {
		ok, err := guard.ShouldProcess(ctx, "projection-manager", env)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("markers are scoped per subscriber", func(t *testing.T) {
		ok, err := guard.ShouldProcess(ctx, "audit-export", env)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestGuardFailsOpenWithoutTraceID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	guard := NewGuard(store, nil)

	env := traceEnvelope(t, "")

	// Every delivery of a trace-less envelope is processed, never marked.
	for i := 0; i < 2; i++ {
		ok, err := guard.ShouldProcess(ctx, "projection-manager", env)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.False(t, store.Has("projection-manager", ""))
}

func TestGuardRollback(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	guard := NewGuard(store, nil)

	env := traceEnvelope(t, "trace-2")

	ok, err := guard.ShouldProcess(ctx, "projection-manager", env)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, guard.Rollback(ctx, "projection-manager", env))
	assert.False(t, store.Has("projection-manager", "trace-2"))

	// The pair is eligible again after rollback.
	ok, err = guard.ShouldProcess(ctx, "projection-manager", env)
	require.NoError(t, err)
	assert.True(t, ok)
}

type failingStore struct{}

func (failingStore) Insert(ctx context.Context, m Marker) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingStore) Delete(ctx context.Context, subscriberName, traceID string) error {
	return errors.New("connection refused")
}

func TestGuardStoreErrors(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(failingStore{}, nil)
	env := traceEnvelope(t, "trace-3")

	ok, err := guard.ShouldProcess(ctx, "projection-manager", env)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "insert marker")

	err = guard.Rollback(ctx, "projection-manager", env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete marker")
}

func TestMemoryStoreConcurrentInsert(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		errs []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := store.Insert(ctx, Marker{
				SubscriberName: "projection-manager",
				TraceID:        "trace-racy",
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if inserted {
				wins++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, wins)
}
