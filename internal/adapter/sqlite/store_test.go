package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func record(id string, started time.Time, outcome string) domain.CycleRecord {
	return domain.CycleRecord{
		ID:         id,
		Trigger:    domain.TriggerScheduled,
		RunTime:    time.Date(2024, 10, 15, 6, 0, 0, 0, time.UTC),
		StartedAt:  started,
		FinishedAt: started.Add(42 * time.Second),
		Outcome:    outcome,
		Files:      8,
		Tiles:      40,
	}
}

func TestStore_RecordAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 10, 15, 9, 30, 0, 0, time.UTC)

	first := record("c1", base, domain.OutcomeSuccess)
	first.ReleaseID = "r1"
	second := record("c2", base.Add(6*time.Hour), domain.OutcomeFailed)
	second.Error = "fetch surface/f006: upstream returned status 500"
	second.Trigger = domain.TriggerManual

	require.NoError(t, store.RecordCycle(ctx, first))
	require.NoError(t, store.RecordCycle(ctx, second))

	got, err := store.ListCycles(ctx, 10)
	require.NoError(t, err)
	if diff := cmp.Diff([]domain.CycleRecord{second, first}, got); diff != "" {
		t.Fatalf("cycles mismatch (-want +got):\n%s", diff)
	}

	t.Run("limit", func(t *testing.T) {
		got, err := store.ListCycles(ctx, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "c2", got[0].ID)
	})
}

func TestStore_Validation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	assert.Error(t, store.RecordCycle(ctx, domain.CycleRecord{Outcome: domain.OutcomeSuccess}))
	assert.Error(t, store.RecordCycle(ctx, domain.CycleRecord{ID: "c1"}))
	_, err := store.ListCycles(ctx, 0)
	assert.Error(t, err)

	dup := record("c1", time.Now().UTC(), domain.OutcomeSuccess)
	require.NoError(t, store.RecordCycle(ctx, dup))
	assert.Error(t, store.RecordCycle(ctx, dup), "cycle ids are unique")
}

func TestStore_CancelledContext(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.RecordCycle(ctx, record("c1", time.Now(), domain.OutcomeSuccess)), context.Canceled)
	_, err := store.ListCycles(ctx, 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(" ")
	assert.Error(t, err)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.RecordCycle(context.Background(), record("c1", time.Now().UTC(), domain.OutcomeSuccess)))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.ListCycles(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
