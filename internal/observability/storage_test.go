package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgelimit/internal/storage"
)

type brokenStore struct{ storage.NoopStore }

func (brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, storage.ErrUnavailable
}

func (brokenStore) Ping(context.Context) error { return errors.New("no route to host") }

func newInstrumentedMemory(t *testing.T) *InstrumentedStore {
	t.Helper()
	inner, err := storage.NewMemoryStore(storage.Config{})
	require.NoError(t, err)

	instrumented, err := NewInstrumentedStore(inner, "memory")
	require.NoError(t, err)
	t.Cleanup(func() { instrumented.Close() })
	return instrumented
}

func TestInstrumentedStore_PassesThrough(t *testing.T) {
	setupMetrics(t)
	store := newInstrumentedMemory(t)
	ctx := context.Background()

	_, found, err := store.Get(ctx, "client:1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set(ctx, "client:1", `{"tokens":1,"updatedAt":5}`, time.Minute))

	value, found, err := store.Get(ctx, "client:1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"tokens":1,"updatedAt":5}`, value)

	assert.NoError(t, store.Ping(ctx))
	assert.IsType(t, &storage.MemoryStore{}, store.Unwrap())
}

func TestInstrumentedStore_RecordsDuration(t *testing.T) {
	reg := setupMetrics(t)
	store := newInstrumentedMemory(t)
	ctx := context.Background()

	_, _, _ = store.Get(ctx, "a")
	_, _, _ = store.Get(ctx, "b")
	require.NoError(t, store.Set(ctx, "a", "v", time.Second))

	mf := findFamily(t, reg, "storage_operation_duration")
	require.NotNil(t, mf)
	assert.Equal(t, dto.MetricType_HISTOGRAM, mf.GetType())

	counts := map[string]uint64{}
	for _, m := range mf.GetMetric() {
		assert.Equal(t, "memory", labelValue(m, "backend"))
		counts[labelValue(m, "operation")] += m.GetHistogram().GetSampleCount()
	}
	assert.Equal(t, uint64(2), counts["get"])
	assert.Equal(t, uint64(1), counts["set"])
}

func TestInstrumentedStore_RecordsErrors(t *testing.T) {
	reg := setupMetrics(t)
	store, err := NewInstrumentedStore(brokenStore{}, "redis")
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Error(t, store.Ping(ctx))
	assert.NoError(t, store.Set(ctx, "k", "v", time.Second))

	mf := findFamily(t, reg, "storage_operation_errors")
	require.NotNil(t, mf)
	assert.Equal(t, 1.0, counterValue(mf, "operation", "get"))
	assert.Equal(t, 1.0, counterValue(mf, "operation", "ping"))
	assert.Equal(t, 0.0, counterValue(mf, "operation", "set"))
}
