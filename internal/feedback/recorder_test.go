package feedback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("FALSE_POSITIVE")
	require.NoError(t, err)
	assert.Equal(t, KindFalsePositive, kind)

	kind, err = ParseKind(" false_negative ")
	require.NoError(t, err)
	assert.Equal(t, KindFalseNegative, kind)

	_, err = ParseKind("maybe")
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestRecorderFlushesOnClose(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, RecorderConfig{BufferSize: 16, BatchSize: 10, FlushInterval: time.Hour}, zaptest.NewLogger(t))

	rec.RecordFeedback(KindFalsePositive, "07911 123456", "PHONE_UK_MOBILE", "call me on 07911 123456")
	rec.RecordFeedback(KindFalseNegative, "SW1A1AA", "UK_POSTCODE", "")
	rec.RecordFeedback(KindFalsePositive, "CASE-2024-0001", "CASE_TRACKING_ID", "")

	require.NoError(t, rec.Close())

	entries := store.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, KindFalsePositive, entries[0].Kind)
	assert.Equal(t, "PHONE_UK_MOBILE", entries[0].DetectionType)
	assert.Equal(t, "call me on 07911 123456", entries[0].Context)
	assert.NotEmpty(t, entries[0].ID)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)
	assert.False(t, entries[0].CreatedAt.IsZero())

	stats, err := store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.FalsePositives)
	assert.Equal(t, int64(1), stats.FalseNegatives)
	assert.Equal(t, int64(1), stats.ByType["UK_POSTCODE"])

	assert.Equal(t, int64(3), rec.Stats().Recorded)
}

func TestRecorderFlushesOnBatchSize(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, RecorderConfig{BufferSize: 16, BatchSize: 2, FlushInterval: time.Hour}, nil)
	defer rec.Close()

	rec.RecordFeedback(KindFalsePositive, "a", "EMAIL", "")
	rec.RecordFeedback(KindFalsePositive, "b", "EMAIL", "")

	assert.Eventually(t, func() bool { return len(store.Entries()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestRecorderFlushesOnInterval(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, RecorderConfig{BufferSize: 16, BatchSize: 100, FlushInterval: 10 * time.Millisecond}, nil)
	defer rec.Close()

	rec.RecordFeedback(KindFalseNegative, "AB123456C", "NI_NUMBER", "")

	assert.Eventually(t, func() bool { return len(store.Entries()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRecorderRejectsInvalidKind(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, RecorderConfig{}, nil)

	rec.RecordFeedback(Kind("unsure"), "x", "EMAIL", "")
	require.NoError(t, rec.Close())

	assert.Empty(t, store.Entries())
	assert.Equal(t, int64(1), rec.Stats().Rejected)
}

// blockingStore holds the first batch until released
type blockingStore struct {
	*MemoryStore
	started chan struct{}
	release chan struct{}
}

func (b *blockingStore) BatchInsert(ctx context.Context, entries []Entry) (*BatchInsertResult, error) {
	select {
	case b.started <- struct{}{}:
		<-b.release
	default:
	}
	return b.MemoryStore.BatchInsert(ctx, entries)
}

func TestRecorderDropsWhenFull(t *testing.T) {
	store := &blockingStore{MemoryStore: NewMemoryStore(), started: make(chan struct{}), release: make(chan struct{})}
	rec := NewRecorder(store, RecorderConfig{BufferSize: 1, BatchSize: 1, FlushInterval: time.Hour}, nil)

	assert.True(t, rec.Record(Entry{Kind: KindFalsePositive, DetectionType: "EMAIL"}))
	select {
	case <-store.started:
	case <-time.After(2 * time.Second):
		t.Fatal("store was not called")
	}

	// the writer is stuck on the first batch; one slot left in the queue
	assert.True(t, rec.Record(Entry{Kind: KindFalsePositive, DetectionType: "EMAIL"}))
	assert.False(t, rec.Record(Entry{Kind: KindFalsePositive, DetectionType: "EMAIL"}))

	close(store.release)
	require.NoError(t, rec.Close())

	assert.Len(t, store.Entries(), 2)
	assert.Equal(t, int64(1), rec.Stats().Dropped)
}

func TestRecorderAfterClose(t *testing.T) {
	rec := NewRecorder(NewMemoryStore(), RecorderConfig{}, nil)
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	assert.False(t, rec.Record(Entry{Kind: KindFalsePositive}))
	rec.RecordFeedback(KindFalseNegative, "x", "EMAIL", "")
	assert.Equal(t, int64(2), rec.Stats().Dropped)
}

type failingStore struct{ *MemoryStore }

func (failingStore) BatchInsert(context.Context, []Entry) (*BatchInsertResult, error) {
	return nil, errors.New("database unavailable")
}

func TestRecorderCountsStoreFailures(t *testing.T) {
	rec := NewRecorder(failingStore{NewMemoryStore()}, RecorderConfig{BatchSize: 1}, zaptest.NewLogger(t))
	rec.RecordFeedback(KindFalsePositive, "x", "EMAIL", "")
	require.NoError(t, rec.Close())

	assert.Equal(t, int64(1), rec.Stats().Failed)
	assert.Equal(t, int64(0), rec.Stats().Recorded)
}
