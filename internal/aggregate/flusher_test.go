package aggregate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meridianhq/telemetry-backend/internal/metrics"
	"github.com/meridianhq/telemetry-backend/internal/record"
	"github.com/meridianhq/telemetry-backend/internal/shared"
	"github.com/meridianhq/telemetry-backend/internal/stream"
)

type fakeSnapshotStore struct {
	mu          sync.Mutex
	attempts    int
	failFirst   int
	failAlways  bool
	snapshots   []*record.AggregateSnapshot
	deadLetters []*record.DeadLetter
}

func (f *fakeSnapshotStore) CreateSnapshots(ctx context.Context, snapshots []*record.AggregateSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts++
	if f.failAlways || f.attempts <= f.failFirst {
		return errors.New("database down")
	}
	f.snapshots = append(f.snapshots, snapshots...)
	return nil
}

func (f *fakeSnapshotStore) CreateDeadLetter(ctx context.Context, d *record.DeadLetter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetters = append(f.deadLetters, d)
	return nil
}

type fakeAppender struct {
	mu      sync.Mutex
	entries map[string][][]byte
}

func (f *fakeAppender) Append(ctx context.Context, topic string, payload []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries == nil {
		f.entries = make(map[string][][]byte)
	}
	f.entries[topic] = append(f.entries[topic], payload)
	return "1-0", nil
}

func (f *fakeAppender) count(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries[topic])
}

type fakeAggregateCache struct {
	mu     sync.Mutex
	cached []*record.AggregateSnapshot
}

func (f *fakeAggregateCache) CacheAggregate(ctx context.Context, snap *record.AggregateSnapshot, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached = append(f.cached, snap)
	return nil
}

func newTestFlusher(store *fakeSnapshotStore, appender *fakeAppender, cfg FlusherConfig) (*Flusher, *Buffer, *fakeAggregateCache) {
	buf := NewBuffer()
	cache := &fakeAggregateCache{}
	f := NewFlusher(buf, store, appender, cache, cfg, nil, metrics.NewPipeline())
	return f, buf, cache
}

func fillBuckets(buf *Buffer, n int) {
	bucket := time.Now().Truncate(time.Minute)
	for i := 0; i < n; i++ {
		key := Key{TenantID: "tenant-a", UserID: "user-" + string(rune('a'+i)), BucketStart: bucket}
		buf.Update(key, func(b *Bucket) { b.ApplyCommand(100, false) })
	}
}

func TestFlush_PersistsRepublishesCaches(t *testing.T) {
	store := &fakeSnapshotStore{}
	appender := &fakeAppender{}
	f, buf, cache := newTestFlusher(store, appender, FlusherConfig{})
	fillBuckets(buf, 3)

	if err := f.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if len(store.snapshots) != 3 {
		t.Errorf("persisted %d snapshots, want 3", len(store.snapshots))
	}
	if got := appender.count(stream.TopicAggregated); got != 3 {
		t.Errorf("republished %d snapshots, want 3", got)
	}
	if len(cache.cached) != 3 {
		t.Errorf("cached %d snapshots, want 3", len(cache.cached))
	}
	if buf.Size() != 0 {
		t.Errorf("buffer size after flush = %d, want 0", buf.Size())
	}
	if f.LastFlush().IsZero() {
		t.Error("last flush time not recorded")
	}
}

func TestFlush_EmptyBufferIsNoop(t *testing.T) {
	store := &fakeSnapshotStore{}
	f, _, _ := newTestFlusher(store, &fakeAppender{}, FlusherConfig{})

	if err := f.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if store.attempts != 0 {
		t.Errorf("store called %d times on empty buffer", store.attempts)
	}
}

func TestFlush_RetriesTransientFailure(t *testing.T) {
	store := &fakeSnapshotStore{failFirst: 2}
	f, buf, _ := newTestFlusher(store, &fakeAppender{}, FlusherConfig{RetryAttempts: 5})
	fillBuckets(buf, 1)

	if err := f.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v, want success after retries", err)
	}
	if store.attempts != 3 {
		t.Errorf("attempts = %d, want 3", store.attempts)
	}
	if len(store.snapshots) != 1 {
		t.Errorf("persisted %d snapshots, want 1", len(store.snapshots))
	}
}

func TestFlush_DeadLettersBatchOnExhaustion(t *testing.T) {
	store := &fakeSnapshotStore{failAlways: true}
	appender := &fakeAppender{}
	f, buf, _ := newTestFlusher(store, appender, FlusherConfig{RetryAttempts: 2})
	fillBuckets(buf, 2)

	err := f.Flush(context.Background())
	if !errors.Is(err, shared.ErrBufferFlushFailed) {
		t.Fatalf("Flush() error = %v, want ErrBufferFlushFailed", err)
	}
	if store.attempts != 2 {
		t.Errorf("attempts = %d, want 2", store.attempts)
	}
	if len(store.deadLetters) != 1 {
		t.Fatalf("dead letters = %d, want 1 batch record", len(store.deadLetters))
	}
	if store.deadLetters[0].Topic != stream.TopicAggregated {
		t.Errorf("dead letter topic = %s", store.deadLetters[0].Topic)
	}
	if got := appender.count(stream.TopicDeadLetter); got != 1 {
		t.Errorf("dead letter stream entries = %d, want 1", got)
	}
}

func TestStop_ForcesFinalFlush(t *testing.T) {
	store := &fakeSnapshotStore{}
	f, buf, _ := newTestFlusher(store, &fakeAppender{}, FlusherConfig{Interval: time.Hour})
	f.Start()
	fillBuckets(buf, 2)

	if err := f.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if len(store.snapshots) != 2 {
		t.Errorf("persisted %d snapshots on shutdown, want 2", len(store.snapshots))
	}
}

func TestFlusher_ScheduledFlush(t *testing.T) {
	store := &fakeSnapshotStore{}
	f, buf, _ := newTestFlusher(store, &fakeAppender{}, FlusherConfig{Interval: 20 * time.Millisecond})
	fillBuckets(buf, 1)

	f.Start()
	defer f.Stop(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		store.mu.Lock()
		n := len(store.snapshots)
		store.mu.Unlock()
		if n == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("scheduled flush never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
