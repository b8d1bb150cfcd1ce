package feedback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecorderConfig controls queueing and batching
type RecorderConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// RecorderStats reports recorder throughput
type RecorderStats struct {
	Recorded int64 `json:"recorded"`
	Dropped  int64 `json:"dropped"`
	Rejected int64 `json:"rejected"`
	Failed   int64 `json:"failed"`
}

// Recorder is an append-only feedback sink. Recording never blocks the
// caller: entries are queued and written to the Store in batches by a
// background goroutine. When the queue is full new entries are dropped.
type Recorder struct {
	store  Store
	logger *zap.Logger
	config RecorderConfig
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan Entry
	done   chan struct{}

	recorded int64
	dropped  int64
	rejected int64
	failed   int64
}

// NewRecorder starts a recorder writing to store
func NewRecorder(store Store, config RecorderConfig, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 2 * time.Second
	}

	r := &Recorder{
		store:  store,
		logger: logger,
		config: config,
		now:    time.Now,
		queue:  make(chan Entry, config.BufferSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// RecordFeedback queues a false-positive or false-negative report. Invalid
// kinds are logged and discarded.
func (r *Recorder) RecordFeedback(kind Kind, text, detectionType, surrounding string) {
	if _, err := ParseKind(string(kind)); err != nil {
		atomic.AddInt64(&r.rejected, 1)
		r.logger.Warn("Discarding feedback with invalid kind", zap.String("kind", string(kind)))
		return
	}

	r.Record(Entry{
		Kind:          kind,
		DetectionType: detectionType,
		Text:          text,
		Context:       surrounding,
	})
}

// Record queues entry, filling in its ID and timestamp when unset. It
// reports whether the entry was accepted.
func (r *Recorder) Record(entry Entry) bool {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		atomic.AddInt64(&r.dropped, 1)
		return false
	}

	select {
	case r.queue <- entry:
		return true
	default:
		atomic.AddInt64(&r.dropped, 1)
		r.logger.Warn("Feedback queue full, dropping entry",
			zap.String("detection_type", entry.DetectionType),
			zap.Int("buffer_size", r.config.BufferSize))
		return false
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, r.config.BatchSize)
	for {
		select {
		case entry, ok := <-r.queue:
			if !ok {
				r.flush(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= r.config.BatchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (r *Recorder) flush(batch []Entry) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := r.store.BatchInsert(ctx, batch)
	if err != nil {
		atomic.AddInt64(&r.failed, int64(len(batch)))
		r.logger.Error("Failed to store feedback batch",
			zap.Int("entries", len(batch)),
			zap.Error(err))
		return
	}
	atomic.AddInt64(&r.recorded, result.Inserted)
}

// Stats returns recorder counters
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Recorded: atomic.LoadInt64(&r.recorded),
		Dropped:  atomic.LoadInt64(&r.dropped),
		Rejected: atomic.LoadInt64(&r.rejected),
		Failed:   atomic.LoadInt64(&r.failed),
	}
}

// Close stops accepting entries, flushes the queue and closes the store
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	return r.store.Close()
}
