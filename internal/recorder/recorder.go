// Package recorder persists prediction records off the serving path. The
// write is fire-and-forget: a full queue or a failing store is observed and
// counted but never surfaces to the prediction caller.
package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/playmetrics/revpredict/internal/database"
	"github.com/playmetrics/revpredict/internal/monitoring"
)

// Store is the narrow write interface the recorder needs
type Store interface {
	InsertPrediction(ctx context.Context, rec *database.PredictionRecord) error
}

// Recorder dispatches prediction records to the log store asynchronously
type Recorder struct {
	store        Store
	queue        chan *database.PredictionRecord
	writeTimeout time.Duration
	metrics      *monitoring.Metrics
	logger       *monitoring.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a recorder with a bounded queue. Start must be called before
// records flow.
func New(store Store, queueSize int, writeTimeout time.Duration, metrics *monitoring.Metrics, logger *monitoring.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}

	return &Recorder{
		store:        store,
		queue:        make(chan *database.PredictionRecord, queueSize),
		writeTimeout: writeTimeout,
		metrics:      metrics,
		logger:       logger,
		done:         make(chan struct{}),
	}
}

// Start launches the write worker
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.run()
}

// Record enqueues a prediction record without blocking. When the queue is
// full the record is dropped and counted; prediction latency is never
// inflated by a slow or unavailable store.
func (r *Recorder) Record(rec *database.PredictionRecord) {
	select {
	case <-r.done:
		return
	default:
	}

	select {
	case r.queue <- rec:
	default:
		r.metrics.ObserveRecorderDrop()
		r.logger.RecorderLogger("queue_full_record_dropped", nil)
	}
}

// QueueDepth reports how many records are waiting to be written
func (r *Recorder) QueueDepth() int {
	return len(r.queue)
}

// Close stops accepting records and drains the queue. The queue channel is
// never closed: a Record racing Close may still enqueue, and sending on a
// closed channel would panic on the request goroutine.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case rec := <-r.queue:
			r.write(rec)
		case <-r.done:
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case rec := <-r.queue:
			r.write(rec)
		default:
			return
		}
	}
}

func (r *Recorder) write(rec *database.PredictionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	if err := r.store.InsertPrediction(ctx, rec); err != nil {
		r.metrics.ObserveRecorderWrite(false)
		r.logger.RecorderLogger("write_failed", err)
		return
	}

	r.metrics.ObserveRecorderWrite(true)
}
