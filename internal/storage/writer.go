package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"factor-heston-sim/internal/monitor"
)

// RunLogger persists run records. *DB implements it.
type RunLogger interface {
	LogRun(ctx context.Context, run *RunRecord) error
}

// AuditWriter records runs asynchronously so request latency never
// depends on the database.
type AuditWriter struct {
	store   RunLogger
	ch      chan *RunRecord
	wg      sync.WaitGroup
	done    chan struct{}
	once    sync.Once
	metrics *monitor.Metrics

	baseBackoff time.Duration
}

func NewAuditWriter(store RunLogger, bufferSize int, metrics *monitor.Metrics) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AuditWriter{
		store:       store,
		ch:          make(chan *RunRecord, bufferSize),
		done:        make(chan struct{}),
		metrics:     metrics,
		baseBackoff: 100 * time.Millisecond,
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Log queues run for writing, dropping it if the buffer is full.
func (w *AuditWriter) Log(run *RunRecord) {
	select {
	case w.ch <- run:
	default:
		log.Warn().Str("run_id", run.ID).Msg("audit buffer full, dropping log entry")
		w.metrics.RecordAuditDropped()
	}
}

// Flush stops the writer after draining queued records, giving up after timeout.
func (w *AuditWriter) Flush(timeout time.Duration) {
	w.once.Do(func() { close(w.done) })

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case run := <-w.ch:
			w.writeWithRetry(run)
		case <-w.done:
			for {
				select {
				case run := <-w.ch:
					w.writeWithRetry(run)
				default:
					return
				}
			}
		}
	}
}

func (w *AuditWriter) writeWithRetry(run *RunRecord) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.store.LogRun(ctx, run)
		cancel()

		if err == nil {
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * w.baseBackoff
			log.Warn().
				Err(err).
				Str("run_id", run.ID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("audit write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("run_id", run.ID).
				Msg("audit write failed permanently after retries")
		}
	}
}
