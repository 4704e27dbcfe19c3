package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// WriteJob represents a unit of work to execute against the store.
type WriteJob interface {
	Execute(ctx context.Context) error
}

// WriteJobFunc adapts a function into a WriteJob.
type WriteJobFunc func(ctx context.Context) error

func (f WriteJobFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// BatchWriter collects write jobs and flushes them in batches off the
// request path.
type BatchWriter struct {
	jobs      chan WriteJob
	batchSize int
	flushMs   int
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewBatchWriter(bufferSize, batchSize, flushMs int) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 1
	}
	if flushMs <= 0 {
		flushMs = 100
	}
	w := &BatchWriter{
		jobs:      make(chan WriteJob, bufferSize),
		batchSize: batchSize,
		flushMs:   flushMs,
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Enqueue never blocks; a full queue drops the job.
func (w *BatchWriter) Enqueue(job WriteJob) bool {
	select {
	case w.jobs <- job:
		return true
	default:
		log.Warn().Msg("write queue full, dropping job")
		return false
	}
}

func (w *BatchWriter) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Duration(w.flushMs) * time.Millisecond)
	defer ticker.Stop()

	batch := make([]WriteJob, 0, w.batchSize)

	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				w.flush(batch)
				return
			}
			batch = append(batch, job)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (w *BatchWriter) flush(batch []WriteJob) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, job := range batch {
		if err := job.Execute(ctx); err != nil {
			log.Error().Err(err).Msg("write job failed")
		}
	}
}

// Shutdown flushes queued jobs and stops the writer. Enqueue must not be
// called afterwards.
func (w *BatchWriter) Shutdown() {
	w.closeOnce.Do(func() { close(w.jobs) })
	w.wg.Wait()
}
