package mirror

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/moodflow/backend/internal/logging"
	"github.com/moodflow/backend/internal/mood"
)

// WriterConfig controls the concurrency characteristics of the writer.
type WriterConfig struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration
}

// Writer applies record changes to a Mirror off the caller's goroutine.
// Changes for one key always go to the same worker, so they reach the
// mirror in the order they were enqueued.
type Writer struct {
	mirror  Mirror
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queues []chan writeJob
	wg     sync.WaitGroup
	once   sync.Once
}

type writeJob struct {
	key    string
	record mood.Record
	delete bool
}

var errWriterClosed = errors.New("mirror writer closed")

// ErrQueueFull is returned by TrySave when the key's worker is backed up.
var ErrQueueFull = errors.New("mirror writer queue full")

// NewWriter starts the worker pool.
func NewWriter(m Mirror, cfg WriterConfig, logger *slog.Logger) *Writer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Writer{
		mirror:  m,
		logger:  logger,
		timeout: cfg.Timeout,
		queues:  make([]chan writeJob, cfg.Workers),
	}

	w.wg.Add(cfg.Workers)
	for i := range w.queues {
		w.queues[i] = make(chan writeJob, cfg.QueueSize)
		go w.worker(w.queues[i])
	}

	return w
}

// Save schedules rec to be written under key. A record without a mood is
// written as a delete.
func (w *Writer) Save(ctx context.Context, key string, rec mood.Record) error {
	return w.enqueue(ctx, writeJob{key: key, record: rec, delete: !rec.Set()}, true)
}

// TrySave is Save without waiting: when the queue for key is full the
// change is dropped and ErrQueueFull returned.
func (w *Writer) TrySave(key string, rec mood.Record) error {
	return w.enqueue(context.Background(), writeJob{key: key, record: rec, delete: !rec.Set()}, false)
}

// Delete schedules the removal of key.
func (w *Writer) Delete(ctx context.Context, key string) error {
	return w.enqueue(ctx, writeJob{key: key, delete: true}, true)
}

// Shutdown stops accepting changes and waits for queued ones to be written.
func (w *Writer) Shutdown(ctx context.Context) error {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		for _, q := range w.queues {
			close(q)
		}
		w.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (w *Writer) enqueue(ctx context.Context, job writeJob, wait bool) error {
	if job.key == "" {
		return errors.New("mirror writer: empty key")
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return errWriterClosed
	}

	q := w.queues[shard(job.key, len(w.queues))]
	if !wait {
		select {
		case q <- job:
			return nil
		default:
			return ErrQueueFull
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q <- job:
		return nil
	}
}

func (w *Writer) worker(q <-chan writeJob) {
	defer w.wg.Done()
	for job := range q {
		w.handleJob(job)
	}
}

func (w *Writer) handleJob(job writeJob) {
	if w.mirror == nil {
		w.logger.Error("mirror writer missing mirror", "key", job.key)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	name := "mirror.save"
	if job.delete {
		name = "mirror.delete"
	}
	ctx, span := logging.StartSpan(logging.WithLogger(ctx, w.logger), name)
	defer span.End()

	var err error
	if job.delete {
		err = w.mirror.Delete(ctx, job.key)
		if errors.Is(err, ErrNotFound) {
			err = nil
		}
	} else {
		err = w.mirror.Save(ctx, job.key, job.record)
	}
	if err != nil {
		logging.FromContext(ctx).Error("mirror write failed", "key", job.key, "delete", job.delete, "error", err)
	}
}

func shard(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
