// Package audit persists the audit trail of token operations.
//
// AsyncSink implements service.AuditSink: Record only enqueues, and a
// background worker writes batches to a Writer, retrying with exponential
// backoff. Entries are dropped and counted when the queue is full or the
// retries run out.
package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
	"github.com/yndnr/captoken-go/internal/telemetry/logger"
)

// Writer stores a batch of audit entries.
type Writer interface {
	Write(ctx context.Context, entries []*domain.AuditEntry) error
}

// DropCounter receives one call per dropped entry.
type DropCounter interface {
	AuditDropped()
}

// Config configures an AsyncSink.
type Config struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
}

// DefaultConfig returns the default sink configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:     4096,
		BatchSize:     64,
		FlushInterval: time.Second,
		MaxRetries:    5,
		BaseBackoff:   100 * time.Millisecond,
		MaxBackoff:    5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = c.BaseBackoff
	}
}

// AsyncSink queues entries for a background writer.
type AsyncSink struct {
	cfg     Config
	writer  Writer
	drops   DropCounter
	logger  logger.Logger
	queue   chan *domain.AuditEntry
	stop    chan struct{}
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	written atomic.Int64
}

var _ service.AuditSink = (*AsyncSink)(nil)

// NewAsyncSink starts a sink writing to w. drops may be nil.
func NewAsyncSink(w Writer, cfg Config, drops DropCounter, l logger.Logger) *AsyncSink {
	cfg.applyDefaults()
	if l == nil {
		l = logger.Default()
	}
	s := &AsyncSink{
		cfg:    cfg,
		writer: w,
		drops:  drops,
		logger: l.With("component", "audit"),
		queue:  make(chan *domain.AuditEntry, cfg.QueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Record enqueues e without blocking.
func (s *AsyncSink) Record(e *domain.AuditEntry) {
	if e == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.drop(1)
		return
	}
	select {
	case s.queue <- e:
	default:
		s.drop(1)
	}
}

// Dropped returns the number of entries dropped so far.
func (s *AsyncSink) Dropped() int64 { return s.dropped.Load() }

// Written returns the number of entries written so far.
func (s *AsyncSink) Written() int64 { return s.written.Load() }

func (s *AsyncSink) drop(n int) {
	s.dropped.Add(int64(n))
	if s.drops != nil {
		for i := 0; i < n; i++ {
			s.drops.AuditDropped()
		}
	}
}

// Close stops accepting entries and flushes the queue, giving up when ctx
// is done.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.stop)
	}
	s.mu.Unlock()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*domain.AuditEntry, 0, s.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.writeBatch(batch)
		batch = make([]*domain.AuditEntry, 0, s.cfg.BatchSize)
	}

	for {
		select {
		case e := <-s.queue:
			batch = append(batch, e)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stop:
			for {
				select {
				case e := <-s.queue:
					batch = append(batch, e)
					if len(batch) >= s.cfg.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// writeBatch writes with exponential backoff. The final attempt's failure
// drops the batch.
func (s *AsyncSink) writeBatch(batch []*domain.AuditEntry) {
	backoff := s.cfg.BaseBackoff
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.writer.Write(ctx, batch)
		cancel()
		if err == nil {
			s.written.Add(int64(len(batch)))
			return
		}
		if attempt >= s.cfg.MaxRetries {
			s.logger.Error("audit batch dropped", "entries", len(batch), "attempts", attempt+1, "error", err)
			s.drop(len(batch))
			return
		}
		s.logger.Warn("audit write failed, retrying", "attempt", attempt+1, "backoff", backoff, "error", err)
		timer := time.NewTimer(backoff)
		<-timer.C
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
}

// LogWriter writes entries to the structured log.
type LogWriter struct {
	logger logger.Logger
}

// NewLogWriter creates a log writer.
func NewLogWriter(l logger.Logger) *LogWriter {
	if l == nil {
		l = logger.Default()
	}
	return &LogWriter{logger: l.With("component", "audit")}
}

// Write logs each entry.
func (w *LogWriter) Write(_ context.Context, entries []*domain.AuditEntry) error {
	for _, e := range entries {
		w.logger.Info("audit",
			"audit_id", e.ID,
			"action", e.Action,
			"outcome", string(e.Outcome),
			"code", e.Code,
			"organization_id", e.OrganizationID,
			"token_id", e.TokenID,
			"kind", string(e.Kind),
			"actor", e.Actor,
			"client_ip", e.ClientIP,
			"detail", e.Detail,
			"created_at", e.CreatedAt)
	}
	return nil
}

// MultiWriter writes to every writer and joins their errors.
type MultiWriter []Writer

// Write writes entries to all writers.
func (m MultiWriter) Write(ctx context.Context, entries []*domain.AuditEntry) error {
	var errs []error
	for _, w := range m {
		if err := w.Write(ctx, entries); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
