// Package bulk batches transformed entities per shape and writes them to a
// Sink. Sessions are reference counted: every Open must be paired with a
// Close, and the last Close flushes whatever is still pending.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/reoring/shapekit/issues"
	"github.com/reoring/shapekit/upsert"
)

// Sink persists one batch of entities for a shape.
type Sink interface {
	WriteBatch(ctx context.Context, shapeID string, items []upsert.EntityHolder) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, shapeID string, items []upsert.EntityHolder) error

func (f SinkFunc) WriteBatch(ctx context.Context, shapeID string, items []upsert.EntityHolder) error {
	return f(ctx, shapeID, items)
}

// Resolver reports whether a shape exists. Open refuses unknown shapes.
type Resolver interface {
	HasShape(shapeID string) bool
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(shapeID string) bool

func (f ResolverFunc) HasShape(shapeID string) bool { return f(shapeID) }

// FlushReason says what triggered a flush.
type FlushReason string

const (
	FlushThreshold FlushReason = "threshold"
	FlushInterval  FlushReason = "interval"
	FlushClose     FlushReason = "close"
	FlushShutdown  FlushReason = "shutdown"
)

// FlushResult is delivered to the FlushListener after every sink write.
type FlushResult struct {
	ShapeID  string
	Items    int
	Reason   FlushReason
	Duration time.Duration
	Err      error
}

// FlushListener observes flush outcomes. It is called from the goroutine
// that ran the flush and must not block.
type FlushListener func(FlushResult)

// Config holds batching parameters.
type Config struct {
	// MaxItems triggers an asynchronous flush once a session holds this many
	// entities. Default: 2500
	MaxItems int

	// FlushInterval flushes non-empty sessions periodically. Zero disables
	// the timer. Default: 60s
	FlushInterval time.Duration

	// CloseTimeout bounds the final flush of the last Close. Default: 30s
	CloseTimeout time.Duration

	// ShutdownTimeout bounds the final flush of each session on Shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the batching defaults.
func DefaultConfig() Config {
	return Config{
		MaxItems:        2500,
		FlushInterval:   60 * time.Second,
		CloseTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

func (c *Config) validate() {
	d := DefaultConfig()
	if c.MaxItems < 1 {
		c.MaxItems = d.MaxItems
	}
	if c.FlushInterval < 0 {
		c.FlushInterval = 0
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = d.CloseTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

func WithMeter(mt metric.Meter) Option { return func(m *Manager) { m.meter = mt } }

func WithResolver(r Resolver) Option { return func(m *Manager) { m.resolver = r } }

func WithFlushListener(fn FlushListener) Option { return func(m *Manager) { m.listener = fn } }

// Manager owns the open bulk sessions.
type Manager struct {
	cfg      Config
	sink     Sink
	resolver Resolver
	listener FlushListener
	logger   *slog.Logger
	meter    metric.Meter
	metrics  *metrics

	// base outlives individual calls; session contexts derive from it.
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	stopped  bool
}

type session struct {
	shapeID string
	refs    int // guarded by Manager.mu

	mu      sync.Mutex
	batch   []upsert.EntityHolder
	closing bool

	// ctx bounds the asynchronous flushes of this session. It is
	// cancelled when the session finishes or its wait times out.
	ctx    context.Context
	cancel context.CancelFunc

	inflight sync.WaitGroup
	stop     chan struct{}
	done     chan struct{}
}

// New returns a Manager writing to sink.
func New(sink Sink, cfg Config, opts ...Option) (*Manager, error) {
	if sink == nil {
		return nil, errors.New("bulk: nil sink")
	}
	cfg.validate()
	m := &Manager{cfg: cfg, sink: sink, sessions: make(map[string]*session)}
	for _, o := range opts {
		o(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	met, err := newMetrics(m.meter)
	if err != nil {
		return nil, fmt.Errorf("bulk: metrics: %w", err)
	}
	m.metrics = met
	m.base, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Open opens the session of shapeID or takes another reference on it.
func (m *Manager) Open(ctx context.Context, shapeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.resolver != nil && !m.resolver.HasShape(shapeID) {
		return &issues.NotFoundError{Kind: "shape", ID: shapeID}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return &issues.StateError{Op: "open", ShapeID: shapeID, Reason: "manager is shut down"}
	}
	if s, ok := m.sessions[shapeID]; ok {
		s.refs++
		return nil
	}
	s := &session{
		shapeID: shapeID,
		refs:    1,
		batch:   make([]upsert.EntityHolder, 0, min(m.cfg.MaxItems, 256)),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(m.base)
	m.sessions[shapeID] = s
	if m.cfg.FlushInterval > 0 {
		go m.tick(s)
	} else {
		close(s.done)
	}
	m.metrics.openSessions.Add(ctx, 1)
	m.logger.Debug("bulk session opened", "shape", shapeID)
	return nil
}

// Push appends items to the open session of shapeID. Reaching MaxItems
// hands the batch to a background flush.
func (m *Manager) Push(ctx context.Context, shapeID string, items ...upsert.EntityHolder) error {
	m.mu.Lock()
	s := m.sessions[shapeID]
	m.mu.Unlock()
	if s == nil {
		return &issues.StateError{Op: "push", ShapeID: shapeID, Reason: "no open bulk session"}
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return &issues.StateError{Op: "push", ShapeID: shapeID, Reason: "bulk session is closing"}
	}
	var full [][]upsert.EntityHolder
	for _, it := range items {
		s.batch = append(s.batch, it)
		if len(s.batch) >= m.cfg.MaxItems {
			full = append(full, s.batch)
			s.batch = make([]upsert.EntityHolder, 0, cap(s.batch))
		}
	}
	s.inflight.Add(len(full))
	s.mu.Unlock()

	m.metrics.itemsPushed.Add(ctx, int64(len(items)))
	for _, b := range full {
		go func(b []upsert.EntityHolder) {
			defer s.inflight.Done()
			m.flush(s.ctx, s.shapeID, b, FlushThreshold)
		}(b)
	}
	return nil
}

// Close releases one reference. The last reference flushes the pending
// batch and waits for in-flight flushes, bounded by CloseTimeout.
func (m *Manager) Close(ctx context.Context, shapeID string) error {
	m.mu.Lock()
	s, ok := m.sessions[shapeID]
	if !ok {
		m.mu.Unlock()
		return &issues.StateError{Op: "close", ShapeID: shapeID, Reason: "no open bulk session"}
	}
	if s.refs > 1 {
		s.refs--
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, shapeID)
	m.mu.Unlock()

	return m.finish(ctx, s, m.cfg.CloseTimeout, FlushClose)
}

// Shutdown closes every session concurrently, each bounded by
// ShutdownTimeout. Failures are logged, not returned. Open is refused
// afterwards.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.stopped = true
	open := make([]*session, 0, len(m.sessions))
	for id, s := range m.sessions {
		open = append(open, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, s := range open {
		g.Go(func() error {
			if err := m.finish(ctx, s, m.cfg.ShutdownTimeout, FlushShutdown); err != nil {
				m.logger.Error("bulk session shutdown failed", "shape", s.shapeID, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	m.cancel()
	m.logger.Info("bulk manager stopped", "sessions", len(open))
}

// SessionInfo describes one open session.
type SessionInfo struct {
	ShapeID string
	Refs    int
	Pending int
}

// Sessions lists open sessions by shape id.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		s.mu.Lock()
		out = append(out, SessionInfo{ShapeID: s.shapeID, Refs: s.refs, Pending: len(s.batch)})
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShapeID < out[j].ShapeID })
	return out
}

// finish runs the final flush of a session already removed from the table.
// Every wait, including one on an interval flush already in the sink, is
// bounded by timeout; on expiry the session's flushes are cancelled.
func (m *Manager) finish(ctx context.Context, s *session, timeout time.Duration, reason FlushReason) error {
	defer s.cancel()
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.mu.Lock()
	s.closing = true
	rest := s.batch
	s.batch = nil
	s.mu.Unlock()
	close(s.stop)
	m.metrics.openSessions.Add(ctx, -1)

	var err error
	if len(rest) > 0 {
		err = m.flush(cctx, s.shapeID, rest, reason)
	}

	waited := make(chan struct{})
	go func() {
		<-s.done
		s.inflight.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-cctx.Done():
		s.cancel()
		err = errors.Join(err, fmt.Errorf("bulk: waiting for in-flight flushes of %q: %w", s.shapeID, cctx.Err()))
	}
	m.logger.Debug("bulk session closed", "shape", s.shapeID, "reason", string(reason), "final", len(rest))
	return err
}

func (m *Manager) tick(s *session) {
	defer close(s.done)
	t := time.NewTicker(m.cfg.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
		}
		s.mu.Lock()
		if len(s.batch) == 0 || s.closing {
			s.mu.Unlock()
			continue
		}
		b := s.batch
		s.batch = make([]upsert.EntityHolder, 0, cap(b))
		s.inflight.Add(1)
		s.mu.Unlock()

		m.flush(s.ctx, s.shapeID, b, FlushInterval)
		s.inflight.Done()
	}
}

func (m *Manager) flush(ctx context.Context, shapeID string, items []upsert.EntityHolder, reason FlushReason) error {
	start := time.Now()
	err := m.sink.WriteBatch(ctx, shapeID, items)
	d := time.Since(start)

	m.metrics.recordFlush(ctx, shapeID, d, err)
	if err != nil {
		m.logger.Error("bulk flush failed",
			"shape", shapeID, "items", len(items), "reason", string(reason), "err", err)
	} else {
		m.logger.Debug("bulk flush", "shape", shapeID, "items", len(items), "reason", string(reason), "took", d)
	}
	if m.listener != nil {
		m.listener(FlushResult{ShapeID: shapeID, Items: len(items), Reason: reason, Duration: d, Err: err})
	}
	return err
}
