// Package manager serializes update requests. Requests from every source
// (command line, spool directory, MQTT) go through one queue and are run by
// a single worker, so at most one update touches the system at a time.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/edgechute/chuted/pkg/chute"
	"github.com/edgechute/chuted/pkg/engine"
	"github.com/edgechute/chuted/pkg/stores"
	"github.com/edgechute/chuted/pkg/telemetry"
)

// ErrQueueFull is returned by Enqueue when no more requests can be accepted.
var ErrQueueFull = errors.New("update queue is full")

// ErrStopped is returned for requests submitted after the worker stopped.
var ErrStopped = errors.New("update manager stopped")

// Store is the persistence the manager needs.
type Store interface {
	stores.ChuteStore
	stores.HistoryStore
}

type job struct {
	req  *Request
	done chan result
}

type result struct {
	out *engine.Outcome
	err error
}

// Manager owns the update queue.
type Manager struct {
	engine  *engine.Engine
	sess    *engine.Session
	store   Store
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
	logger  zerolog.Logger

	queue   chan *job
	pending atomic.Int64
	stopped chan struct{}
	once    sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records queue depth and chute counts.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithEvents publishes progress messages of finished updates.
func WithEvents(ep *telemetry.EventPublisher) Option {
	return func(mgr *Manager) { mgr.events = ep }
}

// WithQueueSize sets how many requests may wait for the worker.
func WithQueueSize(n int) Option {
	return func(mgr *Manager) {
		if n > 0 {
			mgr.queue = make(chan *job, n)
		}
	}
}

// New creates a manager. Run must be called for queued requests to be
// processed.
func New(eng *engine.Engine, sess *engine.Session, store Store, opts ...Option) *Manager {
	m := &Manager{
		engine:  eng,
		sess:    sess,
		store:   store,
		logger:  sess.Logger.With().Str("component", "manager").Logger(),
		queue:   make(chan *job, 32),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run processes queued requests one at a time until ctx is cancelled.
// Requests still waiting at that point fail with ErrStopped; an update that
// already started runs to completion.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info().Msg("update worker started")
	defer m.stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("update worker stopping")
			return ctx.Err()
		case j := <-m.queue:
			m.setDepth(m.pending.Add(-1))
			out, err := m.Execute(ctx, j.req)
			j.done <- result{out: out, err: err}
		}
	}
}

func (m *Manager) stop() {
	m.once.Do(func() {
		close(m.stopped)
	})
	m.drain()
}

// drain fails every queued job with ErrStopped.
func (m *Manager) drain() {
	for {
		select {
		case j := <-m.queue:
			m.setDepth(m.pending.Add(-1))
			j.done <- result{err: ErrStopped}
		default:
			return
		}
	}
}

// queued is called after j went into the queue. A send can race stop past
// its drain, so a stopped manager drains again and reports ErrStopped.
func (m *Manager) queued(j *job) (*job, error) {
	select {
	case <-m.stopped:
		m.drain()
		return nil, ErrStopped
	default:
		return j, nil
	}
}

// Submit queues req and waits for its outcome.
func (m *Manager) Submit(ctx context.Context, req *Request) (*engine.Outcome, error) {
	j, err := m.enqueue(ctx, req, true)
	if err != nil {
		return nil, err
	}
	select {
	case r := <-j.done:
		return r.out, r.err
	case <-m.stopped:
		select {
		case r := <-j.done:
			return r.out, r.err
		default:
			return nil, ErrStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Enqueue queues req without waiting for it to run.
func (m *Manager) Enqueue(req *Request) error {
	_, err := m.enqueue(context.Background(), req, false)
	return err
}

func (m *Manager) enqueue(ctx context.Context, req *Request, block bool) (*job, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	select {
	case <-m.stopped:
		return nil, ErrStopped
	default:
	}

	j := &job{req: req, done: make(chan result, 1)}
	m.setDepth(m.pending.Add(1))

	if !block {
		select {
		case m.queue <- j:
			return m.queued(j)
		default:
			m.setDepth(m.pending.Add(-1))
			return nil, ErrQueueFull
		}
	}

	select {
	case m.queue <- j:
		return m.queued(j)
	case <-m.stopped:
		m.setDepth(m.pending.Add(-1))
		return nil, ErrStopped
	case <-ctx.Done():
		m.setDepth(m.pending.Add(-1))
		return nil, ctx.Err()
	}
}

// Pending returns the number of requests waiting for the worker.
func (m *Manager) Pending() int {
	return int(m.pending.Load())
}

// Execute runs req immediately in the calling goroutine. It bypasses the
// queue and is meant for one-shot command line use; the worker calls it for
// every queued request.
func (m *Manager) Execute(ctx context.Context, req *Request) (*engine.Outcome, error) {
	u, err := m.newUpdate(ctx, req)
	if err != nil {
		return nil, err
	}
	rec := &stores.UpdateRecord{
		ID:        u.ID,
		Type:      string(u.Type),
		Chute:     u.ChuteName(),
		State:     string(engine.ExecStateExecuting),
		StartedAt: u.CreatedAt,
	}
	if err := m.store.CreateUpdate(ctx, rec); err != nil {
		m.logger.Warn().Err(err).Str("update_id", u.ID).Msg("failed to record update start")
	}

	out := m.engine.Run(ctx, m.sess, u)

	for _, msg := range out.Messages {
		_ = m.events.PublishProgress(out.UpdateID, out.Chute, msg)
	}
	m.finish(ctx, rec, out)
	m.refreshChuteCounts(ctx)
	return out, nil
}

// Plan generates and orders the plans of req without running them or
// recording history.
func (m *Manager) Plan(ctx context.Context, req *Request) (*engine.Update, error) {
	u, err := m.newUpdate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := m.engine.Generate(ctx, m.sess, u); err != nil {
		return nil, err
	}
	m.engine.Aggregate(u)
	return u, nil
}

// newUpdate loads the installed version of the requested chute, if any, and
// creates the update.
func (m *Manager) newUpdate(ctx context.Context, req *Request) (*engine.Update, error) {
	var old *chute.Chute
	if !req.Type.IsRouterOp() {
		c, err := m.store.GetChute(ctx, req.ChuteName())
		switch {
		case err == nil:
			old = c
		case errors.Is(err, stores.ErrNotFound):
		default:
			return nil, fmt.Errorf("failed to load chute %s: %w", req.ChuteName(), err)
		}
	}
	return engine.NewUpdate(req.Type, req.Chute, old), nil
}

func (m *Manager) finish(ctx context.Context, rec *stores.UpdateRecord, out *engine.Outcome) {
	// history must be written even when the caller gave up waiting
	ctx = context.WithoutCancel(ctx)

	completed := out.StartedAt.Add(out.Duration)
	rec.State = string(out.State)
	rec.CompletedAt = &completed
	rec.DurationMS = out.Duration.Milliseconds()
	if out.Err != nil {
		msg := out.Err.Error()
		rec.Error = &msg
	}
	if data, err := json.Marshal(out.Responses); err == nil {
		rec.Responses = string(data)
	}
	if data, err := json.Marshal(out.Messages); err == nil {
		rec.Messages = string(data)
	}

	if err := m.store.FinishUpdate(ctx, rec); err != nil {
		m.logger.Warn().Err(err).Str("update_id", rec.ID).Msg("failed to record update result")
	}
}

func (m *Manager) refreshChuteCounts(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	chutes, err := m.store.ListChutes(context.WithoutCancel(ctx))
	if err != nil {
		m.logger.Debug().Err(err).Msg("failed to count chutes")
		return
	}
	counts := map[chute.State]float64{
		chute.StateRunning:  0,
		chute.StateStopped:  0,
		chute.StateDisabled: 0,
		chute.StateFrozen:   0,
		chute.StateInvalid:  0,
	}
	for _, c := range chutes {
		counts[c.State]++
	}
	for state, n := range counts {
		m.metrics.SetChuteCount(string(state), n)
	}
}

func (m *Manager) setDepth(n int64) {
	m.metrics.SetQueueDepth(float64(n))
}
