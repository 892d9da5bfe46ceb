package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/edgechute/chuted/pkg/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Engine drives updates through generate, aggregate, execute and abort.
// It holds no per-update state, so one Engine may serve many updates as long
// as a single update is not run from two goroutines at once.
type Engine struct {
	generators []Generator
	logger     zerolog.Logger
	metrics    *telemetry.Metrics
	tracer     *telemetry.Tracer
	events     *telemetry.EventPublisher
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithEvents sets the event publisher that receives update lifecycle events.
func WithEvents(p *telemetry.EventPublisher) Option {
	return func(e *Engine) {
		e.events = p
	}
}

// New creates an engine that runs generators in the given order.
func New(generators []Generator, opts ...Option) *Engine {
	e := &Engine{
		generators: append([]Generator(nil), generators...),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generate asks every generator, in registration order, to contribute plans
// to u. The first error stops generation; nothing has run at that point.
func (e *Engine) Generate(ctx context.Context, sess *Session, u *Update) error {
	for _, g := range e.generators {
		if err := g.Generate(ctx, sess, u); err != nil {
			e.logger.Debug().
				Str("update_id", u.ID).
				Str("generator", g.Name()).
				Err(err).
				Msg("generator rejected update")
			if IsRejected(err) {
				return err
			}
			return NewRejectedError(fmt.Sprintf("generator %s failed", g.Name()), err).
				WithChute(u.ChuteName())
		}
	}
	return nil
}

// Aggregate puts the pending plans of u into global stage order.
func (e *Engine) Aggregate(u *Update) {
	u.Plans.Sort()
}

// Execute runs pending plans until none remain or one faults. It returns true
// if an operation faulted, in which case the fault has been recorded in
// u.Responses and the faulted entry is excluded from unwinding.
func (e *Engine) Execute(ctx context.Context, sess *Session, u *Update) bool {
	logger := e.updateLogger(sess, u)

	for {
		entry, ok := u.Plans.GetNextTodo()
		if !ok {
			return false
		}

		logger.Debug().
			Str("operation", string(entry.Todo.ID)).
			Str("stage", entry.Stage.String()).
			Msg("executing operation")

		result, err := e.invoke(ctx, u, entry, entry.Todo, PhaseExecute)
		if err != nil {
			u.Plans.RecordFault()
			e.recordFault(u, entry, entry.Todo, PhaseExecute, err)
			logger.Warn().
				Str("operation", string(entry.Todo.ID)).
				Str("stage", entry.Stage.String()).
				Err(err).
				Msg("operation failed, aborting update")
			return true
		}

		for _, id := range result.Targets() {
			u.Plans.RegisterSkip(id)
			e.metrics.RecordSkip(string(id))
			logger.Debug().
				Str("operation", string(entry.Todo.ID)).
				Str("skip", string(id)).
				Msg("operation requested skip")
		}
	}
}

// Abort unwinds every executed entry of u, last run first. A single failing
// compensation is recorded and unwinding continues. Two failures in a row end
// unwinding immediately and Abort returns true to signal that the system state
// can no longer be guaranteed.
func (e *Engine) Abort(ctx context.Context, sess *Session, u *Update) bool {
	logger := e.updateLogger(sess, u)
	sameError := false

	for {
		entry, ok := u.Plans.GetNextAbort()
		if !ok {
			return false
		}

		if entry.Abort == nil {
			sameError = false
			continue
		}

		logger.Debug().
			Str("operation", string(entry.Abort.ID)).
			Str("undoes", string(entry.Todo.ID)).
			Msg("running compensating operation")

		if _, err := e.invoke(ctx, u, entry, *entry.Abort, PhaseAbort); err != nil {
			e.recordFault(u, entry, *entry.Abort, PhaseAbort, err)
			if sameError {
				logger.Error().
					Str("operation", string(entry.Abort.ID)).
					Err(err).
					Msg("second consecutive abort failure, giving up")
				return true
			}
			sameError = true
			logger.Warn().
				Str("operation", string(entry.Abort.ID)).
				Err(err).
				Msg("compensating operation failed, continuing")
			continue
		}
		sameError = false
	}
}

// Run drives u through the whole pipeline and reports the final state. It
// never returns an error: every failure is folded into the outcome.
func (e *Engine) Run(ctx context.Context, sess *Session, u *Update) *Outcome {
	start := time.Now()
	ctx, span := e.tracer.StartUpdateSpan(ctx, u.ID, string(u.Type), u.ChuteName())
	defer span.End()

	e.metrics.RecordUpdateStarted(string(u.Type))
	_ = e.events.PublishUpdateStarted(u.ID, string(u.Type), u.ChuteName())

	out := &Outcome{
		UpdateID:   u.ID,
		UpdateType: u.Type,
		Chute:      u.ChuteName(),
		State:      ExecStatePending,
		StartedAt:  start,
	}

	if err := e.Generate(ctx, sess, u); err != nil {
		u.addResponse(Response{Message: err.Error(), Phase: PhaseExecute})
		out.Err = err
		return e.finish(sess, u, out, ExecStateRejected, span)
	}
	out.enter(ExecStateGenerated)

	e.Aggregate(u)
	out.enter(ExecStateAggregated)
	logger := e.updateLogger(sess, u)
	logger.Debug().Stringer("plans", u.Plans).Msg("plans aggregated")

	out.enter(ExecStateExecuting)
	total := u.Plans.Pending()
	if !e.Execute(ctx, sess, u) {
		out.Executed = u.Plans.Executed()
		out.Skipped = total - out.Executed - u.Plans.Pending()
		return e.finish(sess, u, out, ExecStateCompleted, span)
	}
	out.Executed = u.Plans.Executed() + 1
	out.Skipped = total - out.Executed - u.Plans.Pending()
	out.Err = lastError(u)

	out.enter(ExecStateAborting)
	before := u.Plans.Executed()
	fatal := e.Abort(ctx, sess, u)
	out.Unwound = before - u.Plans.Executed()

	if fatal {
		out.Err = &EngineError{
			Class:   ErrorClassFatal,
			Code:    ErrCodeUnwindFailed,
			Message: "unwinding abandoned after two consecutive failures",
			Chute:   u.ChuteName(),
			Err:     out.Err,
		}
		return e.finish(sess, u, out, ExecStateFatal, span)
	}
	return e.finish(sess, u, out, ExecStateRestored, span)
}

func (e *Engine) finish(sess *Session, u *Update, out *Outcome, state ExecState, span trace.Span) *Outcome {
	out.enter(state)
	out.Duration = time.Since(out.StartedAt)
	out.Responses = append([]Response(nil), u.Responses...)
	out.Messages = append([]string(nil), u.Messages...)

	span.SetAttributes(telemetry.AttrPhase.String(string(state)))
	if out.Err != nil {
		telemetry.RecordError(span, out.Err)
	} else {
		telemetry.RecordSuccess(span)
	}

	e.metrics.RecordUpdateCompleted(string(u.Type), string(state), out.Duration)
	if state != ExecStateCompleted {
		e.metrics.RecordError(string(state))
	}
	_ = e.events.PublishUpdateFinished(u.ID, string(u.Type), u.ChuteName(), string(state), out.Summary(), out.Duration)

	tl := telemetry.Wrap(e.updateLogger(sess, u))
	if out.Err != nil {
		tl = tl.WithError(out.Err)
	}
	logger := tl.Zerolog()
	switch state {
	case ExecStateCompleted:
		logger.Info().Dur("duration", out.Duration).Int("executed", out.Executed).Msg("update completed")
	case ExecStateRejected:
		logger.Warn().Msg("update rejected")
	case ExecStateRestored:
		logger.Warn().Int("unwound", out.Unwound).Msg("update failed and was rolled back")
	case ExecStateFatal:
		logger.Error().Msg("update failed and rollback was abandoned, manual intervention required")
	}
	return out
}

// invoke runs one operation with panics converted to errors. Operations get a
// context that is not cancelled with ctx: a started plan is never interrupted.
func (e *Engine) invoke(ctx context.Context, u *Update, entry PlanEntry, op Operation, phase Phase) (result SkipResult, err error) {
	opCtx, span := e.tracer.StartOperationSpan(context.WithoutCancel(ctx), string(op.ID), entry.Stage.String(), string(phase))
	timer := telemetry.NewTimer()

	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}

		status := "ok"
		if err != nil {
			status = "error"
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
		e.metrics.RecordOperation(string(op.ID), string(phase), status, timer.Duration())
	}()

	return op.Fn(opCtx, u)
}

func (e *Engine) recordFault(u *Update, entry PlanEntry, op Operation, phase Phase, err error) {
	resp := Response{
		Message:   err.Error(),
		Phase:     phase,
		Stage:     entry.Stage.String(),
		Operation: string(op.ID),
	}
	var pe *panicError
	if errors.As(err, &pe) {
		resp.Trace = pe.stack
	} else {
		resp.Trace = fmt.Sprintf("%+v", err)
	}
	u.addResponse(resp)
	_ = e.events.PublishOperationFailed(u.ID, u.ChuteName(), string(op.ID), string(phase), err.Error())
}

func (e *Engine) updateLogger(sess *Session, u *Update) zerolog.Logger {
	base := e.logger
	if sess != nil {
		base = sess.Logger
	}
	return telemetry.Wrap(base).
		WithUpdateID(u.ID).
		WithField("update_type", string(u.Type)).
		WithChute(u.ChuteName()).
		Zerolog()
}

func lastError(u *Update) error {
	if len(u.Responses) == 0 {
		return nil
	}
	r := u.Responses[len(u.Responses)-1]
	return NewExecutionError(r.Message, nil).WithOperation(r.Operation).WithChute(u.ChuteName())
}

type panicError struct {
	value any
	stack string
}

func (p *panicError) Error() string {
	return fmt.Sprintf("operation panicked: %v", p.value)
}
