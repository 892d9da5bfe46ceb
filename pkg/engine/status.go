package engine

import (
	"fmt"
	"time"
)

// ExecState is a state of the update execution state machine:
//
//	generated -> aggregated -> executing -> completed
//	                                     -> aborting -> restored | fatal
//
// Generation failures end in rejected before anything runs.
type ExecState string

const (
	ExecStatePending    ExecState = "pending"
	ExecStateRejected   ExecState = "rejected"
	ExecStateGenerated  ExecState = "generated"
	ExecStateAggregated ExecState = "aggregated"
	ExecStateExecuting  ExecState = "executing"
	ExecStateCompleted  ExecState = "completed"
	ExecStateAborting   ExecState = "aborting"
	ExecStateRestored   ExecState = "restored"
	ExecStateFatal      ExecState = "fatal"
)

// IsTerminal returns true if no further transition can happen.
func (s ExecState) IsTerminal() bool {
	return s == ExecStateRejected || s == ExecStateCompleted ||
		s == ExecStateRestored || s == ExecStateFatal
}

// Validate checks if the state is valid.
func (s ExecState) Validate() error {
	switch s {
	case ExecStatePending, ExecStateRejected, ExecStateGenerated, ExecStateAggregated,
		ExecStateExecuting, ExecStateCompleted, ExecStateAborting, ExecStateRestored,
		ExecStateFatal:
		return nil
	default:
		return fmt.Errorf("invalid execution state: %s", s)
	}
}

// Outcome is what the engine hands back to its caller.
type Outcome struct {
	UpdateID   string        `json:"update_id"`
	UpdateType UpdateType    `json:"update_type"`
	Chute      string        `json:"chute"`
	State      ExecState     `json:"state"`
	Path       []ExecState   `json:"path,omitempty"`
	Err        error         `json:"-"`
	Responses  []Response    `json:"responses,omitempty"`
	Messages   []string      `json:"messages,omitempty"`
	Executed   int           `json:"executed"`
	Skipped    int           `json:"skipped"`
	Unwound    int           `json:"unwound"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// enter moves the outcome to state and records it on the path.
func (o *Outcome) enter(state ExecState) {
	o.State = state
	o.Path = append(o.Path, state)
}

// Succeeded reports whether the transition completed.
func (o *Outcome) Succeeded() bool {
	return o.State == ExecStateCompleted
}

// Restored reports whether the transition failed but was rolled back.
func (o *Outcome) Restored() bool {
	return o.State == ExecStateRestored
}

// Rejected reports whether a generator refused the update.
func (o *Outcome) Rejected() bool {
	return o.State == ExecStateRejected
}

// Fatal reports whether unwinding was abandoned.
func (o *Outcome) Fatal() bool {
	return o.State == ExecStateFatal
}

// Summary returns a one-line description of the outcome.
func (o *Outcome) Summary() string {
	switch o.State {
	case ExecStateCompleted:
		return fmt.Sprintf("%s %s completed", o.UpdateType, o.Chute)
	case ExecStateRejected:
		return fmt.Sprintf("%s %s rejected: %v", o.UpdateType, o.Chute, o.Err)
	case ExecStateRestored:
		return fmt.Sprintf("%s %s failed and was rolled back", o.UpdateType, o.Chute)
	case ExecStateFatal:
		return fmt.Sprintf("%s %s failed and could not be rolled back, manual intervention required", o.UpdateType, o.Chute)
	default:
		return fmt.Sprintf("%s %s %s", o.UpdateType, o.Chute, o.State)
	}
}
