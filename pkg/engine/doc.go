// Package engine turns a chute state transition into an ordered plan of
// operations, runs it, and unwinds it when something fails.
//
// # Overview
//
// An Update wraps one transition: the previous chute, the desired chute and
// an update type. The Engine runs four phases over it:
//
//  1. Generate - every registered Generator inspects the update and adds
//     staged operations to its PlanGraph. A generator error rejects the
//     update before anything has touched the system.
//  2. Aggregate - the plan graph is stably sorted by Stage.
//  3. Execute - operations run one at a time in stage order. An operation may
//     ask for later operations to be skipped by returning a SkipResult.
//  4. Abort - after a fault, the compensating operations of every entry that
//     already ran are invoked, last run first.
//
// # Outcomes
//
// Run never returns an error. It folds every failure into an Outcome:
//
//   - completed: every operation ran
//   - rejected: a generator refused the update
//   - restored: an operation faulted and every step was unwound
//   - fatal: two compensating operations failed in a row and unwinding stopped
//
// Faults are recorded in Update.Responses in the order they happened.
//
// # Stages
//
// Stage ordinals are global. Operations from unrelated chutes that share a
// stage interleave in one deterministic order, so "stop everything" always
// happens before "start anything" within a batch.
package engine
