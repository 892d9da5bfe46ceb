package engine

import "context"

// OpID identifies an operation. Skip requests match pending entries by OpID,
// so every closure bound to the same logical operation shares one ID.
type OpID string

// OperationFunc performs one unit of work for an update. A non-empty result
// names operations that later entries must not run.
type OperationFunc func(ctx context.Context, u *Update) (SkipResult, error)

// Operation is a named unit of work that can be placed in a plan.
type Operation struct {
	ID OpID
	Fn OperationFunc
}

// NewOperation creates an operation.
func NewOperation(id OpID, fn OperationFunc) Operation {
	return Operation{ID: id, Fn: fn}
}

// SkipKind tags the shape of a SkipResult.
type SkipKind uint8

const (
	// SkipKindNone means nothing should be skipped.
	SkipKindNone SkipKind = iota

	// SkipKindOne names a single operation to skip.
	SkipKindOne

	// SkipKindMany names a list of operations to skip.
	SkipKindMany
)

// SkipResult is the outcome of an operation with respect to skipping.
type SkipResult struct {
	kind SkipKind
	one  OpID
	many []OpID
}

// NoSkip reports that nothing should be skipped.
func NoSkip() SkipResult {
	return SkipResult{kind: SkipKindNone}
}

// SkipOne asks the engine to skip every pending entry running id.
func SkipOne(id OpID) SkipResult {
	return SkipResult{kind: SkipKindOne, one: id}
}

// SkipMany asks the engine to skip every pending entry running any of ids.
func SkipMany(ids ...OpID) SkipResult {
	return SkipResult{kind: SkipKindMany, many: append([]OpID(nil), ids...)}
}

// Kind returns the result tag.
func (r SkipResult) Kind() SkipKind {
	return r.kind
}

// Targets returns the operations to skip.
func (r SkipResult) Targets() []OpID {
	switch r.kind {
	case SkipKindNone:
		return nil
	case SkipKindOne:
		return []OpID{r.one}
	case SkipKindMany:
		return r.many
	default:
		return nil
	}
}
