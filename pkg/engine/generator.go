package engine

import "context"

// Generator inspects an update and contributes staged operations to its plan
// graph. Generators only plan; they must not touch the system.
type Generator interface {
	// Name identifies the generator in logs.
	Name() string

	// Generate adds plans to u.Plans. A non-nil error abandons the update.
	Generate(ctx context.Context, sess *Session, u *Update) error
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc struct {
	ID string
	Fn func(ctx context.Context, sess *Session, u *Update) error
}

// Name returns the generator name.
func (g GeneratorFunc) Name() string {
	return g.ID
}

// Generate calls the wrapped function.
func (g GeneratorFunc) Generate(ctx context.Context, sess *Session, u *Update) error {
	return g.Fn(ctx, sess, u)
}
