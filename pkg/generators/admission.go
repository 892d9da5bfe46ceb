package generators

import (
	"context"
	"fmt"

	"github.com/edgechute/chuted/pkg/engine"
	"github.com/edgechute/chuted/pkg/policy"
)

// Admission rejects updates that must not run at all. It plans nothing.
type Admission struct {
	// Policy, when set, is consulted after the structural checks.
	Policy PolicyEvaluator
}

// Name returns the generator name.
func (a *Admission) Name() string { return "admission" }

// Generate checks the update type, the desired chute and the installed record.
func (a *Admission) Generate(ctx context.Context, sess *engine.Session, u *engine.Update) error {
	name := u.ChuteName()

	if err := u.Type.Validate(); err != nil {
		return engine.NewRejectedError("unsupported update", err).
			WithChute(name).
			WithCode(engine.ErrCodeUnknownType)
	}

	if !u.Type.IsRouterOp() {
		if err := a.checkChute(u); err != nil {
			return err
		}
	}

	if a.Policy == nil {
		return nil
	}

	pctx := &policy.Context{}
	if sess != nil {
		pctx.RouterID = sess.RouterID
		pctx.Mode = string(sess.Mode)
	}
	result, err := a.Policy.Evaluate(ctx, policy.NewInput(string(u.Type), u.New, u.Old, pctx))
	if err != nil {
		return engine.NewRejectedError("policy evaluation failed", err).WithChute(name)
	}
	for _, w := range result.Warnings {
		u.Progress(fmt.Sprintf("warning: %s", w.Message))
	}
	if err := result.Err(); err != nil {
		return engine.NewRejectedError(fmt.Sprintf("update of %s denied", name), err).
			WithChute(name).
			WithCode(engine.ErrCodePolicyDenied)
	}
	return nil
}

func (a *Admission) checkChute(u *engine.Update) error {
	name := u.ChuteName()

	switch u.Type {
	case engine.UpdateCreate:
		if u.Old != nil {
			return engine.NewRejectedError(fmt.Sprintf("chute %s is already installed", name), nil).
				WithChute(name).
				WithCode(engine.ErrCodeAlreadyExists)
		}
	default:
		if u.Old == nil {
			return engine.NewRejectedError(fmt.Sprintf("chute %s is not installed", name), nil).
				WithChute(name).
				WithCode(engine.ErrCodeNotFound)
		}
	}

	if u.Type == engine.UpdateDelete {
		return nil
	}
	if u.New == nil {
		return engine.NewRejectedError("update carries no chute", nil).
			WithChute(name).
			WithCode(engine.ErrCodeValidation)
	}
	if err := u.New.Validate(); err != nil {
		return engine.NewRejectedError("invalid chute", err).
			WithChute(name).
			WithCode(engine.ErrCodeValidation)
	}
	if u.Old != nil && u.New.Name != u.Old.Name {
		return engine.NewRejectedError(fmt.Sprintf("cannot rename chute %s to %s", u.Old.Name, u.New.Name), nil).
			WithChute(name).
			WithCode(engine.ErrCodeValidation)
	}
	return nil
}
