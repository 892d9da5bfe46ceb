package generators

import (
	"context"
	"fmt"

	"github.com/edgechute/chuted/pkg/engine"
	"github.com/edgechute/chuted/pkg/stores"
)

// Router plans updates that act on the whole router: factory reset, reboot
// and shutdown. Other update types are ignored.
type Router struct {
	Runtime ContainerRuntime
	Store   stores.ChuteStore
	Power   PowerControl
}

// Name returns the generator name.
func (r *Router) Name() string { return "router" }

// Generate adds the router operation for u, if any. None of them can be
// undone, so no abort operations are planned.
func (r *Router) Generate(ctx context.Context, sess *engine.Session, u *engine.Update) error {
	switch u.Type {
	case engine.UpdateFactoryReset:
		if r.Runtime == nil || r.Store == nil {
			return engine.NewRejectedError("factory reset needs a container runtime and a chute store", nil)
		}
		if err := add(u, engine.StageCallStop, op(OpRuntimeRemoveAll, r.removeAllContainers)); err != nil {
			return err
		}
		return add(u, engine.StageSaveChute, op(OpStateRemoveAll, r.removeAllChutes))

	case engine.UpdateReboot:
		if r.Power == nil {
			return engine.NewRejectedError("reboot is not available", nil)
		}
		return add(u, engine.StageCallStop, op(OpRouterReboot, func(ctx context.Context, u *engine.Update) error {
			return power(ctx, u, r.Power.Reboot)
		}))

	case engine.UpdateShutdown:
		if r.Power == nil {
			return engine.NewRejectedError("shutdown is not available", nil)
		}
		return add(u, engine.StageCallStop, op(OpRouterShutdown, func(ctx context.Context, u *engine.Update) error {
			return power(ctx, u, r.Power.Shutdown)
		}))
	}
	return nil
}

func (r *Router) removeAllContainers(ctx context.Context, u *engine.Update) error {
	n, err := r.Runtime.RemoveAll(ctx)
	if err != nil {
		return err
	}
	u.Progress(fmt.Sprintf("Removed %d containers.", n))
	return nil
}

func (r *Router) removeAllChutes(ctx context.Context, u *engine.Update) error {
	n, err := r.Store.DeleteAllChutes(ctx)
	if err != nil {
		return err
	}
	u.Progress(fmt.Sprintf("Removed %d chutes.", n))
	return nil
}

func power(ctx context.Context, u *engine.Update, fn func(context.Context) (string, error)) error {
	msg, err := fn(ctx)
	if err != nil {
		return err
	}
	u.Progress(msg)
	return nil
}
