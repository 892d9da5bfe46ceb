package generators

import (
	"context"
	"fmt"

	"github.com/edgechute/chuted/pkg/chute"
	"github.com/edgechute/chuted/pkg/engine"
)

// Runtime plans container operations for chute updates.
type Runtime struct {
	Runtime ContainerRuntime
}

// Name returns the generator name.
func (r *Runtime) Name() string { return "runtime" }

// Generate adds build, stop, remove and start operations for u. Starting is
// only planned when the new chute is meant to be running, and removing or
// restarting the old chute on abort only when it was running.
func (r *Runtime) Generate(ctx context.Context, sess *engine.Session, u *engine.Update) error {
	switch u.Type {
	case engine.UpdateCreate:
		if err := r.planInspect(u); err != nil {
			return err
		}
		if err := add(u, engine.StageRuntimePrepare, r.build(u.New)); err != nil {
			return err
		}
		return r.planStart(u, u.New, r.remove(u.New))

	case engine.UpdateUpdate:
		if err := r.planInspect(u); err != nil {
			return err
		}
		if err := add(u, engine.StageRuntimePrepare, r.build(u.New)); err != nil {
			return err
		}
		if err := r.planRemoveOld(u); err != nil {
			return err
		}
		return r.planStart(u, u.New, r.remove(u.New))

	case engine.UpdateStart:
		return r.planStart(u, u.New, r.stop(u.New))

	case engine.UpdateStop:
		return add(u, engine.StageCallStop, r.stop(u.Old), r.start(u.Old))

	case engine.UpdateRestart:
		if err := add(u, engine.StageCallStop, r.stop(u.Old), r.start(u.Old)); err != nil {
			return err
		}
		return r.planStart(u, u.New, r.stop(u.New))

	case engine.UpdateDelete:
		return r.planRemoveOld(u)
	}
	return nil
}

// planInspect records derived runtime structure in the update cache so it is
// saved with the chute.
func (r *Runtime) planInspect(u *engine.Update) error {
	c := u.New
	return add(u, engine.StageStructGet, op(OpRuntimeInspect, func(ctx context.Context, u *engine.Update) error {
		names := make([]string, 0, len(c.Services))
		for _, svc := range c.ServiceList() {
			names = append(names, c.Name+"-"+svc.Name)
		}
		u.SetCache(CacheContainers, names)

		port, svc, err := c.WebPortAndService()
		if err != nil {
			return fmt.Errorf("invalid web configuration: %w", err)
		}
		if svc != nil {
			u.SetCache(CacheWebPort, port)
		}
		return nil
	}))
}

func (r *Runtime) planStart(u *engine.Update, c *chute.Chute, abort engine.Operation) error {
	if c == nil || !c.IsRunning() {
		return nil
	}
	return add(u, engine.StageCallStart, r.start(c), abort)
}

func (r *Runtime) planRemoveOld(u *engine.Update) error {
	if u.Old == nil {
		return nil
	}
	if u.Old.IsRunning() {
		return add(u, engine.StageCallStop, r.remove(u.Old), r.start(u.Old))
	}
	return add(u, engine.StageCallStop, r.remove(u.Old))
}

func (r *Runtime) build(c *chute.Chute) engine.Operation {
	return op(OpRuntimeBuild, func(ctx context.Context, u *engine.Update) error {
		if err := r.Runtime.Build(ctx, c); err != nil {
			return fmt.Errorf("failed to prepare images for %s: %w", c.Name, err)
		}
		u.Progress(fmt.Sprintf("Images for %s are ready.", c.Name))
		return nil
	})
}

func (r *Runtime) start(c *chute.Chute) engine.Operation {
	return op(OpRuntimeStart, func(ctx context.Context, u *engine.Update) error {
		if err := r.Runtime.Start(ctx, c); err != nil {
			return fmt.Errorf("failed to start %s: %w", c.Name, err)
		}
		u.Progress(fmt.Sprintf("Started %s.", c.Name))
		return nil
	})
}

func (r *Runtime) stop(c *chute.Chute) engine.Operation {
	return op(OpRuntimeStop, func(ctx context.Context, u *engine.Update) error {
		if err := r.Runtime.Stop(ctx, c); err != nil {
			return fmt.Errorf("failed to stop %s: %w", c.Name, err)
		}
		u.Progress(fmt.Sprintf("Stopped %s.", c.Name))
		return nil
	})
}

func (r *Runtime) remove(c *chute.Chute) engine.Operation {
	return op(OpRuntimeRemove, func(ctx context.Context, u *engine.Update) error {
		if err := r.Runtime.Remove(ctx, c); err != nil {
			return fmt.Errorf("failed to remove %s: %w", c.Name, err)
		}
		u.Progress(fmt.Sprintf("Removed containers of %s.", c.Name))
		return nil
	})
}
