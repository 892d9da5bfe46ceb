package generators

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgechute/chuted/pkg/chute"
	"github.com/edgechute/chuted/pkg/engine"
	"github.com/edgechute/chuted/pkg/stores"
)

// State plans persistence of the chute record as the last step of an update.
type State struct {
	Store stores.ChuteStore
}

// Name returns the generator name.
func (s *State) Name() string { return "state" }

// Generate plans state.save for chute updates and state.delete for deletes.
func (s *State) Generate(ctx context.Context, sess *engine.Session, u *engine.Update) error {
	switch u.Type {
	case engine.UpdateCreate, engine.UpdateUpdate, engine.UpdateStart, engine.UpdateStop, engine.UpdateRestart:
		if u.New == nil {
			return engine.NewRejectedError("update carries no chute", nil)
		}
		return add(u, engine.StageSaveChute, s.save(u.New), s.restore(u.Old, u.New.Name))
	case engine.UpdateDelete:
		if u.Old == nil {
			return engine.NewRejectedError(fmt.Sprintf("chute %s is not installed", u.ChuteName()), nil)
		}
		return add(u, engine.StageSaveChute, s.delete(u.Old), s.restore(u.Old, u.Old.Name))
	}
	return nil
}

// save stores the new chute with the values computed during the update.
func (s *State) save(c *chute.Chute) engine.Operation {
	return op(OpStateSave, func(ctx context.Context, u *engine.Update) error {
		c.UpdateCache(u.Cache)
		if err := s.Store.SaveChute(ctx, c); err != nil {
			return fmt.Errorf("failed to save %s: %w", c.Name, err)
		}
		return nil
	})
}

func (s *State) delete(c *chute.Chute) engine.Operation {
	return op(OpStateDelete, func(ctx context.Context, u *engine.Update) error {
		if err := s.Store.DeleteChute(ctx, c.Name); err != nil && !errors.Is(err, stores.ErrNotFound) {
			return fmt.Errorf("failed to delete %s: %w", c.Name, err)
		}
		return nil
	})
}

// restore puts the old record back, or removes the record when there was none.
func (s *State) restore(old *chute.Chute, name string) engine.Operation {
	return op(OpStateRestore, func(ctx context.Context, u *engine.Update) error {
		if old == nil {
			if err := s.Store.DeleteChute(ctx, name); err != nil && !errors.Is(err, stores.ErrNotFound) {
				return fmt.Errorf("failed to remove record of %s: %w", name, err)
			}
			return nil
		}
		if err := s.Store.SaveChute(ctx, old); err != nil {
			return fmt.Errorf("failed to restore record of %s: %w", name, err)
		}
		return nil
	})
}
