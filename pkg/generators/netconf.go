package generators

import (
	"context"
	"fmt"

	"github.com/edgechute/chuted/pkg/engine"
	"github.com/edgechute/chuted/pkg/netconf"
)

// Netconf plans writes of chute network settings followed by one reload of
// the network service. The reload is skipped when nothing changed.
type Netconf struct {
	Network NetworkConfig
}

// Name returns the generator name.
func (n *Netconf) Name() string { return "netconf" }

// Generate plans netconf.apply and netconf.reload when the old or new chute
// carries network settings.
func (n *Netconf) Generate(ctx context.Context, sess *engine.Session, u *engine.Update) error {
	switch u.Type {
	case engine.UpdateCreate, engine.UpdateUpdate, engine.UpdateDelete:
	default:
		return nil
	}

	var desired map[string]any
	if u.New != nil {
		desired = u.New.NetConfig()
	}
	if desired == nil && u.Old.NetConfig() == nil {
		return nil
	}

	name := u.ChuteName()
	var snap *netconf.Snapshot

	apply := engine.NewOperation(OpNetconfApply, func(ctx context.Context, u *engine.Update) (engine.SkipResult, error) {
		changed, s, err := n.Network.Apply(name, desired)
		if err != nil {
			return engine.NoSkip(), fmt.Errorf("failed to write network config of %s: %w", name, err)
		}
		snap = s
		u.SetCache(CacheNetChanged, changed)
		if !changed {
			return engine.SkipOne(OpNetconfReload), nil
		}
		return engine.NoSkip(), nil
	})

	restore := op(OpNetconfRestore, func(ctx context.Context, u *engine.Update) error {
		if err := n.Network.Restore(snap); err != nil {
			return fmt.Errorf("failed to restore network config of %s: %w", name, err)
		}
		changed, _ := u.GetCache(CacheNetChanged).(bool)
		if !changed {
			return nil
		}
		return n.Network.Reload(ctx)
	})

	reload := op(OpNetconfReload, func(ctx context.Context, u *engine.Update) error {
		if err := n.Network.Reload(ctx); err != nil {
			return fmt.Errorf("network reload after %s failed: %w", name, err)
		}
		return nil
	})

	if err := add(u, engine.StageNetConfigWrite, apply, restore); err != nil {
		return err
	}
	return add(u, engine.StageNetConfigReload, reload)
}
