// Package generators turns updates into staged operations on the container
// runtime, the network configuration and the chute store.
//
// Generators only plan. Every side effect happens inside an operation closure
// that the engine runs later, and every operation that changes the system is
// planned together with the operation that undoes it.
package generators

import (
	"context"

	"github.com/edgechute/chuted/pkg/chute"
	"github.com/edgechute/chuted/pkg/engine"
	"github.com/edgechute/chuted/pkg/netconf"
	"github.com/edgechute/chuted/pkg/policy"
	"github.com/edgechute/chuted/pkg/stores"
)

// Operation IDs. Skip requests match on these.
const (
	OpRuntimeInspect   engine.OpID = "runtime.inspect"
	OpRuntimeBuild     engine.OpID = "runtime.build"
	OpRuntimeStart     engine.OpID = "runtime.start"
	OpRuntimeStop      engine.OpID = "runtime.stop"
	OpRuntimeRemove    engine.OpID = "runtime.remove"
	OpRuntimeRemoveAll engine.OpID = "runtime.removeall"

	OpNetconfApply   engine.OpID = "netconf.apply"
	OpNetconfRestore engine.OpID = "netconf.restore"
	OpNetconfReload  engine.OpID = "netconf.reload"

	OpStateSave      engine.OpID = "state.save"
	OpStateDelete    engine.OpID = "state.delete"
	OpStateRestore   engine.OpID = "state.restore"
	OpStateRemoveAll engine.OpID = "state.removeall"

	OpRouterReboot   engine.OpID = "router.reboot"
	OpRouterShutdown engine.OpID = "router.shutdown"
)

// Update cache keys written by generators.
const (
	CacheContainers = "containers"
	CacheWebPort    = "web_port"
	CacheNetChanged = "net_changed"
)

// ContainerRuntime runs chute services. *docker.Runtime implements it.
type ContainerRuntime interface {
	Build(ctx context.Context, c *chute.Chute) error
	Start(ctx context.Context, c *chute.Chute) error
	Stop(ctx context.Context, c *chute.Chute) error
	Remove(ctx context.Context, c *chute.Chute) error
	RemoveAll(ctx context.Context) (int, error)
}

// NetworkConfig writes chute network settings. *netconf.Manager implements it.
type NetworkConfig interface {
	Apply(chuteName string, net map[string]any) (bool, *netconf.Snapshot, error)
	Restore(snap *netconf.Snapshot) error
	Reload(ctx context.Context) error
}

// PowerControl reboots or halts the router. *system.Power implements it.
type PowerControl interface {
	Reboot(ctx context.Context) (string, error)
	Shutdown(ctx context.Context) (string, error)
}

// PolicyEvaluator admits updates. *policy.Engine implements it.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, input *policy.Input) (*policy.Result, error)
}

// Deps are the collaborators the generators plan against. Generators whose
// collaborator is nil are left out.
type Deps struct {
	Runtime ContainerRuntime
	Network NetworkConfig
	Store   stores.ChuteStore
	Power   PowerControl
	Policy  PolicyEvaluator
}

// Default returns the generators in registration order: admission, router,
// runtime, netconf, state.
func Default(d Deps) []engine.Generator {
	gens := []engine.Generator{
		&Admission{Policy: d.Policy},
		&Router{Runtime: d.Runtime, Store: d.Store, Power: d.Power},
	}
	if d.Runtime != nil {
		gens = append(gens, &Runtime{Runtime: d.Runtime})
	}
	if d.Network != nil {
		gens = append(gens, &Netconf{Network: d.Network})
	}
	if d.Store != nil {
		gens = append(gens, &State{Store: d.Store})
	}
	return gens
}

func op(id engine.OpID, fn func(ctx context.Context, u *engine.Update) error) engine.Operation {
	return engine.NewOperation(id, func(ctx context.Context, u *engine.Update) (engine.SkipResult, error) {
		return engine.NoSkip(), fn(ctx, u)
	})
}

func add(u *engine.Update, stage engine.Stage, todo engine.Operation, abort ...engine.Operation) error {
	if err := u.Plans.AddPlans(stage, todo, abort...); err != nil {
		return engine.NewRejectedError("failed to plan "+string(todo.ID), err).WithChute(u.ChuteName())
	}
	return nil
}
