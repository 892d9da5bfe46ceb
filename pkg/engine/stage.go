package engine

import "fmt"

// Stage is an ordinal in the global ordering of plan operations. Stages are
// comparable across updates, so operations from unrelated chutes interleave
// in one deterministic order: every stop runs before any start, and so on.
type Stage int

const (
	// StageValidate holds side-effect free checks.
	StageValidate Stage = 100

	// StageStructGet computes derived structure (interfaces, paths) into the update cache.
	StageStructGet Stage = 200

	// StageRuntimePrepare builds or pulls container images.
	StageRuntimePrepare Stage = 300

	// StageCallStop stops or removes containers and issues terminal router commands.
	StageCallStop Stage = 400

	// StageNetConfigWrite writes network and service configuration.
	StageNetConfigWrite Stage = 500

	// StageNetConfigReload reloads the network subsystem.
	StageNetConfigReload Stage = 510

	// StageCallStart creates and starts containers.
	StageCallStart Stage = 600

	// StageSaveChute persists chute records.
	StageSaveChute Stage = 700
)

var stageNames = map[Stage]string{
	StageValidate:        "validate",
	StageStructGet:       "struct_get",
	StageRuntimePrepare:  "runtime_prepare",
	StageCallStop:        "call_stop",
	StageNetConfigWrite:  "netconf_write",
	StageNetConfigReload: "netconf_reload",
	StageCallStart:       "call_start",
	StageSaveChute:       "save_chute",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}
