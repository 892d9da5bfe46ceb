// Package policy admits or denies chute updates with Open Policy Agent.
//
// Policies are Rego modules that define a deny set in their package. Each
// element is either a string or an object with a message and an optional
// severity:
//
//	package chuted.policies.owners
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.chute.owner == ""
//	    violation := {"message": "chutes must have an owner", "severity": "error"}
//	}
//
// Violations with severity error or critical deny the update; info and
// warning violations are reported but do not block it.
//
// The input document carries the update type, the desired chute (chute), the
// installed chute (old) and an evaluation context with the router ID and mode.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/etc/chuted/policies"}); err != nil {
//	    return err
//	}
//	result, err := eng.Evaluate(ctx, policy.NewInput("create", newChute, nil, nil))
//	if err != nil {
//	    return err
//	}
//	if err := result.Err(); err != nil {
//	    // update denied
//	}
//
// Built-in policies cover chute naming, privileged host options, image tags
// and web port ranges. Policy files (.rego or .json) loaded from disk are added
// on top of them, and Watch reloads them when the files change.
package policy
