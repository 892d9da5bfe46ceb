package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		chuteNamingPolicy(),
		hostConfigPolicy(),
		imagePinningPolicy(),
		webPortPolicy(),
	}
}

// chuteNamingPolicy enforces chute naming conventions.
func chuteNamingPolicy() Policy {
	return Policy{
		Name:        "chute-naming",
		Description: "Chute names are lowercase DNS labels so they can prefix container names",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package chuted.policies.naming

import rego.v1

deny contains violation if {
	name := input.chute.name
	not regex.match("^[a-z0-9]([a-z0-9-]*[a-z0-9])?$", name)
	violation := {
		"message": sprintf("chute name '%s' must contain only lowercase letters, numbers and inner hyphens", [name]),
		"severity": "error",
	}
}

deny contains violation if {
	name := input.chute.name
	count(name) > 63
	violation := {
		"message": sprintf("chute name '%s' must not exceed 63 characters", [name]),
		"severity": "error",
	}
}

deny contains violation if {
	input.chute.name == "router"
	violation := {
		"message": "chute name 'router' is reserved",
		"severity": "error",
	}
}`,
	}
}

// hostConfigPolicy restricts container host options.
func hostConfigPolicy() Policy {
	return Policy{
		Name:        "host-config",
		Description: "Chutes may not run privileged containers or share the host network",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"security", "runtime"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package chuted.policies.hostconfig

import rego.v1

deny contains violation if {
	input.chute.config.host_config.privileged == true
	violation := {
		"message": sprintf("chute %s requests a privileged container", [input.chute.name]),
		"severity": "error",
	}
}

deny contains violation if {
	input.chute.config.host_config.network_mode == "host"
	violation := {
		"message": sprintf("chute %s requests the host network", [input.chute.name]),
		"severity": "error",
	}
}`,
	}
}

// imagePinningPolicy warns about images that are not pinned to a version.
func imagePinningPolicy() Policy {
	return Policy{
		Name:        "image-pinning",
		Description: "Service images should carry an explicit, non-latest tag",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"runtime", "reproducibility"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package chuted.policies.images

import rego.v1

deny contains violation if {
	some svc in input.chute.services
	image := svc.image
	image != ""
	not contains(image, "@")
	not regex.match(":[^/]+$", image)
	violation := {
		"message": sprintf("service %s image %s has no tag", [svc.name, image]),
		"severity": "warning",
	}
}

deny contains violation if {
	some svc in input.chute.services
	endswith(svc.image, ":latest")
	violation := {
		"message": sprintf("service %s uses the latest tag", [svc.name]),
		"severity": "warning",
	}
}`,
	}
}

// webPortPolicy validates the port a chute exposes its web server on.
func webPortPolicy() Policy {
	return Policy{
		Name:        "web-port",
		Description: "Web ports must be valid and must not collide with router services",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"network"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package chuted.policies.webport

import rego.v1

reserved_ports := {22, 53, 67, 68}

deny contains violation if {
	port := input.chute.config.web.port
	is_number(port)
	not valid_port(port)
	violation := {
		"message": sprintf("chute %s web port %v is out of range", [input.chute.name, port]),
		"severity": "error",
	}
}

deny contains violation if {
	port := input.chute.config.web.port
	port in reserved_ports
	violation := {
		"message": sprintf("chute %s web port %v is reserved by the router", [input.chute.name, port]),
		"severity": "error",
	}
}

valid_port(port) if {
	port >= 1
	port <= 65535
}`,
	}
}
