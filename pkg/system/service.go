package system

import (
	"context"
	"fmt"
	"strings"
)

// ServiceStatus is the systemd view of a unit.
type ServiceStatus struct {
	Active   string
	Enabled  bool
	SubState string
}

// ServiceManager controls systemd units through systemctl.
type ServiceManager struct {
	runner CommandRunner
}

// NewServiceManager creates a service manager.
func NewServiceManager(runner CommandRunner) *ServiceManager {
	return &ServiceManager{runner: runner}
}

// Status queries the active state, enablement and sub-state of a unit.
func (m *ServiceManager) Status(ctx context.Context, name string) (*ServiceStatus, error) {
	if name == "" {
		return nil, fmt.Errorf("service name is required")
	}

	active, err := m.runner.Run(ctx, "systemctl", "is-active", name)
	if err != nil {
		return nil, fmt.Errorf("failed to get service status: %w", err)
	}
	enabled, err := m.runner.Run(ctx, "systemctl", "is-enabled", name)
	if err != nil {
		return nil, fmt.Errorf("failed to get service status: %w", err)
	}
	show, err := m.runner.Run(ctx, "systemctl", "show", name, "--property=SubState", "--value")
	if err != nil {
		return nil, fmt.Errorf("failed to get service status: %w", err)
	}

	return &ServiceStatus{
		Active:   strings.TrimSpace(active.Stdout),
		Enabled:  strings.TrimSpace(enabled.Stdout) == "enabled",
		SubState: strings.TrimSpace(show.Stdout),
	}, nil
}

// Reload asks a unit to reload its configuration.
func (m *ServiceManager) Reload(ctx context.Context, name string) error {
	return m.systemctl(ctx, "reload", name)
}

// Restart restarts a unit.
func (m *ServiceManager) Restart(ctx context.Context, name string) error {
	return m.systemctl(ctx, "restart", name)
}

// ReloadOrRestart reloads a unit if it supports reloading, otherwise restarts it.
func (m *ServiceManager) ReloadOrRestart(ctx context.Context, name string) error {
	return m.systemctl(ctx, "reload-or-restart", name)
}

// Start starts a unit unless it is already active.
func (m *ServiceManager) Start(ctx context.Context, name string) (bool, error) {
	st, err := m.Status(ctx, name)
	if err != nil {
		return false, err
	}
	if st.Active == "active" {
		return false, nil
	}
	return true, m.systemctl(ctx, "start", name)
}

// Stop stops a unit unless it is already inactive.
func (m *ServiceManager) Stop(ctx context.Context, name string) (bool, error) {
	st, err := m.Status(ctx, name)
	if err != nil {
		return false, err
	}
	if st.Active == "inactive" {
		return false, nil
	}
	return true, m.systemctl(ctx, "stop", name)
}

func (m *ServiceManager) systemctl(ctx context.Context, action, name string) error {
	if name == "" {
		return fmt.Errorf("service name is required")
	}
	if _, err := Check(ctx, m.runner, "systemctl", action, name); err != nil {
		return fmt.Errorf("failed to %s service %s: %w", action, name, err)
	}
	return nil
}
