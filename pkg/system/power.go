package system

import (
	"context"
	"fmt"
)

// Power issues delayed restart and halt commands.
type Power struct {
	runner CommandRunner
}

// NewPower creates a power controller.
func NewPower(runner CommandRunner) *Power {
	return &Power{runner: runner}
}

// Reboot schedules a restart one minute from now and returns a progress message.
func (p *Power) Reboot(ctx context.Context) (string, error) {
	if err := p.shutdown(ctx, "-r"); err != nil {
		return "", fmt.Errorf("reboot: %w", err)
	}
	return "Rebooting in 60 seconds.", nil
}

// Shutdown schedules a halt one minute from now and returns a progress message.
func (p *Power) Shutdown(ctx context.Context) (string, error) {
	if err := p.shutdown(ctx, "-h"); err != nil {
		return "", fmt.Errorf("shutdown: %w", err)
	}
	return "Halting in 60 seconds.", nil
}

func (p *Power) shutdown(ctx context.Context, mode string) error {
	_, err := Check(ctx, p.runner, "shutdown", mode, "+1")
	return err
}
