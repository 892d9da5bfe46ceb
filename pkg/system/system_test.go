package system

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// fakeRunner records command lines and answers from a table.
type fakeRunner struct {
	calls   []string
	results map[string]*Result
	err     error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	line := commandLine(name, args)
	f.calls = append(f.calls, line)
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[line]; ok {
		return r, nil
	}
	return &Result{}, nil
}

func TestPower(t *testing.T) {
	tests := []struct {
		name     string
		call     func(*Power) (string, error)
		command  string
		exitCode int
		wantMsg  string
		wantErr  bool
	}{
		{name: "reboot", call: func(p *Power) (string, error) { return p.Reboot(context.Background()) },
			command: "shutdown -r +1", wantMsg: "Rebooting in 60 seconds."},
		{name: "halt", call: func(p *Power) (string, error) { return p.Shutdown(context.Background()) },
			command: "shutdown -h +1", wantMsg: "Halting in 60 seconds."},
		{name: "reboot fails", call: func(p *Power) (string, error) { return p.Reboot(context.Background()) },
			command: "shutdown -r +1", exitCode: 1, wantErr: true},
		{name: "halt fails", call: func(p *Power) (string, error) { return p.Shutdown(context.Background()) },
			command: "shutdown -h +1", exitCode: 2, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{results: map[string]*Result{
				tt.command: {ExitCode: tt.exitCode, Stderr: "permission denied"},
			}}
			msg, err := tt.call(NewPower(runner))

			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if msg != tt.wantMsg {
				t.Errorf("message = %q, want %q", msg, tt.wantMsg)
			}
			if len(runner.calls) != 1 || runner.calls[0] != tt.command {
				t.Errorf("calls = %v, want [%s]", runner.calls, tt.command)
			}
			if tt.wantErr {
				var exitErr *ExitError
				if !errors.As(err, &exitErr) || exitErr.ExitCode != tt.exitCode {
					t.Errorf("error %v should wrap ExitError with code %d", err, tt.exitCode)
				}
			}
		})
	}
}

func TestServiceManagerStartSkipsActive(t *testing.T) {
	runner := &fakeRunner{results: map[string]*Result{
		"systemctl is-active dnsmasq":  {Stdout: "active\n"},
		"systemctl is-enabled dnsmasq": {Stdout: "enabled\n"},
		"systemctl show dnsmasq --property=SubState --value": {Stdout: "running\n"},
	}}
	m := NewServiceManager(runner)

	changed, err := m.Start(context.Background(), "dnsmasq")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if changed {
		t.Error("Start() on an active unit should not change anything")
	}
	for _, c := range runner.calls {
		if c == "systemctl start dnsmasq" {
			t.Error("systemctl start should not run")
		}
	}
}

func TestServiceManagerStatus(t *testing.T) {
	runner := &fakeRunner{results: map[string]*Result{
		"systemctl is-active hostapd":  {Stdout: "inactive\n", ExitCode: 3},
		"systemctl is-enabled hostapd": {Stdout: "disabled\n", ExitCode: 1},
		"systemctl show hostapd --property=SubState --value": {Stdout: "dead\n"},
	}}

	st, err := NewServiceManager(runner).Status(context.Background(), "hostapd")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Active != "inactive" || st.Enabled || st.SubState != "dead" {
		t.Errorf("status = %+v", st)
	}
}

func TestServiceManagerReloadFailure(t *testing.T) {
	runner := &fakeRunner{results: map[string]*Result{
		"systemctl reload-or-restart chuted-net": {ExitCode: 5, Stderr: "Unit chuted-net.service not found."},
	}}

	err := NewServiceManager(runner).ReloadOrRestart(context.Background(), "chuted-net")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error should carry stderr: %v", err)
	}
	if err := NewServiceManager(runner).Reload(context.Background(), ""); err == nil {
		t.Error("expected error for empty unit name")
	}
}

func TestExecRunner(t *testing.T) {
	r := NewExecRunner(zerolog.New(nil).Level(zerolog.Disabled))

	res, err := r.Run(context.Background(), "sh", "-c", "echo hello; exit 3")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("stdout = %q", res.Stdout)
	}

	if _, err := r.Run(context.Background(), "/nonexistent/binary"); err == nil {
		t.Error("expected error for missing binary")
	}
	if _, err := r.Run(context.Background(), ""); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestDryRunRunner(t *testing.T) {
	res, err := NewDryRunRunner(zerolog.Nop()).Run(context.Background(), "shutdown", "-r", "+1")
	if err != nil || !res.Success() {
		t.Errorf("dry run should succeed, got %v %v", res, err)
	}
}
