package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgechute/chuted/pkg/policy"
)

const webRequest = `type: create
chute:
  name: web
  version: "1"
  services:
    main:
      image: nginx:1.25
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// testConfig writes an agent config that keeps all state below a temp dir and
// touches neither docker nor the network.
func testConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := writeFile(t, dir, "chuted.yaml", fmt.Sprintf(`router:
  id: test-gw
  mode: unittest
paths:
  data: %s
  spool: ""
docker:
  enabled: false
network:
  enabled: false
telemetry:
  logging:
    level: error
  metrics:
    enabled: false
`, dir))
	return dir, cfg
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestApplyListAndHistory(t *testing.T) {
	dir, cfg := testConfig(t)
	req := writeFile(t, dir, "web.yaml", webRequest)

	out, err := execute(t, "--config", cfg, "apply", "-f", req)
	if err != nil {
		t.Fatalf("apply failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "create web completed") {
		t.Errorf("apply output = %q", out)
	}

	out, err = execute(t, "--config", cfg, "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(out, "web") || !strings.Contains(out, "main") {
		t.Errorf("list output = %q", out)
	}

	out, err = execute(t, "--config", cfg, "history", "--chute", "web")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, "create") || !strings.Contains(out, "completed") {
		t.Errorf("history output = %q", out)
	}

	// installing the same chute again is rejected
	out, err = execute(t, "--config", cfg, "apply", "-f", req)
	if !errors.Is(err, ErrNotCompleted) {
		t.Fatalf("second apply should not complete, got %v", err)
	}
	if !strings.Contains(out, "rejected") {
		t.Errorf("apply output = %q", out)
	}
}

func TestStopByName(t *testing.T) {
	dir, cfg := testConfig(t)
	req := writeFile(t, dir, "web.yaml", webRequest)

	if out, err := execute(t, "--config", cfg, "apply", "-f", req); err != nil {
		t.Fatalf("apply failed: %v\n%s", err, out)
	}
	out, err := execute(t, "--config", cfg, "--json", "stop", "web")
	if err != nil {
		t.Fatalf("stop failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"state": "completed"`) || !strings.Contains(out, `"update_type": "stop"`) {
		t.Errorf("stop output = %q", out)
	}

	if _, err := execute(t, "--config", cfg, "stop", "db"); !errors.Is(err, ErrNotCompleted) {
		t.Errorf("stopping an unknown chute should not complete, got %v", err)
	}
}

func TestPlanCommand(t *testing.T) {
	dir, cfg := testConfig(t)
	req := writeFile(t, dir, "web.yaml", webRequest)
	dot := filepath.Join(dir, "plan.dot")

	out, err := execute(t, "--config", cfg, "plan", "-f", req, "--dot", dot)
	if err != nil {
		t.Fatalf("plan failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "state.save") || !strings.Contains(out, "save_chute") {
		t.Errorf("plan output = %q", out)
	}
	data, err := os.ReadFile(dot)
	if err != nil || !strings.HasPrefix(string(data), "digraph PlanGraph {") {
		t.Errorf("dot file = %q (%v)", data, err)
	}

	out, err = execute(t, "--config", cfg, "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if strings.Contains(out, "web") {
		t.Errorf("plan must not install the chute: %q", out)
	}
}

func TestRouterCommandRequiresConfirmation(t *testing.T) {
	_, cfg := testConfig(t)

	_, err := execute(t, "--config", cfg, "factory-reset")
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("expected confirmation error, got %v", err)
	}

	// unittest mode only logs the shutdown command
	out, err := execute(t, "--config", cfg, "reboot", "--yes")
	if err != nil {
		t.Fatalf("reboot failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Rebooting in 60 seconds.") {
		t.Errorf("reboot output = %q", out)
	}

	// without a container runtime there is nothing to reset
	if _, err := execute(t, "--config", cfg, "factory-reset", "--yes"); !errors.Is(err, ErrNotCompleted) {
		t.Errorf("factory-reset should be rejected, got %v", err)
	}
}

func TestValidateCommand(t *testing.T) {
	dir, cfg := testConfig(t)
	good := writeFile(t, dir, "web.yaml", webRequest)
	privileged := writeFile(t, dir, "priv.yaml", `type: create
chute:
  name: priv
  config:
    host_config:
      privileged: true
  services:
    main:
      image: nginx:1.25
`)
	typo := writeFile(t, dir, "typo.yaml", "type: stop\nnmae: web\n")

	out, err := execute(t, "--config", cfg, "validate", good)
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "web.yaml: ok") {
		t.Errorf("validate output = %q", out)
	}

	out, err = execute(t, "--config", cfg, "validate", good, privileged, typo)
	if err == nil || !strings.Contains(err.Error(), "2 of 3") {
		t.Fatalf("expected two failures, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "privileged") || !strings.Contains(out, "nmae") {
		t.Errorf("validate output = %q", out)
	}
}

func TestValidateListsPolicies(t *testing.T) {
	_, cfg := testConfig(t)
	f, err := os.OpenFile(cfg, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("policy:\n  disabled: [image-pinning]\n"); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	out, err := execute(t, "--config", cfg, "validate", "--policies")
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	var pinning string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "image-pinning") {
			pinning = line
		}
	}
	if !strings.Contains(pinning, "false") {
		t.Errorf("image-pinning row = %q, want disabled\n%s", pinning, out)
	}
	if !strings.Contains(out, "host-config") {
		t.Errorf("validate output missing host-config:\n%s", out)
	}
}

func TestValidateRejectsUnknownDisabledPolicy(t *testing.T) {
	_, cfg := testConfig(t)
	f, err := os.OpenFile(cfg, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("policy:\n  disabled: [no-such-policy]\n"); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	if _, err := execute(t, "--config", cfg, "validate", "--policies"); err == nil {
		t.Fatal("expected error for unknown disabled policy")
	}
}

func TestReloadOnSignal(t *testing.T) {
	dir := t.TempDir()
	owner := writeFile(t, dir, "owner.rego", "package chuted.policies.owner\n\nimport rego.v1\n\ndeny contains msg if {\n\tinput.chute.owner == \"\"\n\tmsg := \"no owner\"\n}\n")

	pe, err := policy.NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := pe.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatal(err)
	}
	before := len(pe.ListPolicies())
	if err := os.Remove(owner); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	done := make(chan struct{})
	go func() {
		reloadOnSignal(ctx, sig, pe, zerolog.Nop())
		close(done)
	}()

	sig <- syscall.SIGHUP
	deadline := time.Now().Add(5 * time.Second)
	for len(pe.ListPolicies()) != before-1 {
		if time.Now().After(deadline) {
			t.Fatalf("policies = %d after reload, want %d", len(pe.ListPolicies()), before-1)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done
}
