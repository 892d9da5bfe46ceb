package netconf

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type fakeReloader struct {
	units []string
	err   error
}

func (f *fakeReloader) ReloadOrRestart(ctx context.Context, name string) error {
	f.units = append(f.units, name)
	return f.err
}

func newTestManager(t *testing.T) (*Manager, *fakeReloader) {
	t.Helper()
	r := &fakeReloader{}
	return New(t.TempDir(), "chuted-net.service", r, zerolog.Nop()), r
}

func TestRender(t *testing.T) {
	out, err := Render("web", map[string]any{"wifi": map[string]any{"ssid": "guest"}})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	text := string(out)
	for _, want := range []string{"chute: web", "ssid: guest", "# Generated by chuted"} {
		if !strings.Contains(text, want) {
			t.Errorf("rendered config missing %q:\n%s", want, text)
		}
	}
}

func TestApply(t *testing.T) {
	m, _ := newTestManager(t)
	net := map[string]any{"dhcp": map[string]any{"start": 100, "limit": 50}}

	changed, snap, err := m.Apply("web", net)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !changed {
		t.Error("first apply should change the file")
	}
	if snap.Existed {
		t.Error("snapshot of a new file should not exist")
	}

	changed, _, err = m.Apply("web", net)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if changed {
		t.Error("applying identical settings should not change the file")
	}

	changed, snap, err = m.Apply("web", map[string]any{"dhcp": map[string]any{"start": 10}})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !changed || !snap.Existed {
		t.Errorf("changed = %v, existed = %v; want true, true", changed, snap.Existed)
	}
}

func TestApplyNilRemoves(t *testing.T) {
	m, _ := newTestManager(t)

	changed, _, err := m.Apply("web", nil)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if changed {
		t.Error("removing a missing file should not report a change")
	}

	if _, _, err := m.Apply("web", map[string]any{"a": 1}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	changed, snap, err := m.Apply("web", nil)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !changed || !snap.Existed {
		t.Errorf("changed = %v, existed = %v; want true, true", changed, snap.Existed)
	}
	if _, err := os.Stat(m.Path("web")); !os.IsNotExist(err) {
		t.Errorf("file should be gone, stat err = %v", err)
	}
}

func TestRestore(t *testing.T) {
	tests := []struct {
		name    string
		initial map[string]any
	}{
		{name: "new file is removed", initial: nil},
		{name: "old content is put back", initial: map[string]any{"mode": "ap"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t)
			var before []byte
			if tt.initial != nil {
				if _, _, err := m.Apply("web", tt.initial); err != nil {
					t.Fatalf("Apply failed: %v", err)
				}
				before, _ = os.ReadFile(m.Path("web"))
			}

			_, snap, err := m.Apply("web", map[string]any{"mode": "sta"})
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			if err := m.Restore(snap); err != nil {
				t.Fatalf("Restore failed: %v", err)
			}

			after, err := os.ReadFile(m.Path("web"))
			if tt.initial == nil {
				if !os.IsNotExist(err) {
					t.Errorf("expected file to be removed, err = %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadFile failed: %v", err)
			}
			if string(after) != string(before) {
				t.Errorf("restored content = %q, want %q", after, before)
			}
		})
	}
}

func TestReload(t *testing.T) {
	m, r := newTestManager(t)
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if len(r.units) != 1 || r.units[0] != "chuted-net.service" {
		t.Errorf("reloaded units = %v", r.units)
	}

	r.err = errors.New("unit failed")
	if err := m.Reload(context.Background()); err == nil {
		t.Error("expected reload error")
	}

	noUnit := New(t.TempDir(), "", nil, zerolog.Nop())
	if err := noUnit.Reload(context.Background()); err != nil {
		t.Errorf("Reload without unit should be a no-op, got %v", err)
	}
}

func TestList(t *testing.T) {
	m, _ := newTestManager(t)
	for _, name := range []string{"a", "b"} {
		if _, _, err := m.Apply(name, map[string]any{"x": 1}); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(m.dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	names, err := m.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("List = %v, want [a b]", names)
	}
}
