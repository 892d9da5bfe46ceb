package engine

import (
	"fmt"
	"testing"

	"github.com/edgechute/chuted/pkg/chute"
)

func installedChute() *chute.Chute {
	c := chute.New("hello")
	c.Version = "3"
	c.Description = "hello world"
	c.AddService(&chute.Service{Name: "main", Image: "nginx:1.27"})
	c.Config["web"] = map[string]any{"port": 80}
	return c
}

func TestNewUpdateDesiredState(t *testing.T) {
	tests := []struct {
		name      string
		typ       UpdateType
		newChute  *chute.Chute
		wantState chute.State
		wantNil   bool
	}{
		{name: "start from record", typ: UpdateStart, wantState: chute.StateRunning},
		{name: "stop from record", typ: UpdateStop, wantState: chute.StateStopped},
		{name: "restart from record", typ: UpdateRestart, wantState: chute.StateRunning},
		{name: "stop with partial chute", typ: UpdateStop, newChute: &chute.Chute{Name: "hello"}, wantState: chute.StateStopped},
		{name: "delete drops new", typ: UpdateDelete, newChute: chute.New("hello"), wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := installedChute()
			old.State = chute.StateStopped
			if tt.typ == UpdateStop {
				old.State = chute.StateRunning
			}

			oldState := old.State
			u := NewUpdate(tt.typ, tt.newChute, old)

			if tt.wantNil {
				if u.New != nil {
					t.Fatalf("New = %v, want nil", u.New)
				}
				if u.ChuteName() != "hello" {
					t.Errorf("ChuteName() = %q, want hello", u.ChuteName())
				}
				return
			}
			if u.New == nil {
				t.Fatal("New is nil")
			}
			if u.New.State != tt.wantState {
				t.Errorf("state = %s, want %s", u.New.State, tt.wantState)
			}
			if u.New.Version != "3" || u.New.Description != "hello world" {
				t.Errorf("attributes not inherited: %+v", u.New)
			}
			if _, err := u.New.DefaultService(); err != nil {
				t.Errorf("services not inherited: %v", err)
			}
			if u.New == old {
				t.Error("new chute must not alias the old record")
			}
			if old.State != oldState {
				t.Error("old record state was mutated")
			}
		})
	}
}

func TestNewUpdateCreate(t *testing.T) {
	c := chute.New("fresh")
	u := NewUpdate(UpdateCreate, c, nil)

	if u.ID == "" {
		t.Error("update ID is empty")
	}
	if u.New != c {
		t.Error("create should keep the new chute as given")
	}
	if u.Plans == nil || u.Plans.Pending() != 0 {
		t.Error("plan graph should be empty")
	}
	if u.ChuteName() != "fresh" {
		t.Errorf("ChuteName() = %q", u.ChuteName())
	}
}

func TestUpdateRouterName(t *testing.T) {
	u := NewUpdate(UpdateReboot, nil, nil)
	if u.ChuteName() != "router" {
		t.Errorf("ChuteName() = %q, want router", u.ChuteName())
	}
	if !u.Type.IsRouterOp() {
		t.Error("reboot should be a router operation")
	}
}

func TestUpdateTypeValidate(t *testing.T) {
	for _, typ := range []UpdateType{UpdateCreate, UpdateUpdate, UpdateStart, UpdateStop,
		UpdateRestart, UpdateDelete, UpdateFactoryReset, UpdateReboot, UpdateShutdown} {
		if err := typ.Validate(); err != nil {
			t.Errorf("%s: %v", typ, err)
		}
	}
	if err := UpdateType("upgrade").Validate(); err == nil {
		t.Error("unknown type should not validate")
	}
}

func TestUpdateProgressAndCache(t *testing.T) {
	u := NewUpdate(UpdateReboot, nil, nil)
	u.Progress("Rebooting in 60 seconds.")
	u.SetCache("externalSystemDir", "/var/lib/chuted")

	if len(u.Messages) != 1 || u.Messages[0] != "Rebooting in 60 seconds." {
		t.Errorf("messages = %v", u.Messages)
	}
	if u.GetCache("externalSystemDir") != "/var/lib/chuted" {
		t.Errorf("cache = %v", u.Cache)
	}
	if u.GetCache("missing") != nil {
		t.Error("missing key should be nil")
	}
}

func TestEngineErrorClassification(t *testing.T) {
	err := NewRejectedError("chute not installed", nil).WithChute("hello").WithCode(ErrCodeNotFound)
	if !IsRejected(err) || IsFatal(err) {
		t.Errorf("classification wrong for %v", err)
	}
	want := "[rejected] chute not installed (chute=hello)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !IsRejected(fmt.Errorf("admission: %w", err)) {
		t.Error("IsRejected should see through wrapping")
	}
}

func TestStageString(t *testing.T) {
	if StageCallStop.String() != "call_stop" {
		t.Errorf("String() = %q", StageCallStop.String())
	}
	if Stage(42).String() != "stage(42)" {
		t.Errorf("String() = %q", Stage(42).String())
	}
}
