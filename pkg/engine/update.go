package engine

import (
	"fmt"
	"time"

	"github.com/edgechute/chuted/pkg/chute"
	"github.com/google/uuid"
)

// UpdateType selects which generators contribute to an update.
type UpdateType string

const (
	UpdateCreate       UpdateType = "create"
	UpdateUpdate       UpdateType = "update"
	UpdateStart        UpdateType = "start"
	UpdateStop         UpdateType = "stop"
	UpdateRestart      UpdateType = "restart"
	UpdateDelete       UpdateType = "delete"
	UpdateFactoryReset UpdateType = "factoryreset"
	UpdateReboot       UpdateType = "reboot"
	UpdateShutdown     UpdateType = "shutdown"
)

// Validate checks if the update type is known.
func (t UpdateType) Validate() error {
	switch t {
	case UpdateCreate, UpdateUpdate, UpdateStart, UpdateStop, UpdateRestart,
		UpdateDelete, UpdateFactoryReset, UpdateReboot, UpdateShutdown:
		return nil
	default:
		return fmt.Errorf("unknown update type: %q", t)
	}
}

// IsRouterOp reports whether the update acts on the router rather than a chute.
func (t UpdateType) IsRouterOp() bool {
	return t == UpdateFactoryReset || t == UpdateReboot || t == UpdateShutdown
}

// Phase names the part of the pipeline a response was recorded in.
type Phase string

const (
	PhaseExecute Phase = "execute"
	PhaseAbort   Phase = "abort"
)

// Response is a result or diagnostic record surfaced to the caller.
type Response struct {
	Message   string    `json:"message"`
	Trace     string    `json:"trace,omitempty"`
	Phase     Phase     `json:"phase"`
	Stage     string    `json:"stage,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Update is the work order for one chute or router state transition.
type Update struct {
	ID        string
	Type      UpdateType
	Old       *chute.Chute
	New       *chute.Chute
	Plans     *PlanGraph
	Cache     map[string]any
	Responses []Response
	Messages  []string
	CreatedAt time.Time
}

// NewUpdate creates an update. For start, stop and restart the new chute
// inherits missing attributes from the old one and gets its desired state set
// accordingly. Delete updates carry no new chute.
func NewUpdate(updateType UpdateType, newChute, oldChute *chute.Chute) *Update {
	if updateType == UpdateDelete {
		newChute = nil
	}

	switch updateType {
	case UpdateStart, UpdateStop, UpdateRestart:
		if oldChute != nil {
			if newChute == nil {
				newChute = oldChute.Clone()
			} else {
				newChute = newChute.Clone()
				newChute.InheritAttributes(oldChute)
				if len(newChute.Services) == 0 {
					newChute.Services = oldChute.Clone().Services
				}
				if len(newChute.Config) == 0 {
					newChute.Config = oldChute.Clone().Config
				}
			}
		}
		if newChute != nil {
			if updateType == UpdateStop {
				newChute.State = chute.StateStopped
			} else {
				newChute.State = chute.StateRunning
			}
		}
	}

	u := &Update{
		ID:        uuid.New().String(),
		Type:      updateType,
		Old:       oldChute,
		New:       newChute,
		Cache:     make(map[string]any),
		CreatedAt: time.Now(),
	}
	u.Plans = NewPlanGraph(u.ChuteName())
	return u
}

// ChuteName returns the name of the chute the update acts on, or "router".
func (u *Update) ChuteName() string {
	switch {
	case u.New != nil && u.New.Name != "":
		return u.New.Name
	case u.Old != nil && u.Old.Name != "":
		return u.Old.Name
	default:
		return "router"
	}
}

// Progress records a human-readable progress message.
func (u *Update) Progress(msg string) {
	u.Messages = append(u.Messages, msg)
}

// SetCache stores a value computed mid-pipeline.
func (u *Update) SetCache(key string, value any) {
	u.Cache[key] = value
}

// GetCache returns a cached value or nil.
func (u *Update) GetCache(key string) any {
	return u.Cache[key]
}

func (u *Update) addResponse(r Response) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	u.Responses = append(u.Responses, r)
}

func (u *Update) String() string {
	return fmt.Sprintf("<Update %s %s %s>", u.ID, u.Type, u.ChuteName())
}
