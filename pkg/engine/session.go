package engine

import (
	"os"

	"github.com/rs/zerolog"
)

// Mode selects how much of the host the agent is allowed to touch.
type Mode string

const (
	ModeProduction Mode = "production"
	ModeLocal      Mode = "local"
	ModeUnitTest   Mode = "unittest"
)

// Session carries the identity and process-wide settings that generators and
// operations need. It is created once at process start and passed explicitly.
type Session struct {
	// RouterID identifies this device upstream.
	RouterID string

	// RouterName is a human-readable device name.
	RouterName string

	// Mode is the operating mode.
	Mode Mode

	// Logger is the base logger for the session.
	Logger zerolog.Logger
}

// NewSession creates a session. An empty router ID falls back to the hostname.
func NewSession(routerID, routerName string, mode Mode, logger zerolog.Logger) *Session {
	if routerID == "" {
		if host, err := os.Hostname(); err == nil {
			routerID = host
		}
	}
	if routerName == "" {
		routerName = routerID
	}
	if mode == "" {
		mode = ModeProduction
	}
	return &Session{
		RouterID:   routerID,
		RouterName: routerName,
		Mode:       mode,
		Logger:     logger.With().Str("router_id", routerID).Logger(),
	}
}
