// Package netconf renders the network settings of chutes to per-chute files
// read by the router's network service, and reloads that service.
package netconf

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Reloader reloads a system service. *system.ServiceManager implements it.
type Reloader interface {
	ReloadOrRestart(ctx context.Context, name string) error
}

// Snapshot is the content of a chute's network file before Apply changed it.
type Snapshot struct {
	Path    string
	Existed bool
	Content []byte
}

// document is the on-disk layout of a chute network file.
type document struct {
	Chute string         `yaml:"chute"`
	Net   map[string]any `yaml:"net"`
}

// Manager writes network files into one directory.
type Manager struct {
	dir      string
	unit     string
	reloader Reloader
	logger   zerolog.Logger
}

// New creates a manager writing to dir and reloading unit through reloader.
// An empty unit disables reloading.
func New(dir, unit string, reloader Reloader, logger zerolog.Logger) *Manager {
	return &Manager{
		dir:      dir,
		unit:     unit,
		reloader: reloader,
		logger:   logger.With().Str("component", "netconf").Logger(),
	}
}

// Path returns the file that holds the settings of a chute.
func (m *Manager) Path(chuteName string) string {
	return filepath.Join(m.dir, chuteName+".yaml")
}

// Render returns the file content for a chute's network settings.
func Render(chuteName string, net map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# Generated by chuted. Local changes are overwritten.\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(document{Chute: chuteName, Net: net}); err != nil {
		return nil, fmt.Errorf("failed to render network config for %s: %w", chuteName, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to render network config for %s: %w", chuteName, err)
	}
	return buf.Bytes(), nil
}

// Apply makes the chute's network file match net. A nil net removes the file.
// It returns whether the file changed and a snapshot that Restore can put back.
func (m *Manager) Apply(chuteName string, net map[string]any) (bool, *Snapshot, error) {
	path := m.Path(chuteName)

	snap, err := m.snapshot(path)
	if err != nil {
		return false, nil, err
	}

	if net == nil {
		if !snap.Existed {
			return false, snap, nil
		}
		if err := os.Remove(path); err != nil {
			return false, nil, fmt.Errorf("failed to remove network config %s: %w", path, err)
		}
		m.logger.Debug().Str("chute", chuteName).Str("path", path).Msg("removed network config")
		return true, snap, nil
	}

	content, err := Render(chuteName, net)
	if err != nil {
		return false, nil, err
	}

	if snap.Existed && sha256.Sum256(content) == sha256.Sum256(snap.Content) {
		return false, snap, nil
	}

	if err := writeFile(path, content); err != nil {
		return false, nil, err
	}

	m.logger.Debug().
		Str("chute", chuteName).
		Str("path", path).
		Int("bytes", len(content)).
		Msg("wrote network config")
	return true, snap, nil
}

// Restore puts a file back the way it was when snap was taken.
func (m *Manager) Restore(snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	if !snap.Existed {
		if err := os.Remove(snap.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove network config %s: %w", snap.Path, err)
		}
		return nil
	}
	return writeFile(snap.Path, snap.Content)
}

// Reload asks the network service to pick up changed files.
func (m *Manager) Reload(ctx context.Context) error {
	if m.unit == "" || m.reloader == nil {
		m.logger.Debug().Msg("no network unit configured, skipping reload")
		return nil
	}
	if err := m.reloader.ReloadOrRestart(ctx, m.unit); err != nil {
		return fmt.Errorf("failed to reload network service %s: %w", m.unit, err)
	}
	return nil
}

// List returns the chutes that have a network file.
func (m *Manager) List() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(m.dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, path := range matches {
		names = append(names, filepath.Base(path[:len(path)-len(".yaml")]))
	}
	return names, nil
}

func (m *Manager) snapshot(path string) (*Snapshot, error) {
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		return &Snapshot{Path: path, Existed: true, Content: content}, nil
	case errors.Is(err, fs.ErrNotExist):
		return &Snapshot{Path: path}, nil
	default:
		return nil, fmt.Errorf("failed to read network config %s: %w", path, err)
	}
}

// writeFile replaces path atomically.
func writeFile(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".netconf-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set mode on %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
