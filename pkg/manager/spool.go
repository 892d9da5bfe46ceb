package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/edgechute/chuted/pkg/engine"
)

// Submitter runs a request and returns its outcome.
type Submitter interface {
	Submit(ctx context.Context, req *Request) (*engine.Outcome, error)
}

// SpoolResult is written next to the spool for every processed request.
type SpoolResult struct {
	Request     string           `json:"request"`
	State       engine.ExecState `json:"state,omitempty"`
	Error       string           `json:"error,omitempty"`
	Outcome     *engine.Outcome  `json:"outcome,omitempty"`
	ProcessedAt time.Time        `json:"processed_at"`
}

// Spool turns request files dropped into a directory into updates. A file
// is picked up once it has not changed for the settle delay, submitted, and
// replaced by a result document under results/.
type Spool struct {
	dir       string
	resultDir string
	submit    Submitter
	settle    time.Duration
	logger    zerolog.Logger
}

// NewSpool creates a spool reading requests from dir.
func NewSpool(dir string, submit Submitter, logger zerolog.Logger) *Spool {
	return &Spool{
		dir:       dir,
		resultDir: filepath.Join(dir, "results"),
		submit:    submit,
		settle:    500 * time.Millisecond,
		logger:    logger.With().Str("component", "spool").Str("dir", dir).Logger(),
	}
}

// ResultPath returns where the result of the request file named base is written.
func (s *Spool) ResultPath(base string) string {
	return filepath.Join(s.resultDir, strings.TrimSuffix(base, filepath.Ext(base))+".json")
}

// Run watches the spool directory until ctx is cancelled. Requests already
// present when Run starts are processed first, in name order.
func (s *Spool) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.resultDir, 0o750); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	existing, err := s.scan()
	if err != nil {
		return err
	}
	for _, path := range existing {
		s.handle(ctx, path)
	}

	s.logger.Info().Int("backlog", len(existing)).Msg("watching spool directory")

	due := make(map[string]time.Time)
	ticker := time.NewTicker(s.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isRequestFile(event.Name) || event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			due[event.Name] = time.Now().Add(s.settle)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("spool watcher error")

		case now := <-ticker.C:
			var ready []string
			for path, at := range due {
				if !now.Before(at) {
					ready = append(ready, path)
				}
			}
			sort.Strings(ready)
			for _, path := range ready {
				delete(due, path)
				s.handle(ctx, path)
			}
		}
	}
}

func (s *Spool) scan() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && isRequestFile(e.Name()) {
			paths = append(paths, filepath.Join(s.dir, e.Name()))
		}
	}
	return paths, nil
}

func (s *Spool) handle(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("file", path).Msg("failed to read request")
		}
		return
	}

	base := filepath.Base(path)
	res := &SpoolResult{Request: base}

	req, err := ParseRequest(data)
	if err != nil {
		res.Error = err.Error()
	} else {
		out, err := s.submit.Submit(ctx, req)
		switch {
		case err != nil:
			res.Error = err.Error()
		default:
			res.Outcome = out
			res.State = out.State
			if out.Err != nil {
				res.Error = out.Err.Error()
			}
		}
	}
	res.ProcessedAt = time.Now()

	logger := s.logger.With().Str("file", base).Logger()
	if err := s.writeResult(base, res); err != nil {
		logger.Error().Err(err).Msg("failed to write request result, leaving request in place")
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Msg("failed to remove processed request")
	}
	logger.Info().Str("state", string(res.State)).Str("error", res.Error).Msg("request processed")
}

func (s *Spool) writeResult(base string, res *SpoolResult) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	target := s.ResultPath(base)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

func isRequestFile(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
