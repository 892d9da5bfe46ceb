package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgechute/chuted/pkg/config"
	"github.com/edgechute/chuted/pkg/engine"
	"github.com/edgechute/chuted/pkg/generators"
	"github.com/edgechute/chuted/pkg/manager"
	"github.com/edgechute/chuted/pkg/netconf"
	"github.com/edgechute/chuted/pkg/policy"
	"github.com/edgechute/chuted/pkg/report"
	"github.com/edgechute/chuted/pkg/runtime/docker"
	"github.com/edgechute/chuted/pkg/stores"
	"github.com/edgechute/chuted/pkg/system"
	"github.com/edgechute/chuted/pkg/telemetry"
)

// agent holds everything an update needs, wired from the configuration.
type agent struct {
	cfg     *config.Config
	tel     *telemetry.Telemetry
	logger  zerolog.Logger
	sess    *engine.Session
	store   *stores.SQLiteStore
	policy  *policy.Engine
	docker  *docker.Runtime
	manager *manager.Manager
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// openStore opens and migrates the chute database.
func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	path := cfg.DatabasePath()
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// newPolicyEngine creates the policy engine with the builtin policies plus
// the configured policy files, minus the disabled ones.
func newPolicyEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*policy.Engine, error) {
	pe, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := pe.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return nil, err
		}
	}
	for _, name := range cfg.Policy.Disabled {
		if err := pe.DisablePolicy(name); err != nil {
			return nil, fmt.Errorf("policy.disabled: %w", err)
		}
	}
	return pe, nil
}

func newAgent(ctx context.Context, cfg *config.Config) (*agent, error) {
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	logger := tel.Logger.NewComponentLogger("agent").Zerolog()

	a := &agent{cfg: cfg, tel: tel, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	if a.store, err = openStore(ctx, cfg); err != nil {
		return nil, err
	}

	mode := engine.Mode(cfg.Router.Mode)
	engineLogger := tel.Logger.NewComponentLogger("engine").Zerolog()
	a.sess = engine.NewSession(cfg.Router.ID, cfg.Router.Name, mode, engineLogger)

	var runner system.CommandRunner = system.NewExecRunner(logger)
	if mode != engine.ModeProduction {
		runner = system.NewDryRunRunner(logger)
	}

	deps := generators.Deps{
		Store: a.store,
		Power: system.NewPower(runner),
	}

	if cfg.Docker.Enabled {
		a.docker, err = docker.Connect(cfg.Docker.Host, tel.Logger.NewComponentLogger("docker").Zerolog(),
			docker.WithStopTimeout(cfg.Docker.StopTimeout),
			docker.WithPull(cfg.Docker.Pull),
			docker.WithNetwork(cfg.Docker.Network))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to docker: %w", err)
		}
		deps.Runtime = a.docker
	}

	if cfg.Network.Enabled {
		if err := os.MkdirAll(cfg.Network.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create network config directory: %w", err)
		}
		deps.Network = netconf.New(cfg.Network.Dir, cfg.Network.Unit, system.NewServiceManager(runner), tel.Logger.NewComponentLogger("netconf").Zerolog())
	}

	if cfg.Policy.Enabled {
		if a.policy, err = newPolicyEngine(ctx, cfg, tel.Logger.NewComponentLogger("policy").Zerolog()); err != nil {
			return nil, err
		}
		deps.Policy = a.policy
	}

	report.NewEventRecorder(a.store, logger).Attach(tel.Events)
	if verbose {
		report.NewLogReporter(logger).Attach(tel.Events)
	}

	eng := engine.New(generators.Default(deps),
		engine.WithLogger(engineLogger),
		engine.WithMetrics(tel.Metrics),
		engine.WithTracer(tel.Tracer),
		engine.WithEvents(tel.Events))

	a.manager = manager.New(eng, a.sess, a.store,
		manager.WithMetrics(tel.Metrics),
		manager.WithEvents(tel.Events),
		manager.WithQueueSize(cfg.Router.QueueSize))

	logger.Debug().
		Str("router_id", a.sess.RouterID).
		Str("mode", string(mode)).
		Bool("docker", deps.Runtime != nil).
		Bool("network", deps.Network != nil).
		Bool("policy", deps.Policy != nil).
		Msg("agent ready")

	ok = true
	return a, nil
}

func (a *agent) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if a.docker != nil {
		errs = append(errs, a.docker.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.tel.Shutdown(ctx))

	if err := errors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Msg("shutdown incomplete")
	}
}
