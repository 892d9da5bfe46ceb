package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edgechute/chuted/pkg/config"
	"github.com/edgechute/chuted/pkg/manager"
	"github.com/edgechute/chuted/pkg/policy"
	"github.com/edgechute/chuted/pkg/report"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent",
		Long: `Run the agent in the foreground.

The agent executes update requests one at a time. Requests arrive as files
dropped into the spool directory and, when MQTT is enabled, as messages on the
router's request topic. Results are recorded in the update history and
reported upstream.`,
		Example: `  # Run with the default configuration
  chuted run

  # Run with a config file and log every event
  chuted run --config /etc/chuted/chuted.yaml --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runAgent(cmd.Context(), cfg)
		},
	}

	return cmd
}

func runAgent(ctx context.Context, cfg *config.Config) error {
	a, err := newAgent(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.tel.StartMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = a.manager.Run(ctx)
	}()

	if dir := cfg.SpoolDir(); dir != "" {
		spool := manager.NewSpool(dir, a.manager, a.tel.Logger.NewComponentLogger("spool").Zerolog())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := spool.Run(ctx); err != nil {
				a.logger.Error().Err(err).Str("dir", dir).Msg("spool stopped")
			}
		}()
	}

	if a.policy != nil {
		if cfg.Policy.Watch && len(cfg.Policy.Paths) > 0 {
			if err := a.policy.Watch(ctx, cfg.Policy.Paths); err != nil {
				a.logger.Warn().Err(err).Msg("policy reload disabled")
			}
		}

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer signal.Stop(hup)
			reloadOnSignal(ctx, hup, a.policy, a.logger)
		}()
	}

	var client *report.Client
	if cfg.MQTT.Enabled {
		client, err = connectMQTT(cfg, a)
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
	}

	log.Info().
		Str("router_id", a.sess.RouterID).
		Str("mode", string(a.sess.Mode)).
		Msg("Agent running")

	<-ctx.Done()
	wg.Wait()

	if client != nil {
		client.Disconnect()
	}
	log.Info().Msg("Agent stopped")
	return nil
}

// reloadOnSignal rereads the policy files every time sig fires until ctx is
// done. A failed reload keeps the current policies.
func reloadOnSignal(ctx context.Context, sig <-chan os.Signal, pe *policy.Engine, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			if err := pe.ReloadPolicies(ctx); err != nil {
				logger.Error().Err(err).Msg("policy reload failed")
				continue
			}
			logger.Info().Int("policies", len(pe.ListPolicies())).Msg("policies reloaded")
		}
	}
}

// connectMQTT connects to the broker, reports update events and queues the
// requests received on the router's request topic.
func connectMQTT(cfg *config.Config, a *agent) (*report.Client, error) {
	logger := a.tel.Logger.NewComponentLogger("mqtt").Zerolog()

	client := report.NewClient(mqttConfig(cfg), logger)
	if err := client.Connect(); err != nil {
		return nil, err
	}

	reporter := report.NewMQTTReporter(client, cfg.MQTT.TopicPrefix, a.sess.RouterID, logger)
	reporter.Attach(a.tel.Events)

	err := reporter.ListenRequests(func(payload []byte) error {
		return enqueueRequest(a.manager, payload, logger)
	})
	if err != nil {
		client.Disconnect()
		return nil, err
	}
	return client, nil
}

func enqueueRequest(m *manager.Manager, payload []byte, logger zerolog.Logger) error {
	req, err := manager.ParseRequest(payload)
	if err != nil {
		return err
	}
	if err := m.Enqueue(req); err != nil {
		return err
	}
	logger.Debug().
		Str("type", string(req.Type)).
		Str("chute", req.ChuteName()).
		Int("pending", m.Pending()).
		Msg("queued request")
	return nil
}

func mqttConfig(cfg *config.Config) report.MQTTConfig {
	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "chuted-" + cfg.Router.ID
	}
	return report.MQTTConfig{
		Broker:         cfg.MQTT.Broker,
		ClientID:       clientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		TopicPrefix:    cfg.MQTT.TopicPrefix,
		QoS:            cfg.MQTT.QoS,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
	}
}
