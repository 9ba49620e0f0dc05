package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/cradlehq/cradle/pkg/api"
	"github.com/cradlehq/cradle/pkg/config"
	"github.com/cradlehq/cradle/pkg/events"
	"github.com/cradlehq/cradle/pkg/log"
	"github.com/cradlehq/cradle/pkg/manager"
	"github.com/cradlehq/cradle/pkg/reaper"
	"github.com/cradlehq/cradle/pkg/runtime"
	"github.com/cradlehq/cradle/pkg/storage"
	"github.com/cradlehq/cradle/pkg/types"
)

// serverConfig is the environment-driven server configuration. Runtime
// settings (engine endpoint, expiration, limits, assignment) live in the
// store and are seeded from the defaults here on first boot.
type serverConfig struct {
	ListenAddr   string        `env:"CRADLE_LISTEN_ADDR" envDefault:":4000"`
	DataDir      string        `env:"CRADLE_DATA_DIR" envDefault:"./cradle-data"`
	AdminToken   string        `env:"CRADLE_ADMIN_TOKEN"`
	LogLevel     string        `env:"CRADLE_LOG_LEVEL" envDefault:"info"`
	LogJSON      bool          `env:"CRADLE_LOG_JSON" envDefault:"false"`
	ReapInterval time.Duration `env:"CRADLE_REAP_INTERVAL" envDefault:"10s"`

	DefaultEndpoint   string `env:"CRADLE_DOCKER_HOST" envDefault:"unix:///var/run/docker.sock"`
	DefaultHostname   string `env:"CRADLE_HOSTNAME" envDefault:"localhost"`
	DefaultExpiration int    `env:"CRADLE_EXPIRATION_SECONDS" envDefault:"3600"`
	DefaultMaxMemory  string `env:"CRADLE_MAX_MEMORY" envDefault:"512m"`
	DefaultMaxCPU     string `env:"CRADLE_MAX_CPU" envDefault:"0.5"`
	DefaultAssignment string `env:"CRADLE_ASSIGNMENT" envDefault:"user"`
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the cradle server",
	Long: `Run the cradle server: the HTTP API, the instance registry and the
background reaper. Configuration comes from CRADLE_* environment
variables; runtime settings are persisted in the data directory and
editable over the API without a restart.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	var cfg serverConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	logger := log.WithComponent("server")

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	handle := config.NewHandle(store, runtime.NewDockerAdapter)
	if err := handle.Load(&config.Snapshot{
		Endpoint:   cfg.DefaultEndpoint,
		Hostname:   cfg.DefaultHostname,
		Expiration: time.Duration(cfg.DefaultExpiration) * time.Second,
		Limits: types.ResourceLimits{
			Memory: cfg.DefaultMaxMemory,
			CPU:    cfg.DefaultMaxCPU,
		},
		Assignment: types.AssignmentMode(cfg.DefaultAssignment),
	}); err != nil {
		var reconnect *config.ReconnectError
		if !errors.As(err, &reconnect) {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		// Settings loaded; the engine comes back via the API or a restart.
		logger.Warn().Err(reconnect.Err).Str("endpoint", reconnect.Endpoint).
			Msg("engine unreachable at startup")
	}

	broker := events.NewBroker()
	broker.Start()
	audit := events.StartAuditLogger(broker, log.WithComponent("audit"))

	mgr := manager.NewManager(store, store, handle, broker)

	reap := reaper.NewReaper(mgr, cfg.ReapInterval)
	reap.Start()

	server := api.NewServer(mgr, handle, store, broker, cfg.ListenAddr, cfg.AdminToken)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info().Str("addr", cfg.ListenAddr).Str("data_dir", cfg.DataDir).Msg("cradle server running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	reap.Stop()
	audit.Stop()
	broker.Stop()

	logger.Info().Msg("shutdown complete")
	return nil
}
