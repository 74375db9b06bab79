package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shepherd-ai/shepherd/internal/agent"
	"github.com/shepherd-ai/shepherd/internal/config"
	"github.com/shepherd-ai/shepherd/internal/gateway"
	"github.com/shepherd-ai/shepherd/internal/observability"
	"github.com/shepherd-ai/shepherd/internal/profiles"
	"github.com/shepherd-ai/shepherd/internal/providers"
	"github.com/shepherd-ai/shepherd/internal/runtime"
	"github.com/shepherd-ai/shepherd/internal/secrets"
	"github.com/shepherd-ai/shepherd/internal/sessions"
)

const defaultConfigPath = "shepherd.yaml"

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the shepherd gateway server",
		Long: `Start the gateway with all configured agents.

The server loads agent profiles, connects to their tool servers, and
serves conversations over a websocket endpoint alongside health and
metrics endpoints. Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  shepherd serve

  # Start with custom config
  shepherd serve --config /etc/shepherd/production.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	metrics := observability.NewMetrics(nil)
	_, shutdownTracer := observability.NewTracer(cfg.Tracing)

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	provider, err := buildModelProvider(cfg)
	if err != nil {
		return err
	}

	source, err := buildProfileSource(cfg, logger)
	if err != nil {
		return err
	}

	reporter, err := buildStatusReporter(cfg, logger)
	if err != nil {
		return err
	}

	broadcaster := gateway.NewBroadcaster()
	factory := runtime.NewFactory(provider, buildSecretStore(cfg), reporter, broadcaster, cfg, metrics, logger)
	rt := runtime.New(store, source, factory, metrics, logger)

	var pruner *runtime.Pruner
	if cfg.Approvals.TTL > 0 {
		pruner, err = runtime.NewPruner(rt, store, cfg.Approvals.TTL, cfg.Approvals.PruneSchedule, metrics, logger)
		if err != nil {
			return fmt.Errorf("configure approval pruner: %w", err)
		}
		pruner.Start()
	}

	server := gateway.NewServer(cfg, rt, broadcaster, logger)
	if err := server.Start(); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	logger.Info("shepherd started",
		"addr", server.Addr(),
		"provider", provider.Name(),
		"model", provider.Model(),
		"store", cfg.Store.Driver)

	notifyCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-notifyCtx.Done()

	logger.Info("shutting down")
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if pruner != nil {
		pruner.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown failed", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", "error", err)
	}
	return nil
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		return config.Default(), nil
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (sessions.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return sessions.NewSQLiteStore(cfg.Store.DSN)
	case "postgres":
		return sessions.NewPostgresStore(cfg.Store.DSN)
	default:
		return sessions.NewMemoryStore(), nil
	}
}

func buildModelProvider(cfg *config.Config) (agent.ModelProvider, error) {
	switch cfg.Model.Provider {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  firstNonEmpty(cfg.Model.APIKey, os.Getenv("ANTHROPIC_API_KEY")),
			BaseURL: cfg.Model.BaseURL,
			Model:   cfg.Model.Model,
		})
	default:
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:  firstNonEmpty(cfg.Model.APIKey, os.Getenv("OPENAI_API_KEY")),
			BaseURL: cfg.Model.BaseURL,
			Model:   cfg.Model.Model,
		})
	}
}

func buildProfileSource(cfg *config.Config, logger *slog.Logger) (profiles.Provider, error) {
	if cfg.Profiles.Dir == "" {
		return profiles.StaticProvider(profiles.Defaults()), nil
	}
	fp, err := profiles.NewFileProvider(cfg.Profiles.Dir, cfg.Profiles.Watch, logger)
	if err != nil {
		return nil, err
	}
	return fp, nil
}

func buildStatusReporter(cfg *config.Config, logger *slog.Logger) (*profiles.Reporter, error) {
	if cfg.Profiles.Dir == "" {
		return profiles.NewReporter(nil, logger), nil
	}
	sink, err := profiles.NewFileStatusSink(filepath.Join(cfg.Profiles.Dir, "status"))
	if err != nil {
		return nil, fmt.Errorf("create status sink: %w", err)
	}
	return profiles.NewReporter(sink, logger), nil
}

func buildSecretStore(cfg *config.Config) secrets.Store {
	chain := secrets.Chain{secrets.EnvStore{}}
	if cfg.Secrets.Dir != "" {
		chain = append(secrets.Chain{secrets.NewFileStore(cfg.Secrets.Dir)}, chain...)
	}
	return chain
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
