package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/config"
	"github.com/aretw0/tendril/internal/logging"
	redisAdapter "github.com/aretw0/tendril/pkg/adapters/redis"
	"github.com/aretw0/tendril/pkg/persistence/middleware"
	"github.com/aretw0/tendril/pkg/ports"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tendril",
	Short: "Tendril is the interaction layer of a multi-feature console",
	Long: `Tendril runs user actions as reversible interactions with deferred commits
and moves typed outputs between features.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			loaded.Log.Level, _ = cmd.Flags().GetString("log-level")
		}
		if cmd.Flags().Changed("log-format") {
			loaded.Log.Format, _ = cmd.Flags().GetString("log-format")
		}
		cfg = loaded
		logger = logging.NewWithFormat(os.Stderr, logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
		slog.SetDefault(logger)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./tendril.toml, ~/.config/tendril or $TENDRIL_CONFIG)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text or json")
}

// newCore builds the core from the loaded config. The returned cleanup closes
// the redis client when one was opened.
func newCore(notifier ports.Notifier) (*tendril.Core, func(), error) {
	opts := []tendril.Option{
		tendril.WithDelay(cfg.Scheduler.Delay),
		tendril.WithCommitTimeout(cfg.Scheduler.CommitTimeout),
		tendril.WithOutputCapacity(cfg.Outputs.Capacity),
		tendril.WithReadyTimeout(cfg.Transfer.ReadyTimeout),
		tendril.WithRouteOverrides(cfg.Routes),
		tendril.WithLogger(logger),
	}
	if len(cfg.Outputs.MaskKeys) > 0 {
		opts = append(opts, tendril.WithPayloadMasking(cfg.Outputs.MaskKeys...))
	}
	key, err := cfg.Outputs.Key()
	if err != nil {
		return nil, nil, err
	}
	if key != nil {
		opts = append(opts, tendril.WithPayloadEncryption(middleware.EncryptionConfig{ActiveKey: key}))
	}
	if notifier != nil {
		opts = append(opts, tendril.WithNotifier(notifier))
	}

	cleanup := func() {}
	var client *goredis.Client
	if cfg.Redis.Addr != "" {
		client = redisAdapter.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		opts = append(opts, tendril.WithRedis(client, cfg.Redis.Prefix))
		cleanup = func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close failed", "err", err)
			}
		}
		logger.Info("using redis backend", "addr", cfg.Redis.Addr)
	}

	core, err := tendril.New(opts...)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("initializing tendril: %w", err)
	}
	return core, cleanup, nil
}
