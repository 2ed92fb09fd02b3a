package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"jukeboxd/pkg/ai"
	"jukeboxd/pkg/config"
	"jukeboxd/pkg/gateway"
	"jukeboxd/pkg/gitsync"
	"jukeboxd/pkg/logging"
	"jukeboxd/pkg/records"

	// Registers the provider adapters.
	_ "jukeboxd/pkg/ai/providers"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "JUKEBOXD"

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "jukeboxd",
		Short:         "Backend functions for the jukebox kiosk: AI gateway and repository sync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Config file, JSON or YAML (default: ~/.jukeboxd/config.json)")
	root.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "Log format: json or text")
	_ = v.BindPFlags(root.PersistentFlags())

	cobra.OnInitialize(func() { initConfig(v) })

	root.AddCommand(
		newServeCmd(v),
		newStatusCmd(v),
		newChatCmd(v),
		newSyncCmd(v),
		newVersionCmd(),
	)
	return root
}

func initConfig(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// loadConfig reads the config file, overlays the environment and any flags
// set through viper, then validates the result.
func loadConfig(v *viper.Viper) (config.Config, error) {
	path := strings.TrimSpace(v.GetString("config"))
	if path == "" {
		path = config.GetConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	cfg = config.FromEnvironment(cfg)

	if addr := strings.TrimSpace(v.GetString("addr")); addr != "" {
		cfg.Server.Addr = addr
	}
	if level := strings.TrimSpace(v.GetString("log-level")); level != "" {
		cfg.LogLevel = level
	}
	if format := strings.TrimSpace(v.GetString("log-format")); format != "" {
		cfg.LogFormat = format
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// app holds the components built from one configuration.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	gateway *gateway.Gateway
	sync    *gitsync.Synchronizer
}

func newApp(v *viper.Viper) (*app, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}
	logger, err := logging.Init(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	store, err := records.New(cfg.Records, &http.Client{})
	if err != nil {
		return nil, fmt.Errorf("init records: %w", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		gateway: gateway.New(cfg, ai.DefaultRegistry, logger),
		sync:    gitsync.NewFromConfig(cfg, store, logger),
	}, nil
}
