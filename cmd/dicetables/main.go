package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dicetables-db/internal/cache"
	"dicetables-db/internal/client"
	"dicetables-db/internal/config"
	"dicetables-db/internal/store"
	"dicetables-db/pkg/logging/logging"
)

var (
	configFile string
	envFile    string
	remoteURL  string

	rootCmd = &cobra.Command{
		Use:           "dicetables",
		Short:         "Build dice probability tables from a persistent cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")
	rootCmd.PersistentFlags().StringVar(&remoteURL, "remote", "", "base URL of a running server to use instead of the local store")

	rootCmd.AddCommand(serveCmd, buildCmd, infoCmd, resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dicetables:", err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the process logger.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(config.Options{File: configFile, EnvFile: envFile})
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.NewLogger(cfg.LogOptions())
	if err != nil {
		return config.Config{}, nil, err
	}
	logging.SetDefault(logger)
	return cfg, logger, nil
}

func openCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (*cache.Cache, error) {
	s, err := store.Open(ctx, cfg.StoreOptions(), logger)
	if err != nil {
		return nil, err
	}
	c, err := cache.New(ctx, s, cfg.CacheOptions(), logger)
	if err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	return c, nil
}

func openClient(cfg config.Config, logger *zap.Logger) (*client.Client, error) {
	return client.New(client.Config{
		BaseURL: remoteURL,
		Timeout: cfg.Server.RequestTimeout,
	}, logger)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
