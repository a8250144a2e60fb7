package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	forceReset bool

	resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Delete every cached table in the configured collection",
		Args:  cobra.NoArgs,
		RunE:  runReset,
	}
)

func init() {
	resetCmd.Flags().BoolVar(&forceReset, "force", false, "Required to confirm the deletion of all cached tables.")
}

func runReset(cmd *cobra.Command, _ []string) error {
	if !forceReset {
		return errors.New("reset deletes every cached table; pass --force to confirm")
	}
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	c, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	if err := c.Reset(ctx); err != nil {
		return err
	}
	logger.Info("collection reset", zap.String("collection", cfg.Store.Collection))
	fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", cfg.Store.Collection)
	return nil
}
