package main

import (
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe the configured store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx := cmd.Context()
		if remoteURL != "" {
			cl, err := openClient(cfg, logger)
			if err != nil {
				return err
			}
			defer cl.Close()
			info, err := cl.Info(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, info)
		}

		c, err := openCache(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer c.Close(ctx)

		info, err := c.Info(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, info)
	},
}
