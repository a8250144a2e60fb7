package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dicetables-db/internal/builder"
	"dicetables-db/internal/config"
	"dicetables-db/internal/dice"
)

var (
	showProgress bool

	buildCmd = &cobra.Command{
		Use:   "build [request]",
		Short: "Build one table and print its summary",
		Long: `Build the table for a request such as "3*Die(6) & ModDie(4, 1)", reusing
and extending whatever the store already holds. Intermediates are written
back before the command exits. With --remote the build runs on the server.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runBuild,
	}
)

func init() {
	buildCmd.Flags().BoolVarP(&showProgress, "progress", "p", false, "print each intermediate table as it is built")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	request := strings.Join(args, " ")
	if remoteURL != "" {
		return buildRemote(cmd, cfg, logger, request)
	}

	record, err := dice.ParseRequest(request, cfg.RequestOptions())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	c, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	out := cmd.OutOrStdout()
	var progress chan builder.Progress
	printed := make(chan struct{})
	if showProgress {
		progress = make(chan builder.Progress, 16)
		go func() {
			defer close(printed)
			for p := range progress {
				printProgress(out, p)
			}
		}()
	} else {
		close(printed)
	}

	table, err := c.Process(ctx, record, progress)
	if progress != nil {
		close(progress)
	}
	<-printed
	if err != nil {
		return err
	}
	return printJSON(cmd, dice.Summarize(table))
}

func buildRemote(cmd *cobra.Command, cfg config.Config, logger *zap.Logger, request string) error {
	ctx := cmd.Context()
	cl, err := openClient(cfg, logger)
	if err != nil {
		return err
	}
	defer cl.Close()

	if !showProgress {
		summary, err := cl.Build(ctx, request)
		if err != nil {
			return err
		}
		return printJSON(cmd, summary)
	}

	events, err := cl.BuildStream(ctx, request)
	if err != nil {
		return err
	}
	var summary *dice.Summary
	for ev := range events {
		switch {
		case ev.Err != nil:
			return ev.Err
		case ev.Progress != nil:
			printProgress(cmd.OutOrStdout(), *ev.Progress)
		case ev.Summary != nil:
			summary = ev.Summary
		}
	}
	if summary == nil {
		return fmt.Errorf("server closed the stream before the summary")
	}
	return printJSON(cmd, summary)
}

func printProgress(out io.Writer, p builder.Progress) {
	if !p.Done {
		fmt.Fprintln(out, p.Table)
	}
}
