package main

import (
	"context"
	"os"
	"strings"

	"github.com/Bhavikr1/spibot/internal/api"
	"github.com/Bhavikr1/spibot/internal/app"
	"github.com/spf13/cobra"
)

func newChatCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation (default)",
		Long: `Start an interactive conversation. Type a question and press enter, or
use /mic to record a spoken question. /help lists every command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				return a.Run(ctx, os.Stdin, cmd.OutOrStdout())
			})
		},
	}
}

func newAskCmd(g *globalFlags) *cobra.Command {
	var (
		noStream bool
		lang     string
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				if lang != "" {
					if err := a.Orchestrator().SetLanguage(lang); err != nil {
						return err
					}
				}
				return a.Ask(ctx, strings.Join(args, " "), !noStream, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the complete answer instead of streaming it")
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "answer language (en or hi)")
	return cmd
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	var req api.SearchRequest
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search scripture passages without generating an answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Query = strings.Join(args, " ")
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				return a.Search(ctx, req, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVarP(&req.Scripture, "scripture", "s", "", "restrict results to one scripture (e.g. bhagavad_gita)")
	cmd.Flags().IntVarP(&req.Limit, "limit", "n", 0, "maximum number of passages (0 = backend default)")
	cmd.Flags().StringVarP(&req.Language, "lang", "l", "", "language of the query (en or hi)")
	return cmd
}

func newHealthCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report the backend health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				return a.CheckHealth(ctx, cmd.OutOrStdout())
			})
		},
	}
}
