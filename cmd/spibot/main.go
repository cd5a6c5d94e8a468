// Command spibot is a terminal client for the spiritual guidance backend:
// ask questions by typing or speaking and read, or hear, the answers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Bhavikr1/spibot/internal/app"
	"github.com/Bhavikr1/spibot/internal/config"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "spibot: %v\n", err)
		return 1
	}
	return 0
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
	logLevel   string
	apiURL     string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	chat := newChatCmd(g)

	root := &cobra.Command{
		Use:   "spibot",
		Short: "Ask scripture-grounded questions by text or voice",
		Long: `spibot talks to a spiritual guidance backend. Questions are answered
from scripture with citations; spoken questions are transcribed and the
answer can be played back.

Without a subcommand spibot starts an interactive chat.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          chat.RunE,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", config.DefaultPath, "path to the YAML configuration file")
	pf.StringVar(&g.envFile, "env-file", ".env", "dotenv file read before "+config.EnvAPIURL+" is applied")
	pf.StringVar(&g.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")
	pf.StringVar(&g.apiURL, "api-url", "", "override the backend base URL")

	root.AddCommand(chat, newAskCmd(g), newSearchCmd(g), newHealthCmd(g))
	return root
}

// ─── Configuration ───────────────────────────────────────────────────────────

// loadConfig resolves the configuration: YAML file (optional when left at the
// default path), dotenv and environment, then command-line overrides. It also
// installs the default logger.
func loadConfig(cmd *cobra.Command, g *globalFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cmd.Flags().Changed("config") {
		cfg, err = config.Load(g.configPath)
	} else {
		cfg, err = config.LoadOrDefault(g.configPath)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found", g.configPath)
		}
		return nil, err
	}

	if g.logLevel != "" {
		cfg.LogLevel = config.LogLevel(g.logLevel)
	}
	if err := config.LoadEnv(cfg, g.envFile); err != nil {
		return nil, err
	}
	if g.apiURL != "" {
		cfg.API.BaseURL = g.apiURL
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}

	slog.SetDefault(newLogger(cfg.LogLevel))
	slog.Debug("configuration loaded",
		"config", g.configPath,
		"base_url", cfg.API.BaseURL,
		"log_level", cfg.LogLevel,
	)
	return cfg, nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// withApp loads the configuration, builds the application, runs fn and shuts
// the application down.
func withApp(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig(cmd, g)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, app.WithVersion(version))
	if err != nil {
		return err
	}

	runErr := fn(ctx, a)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown error", "err", err)
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
