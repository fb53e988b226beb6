// Package main is the command line client of the repository.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bitrepository/reference-sub015/internal/app"
	"github.com/bitrepository/reference-sub015/internal/config"
	"github.com/bitrepository/reference-sub015/pkg/logger"
)

// globals holds the persistent flags and what is built from them before
// a subcommand runs.
type globals struct {
	settingsFile string
	natsURL      string
	clientID     string
	local        bool
	logLevel     string

	cfg      *config.Config
	settings *config.Settings
	log      *logger.Logger
}

func newRootCommand() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:           "bitrepo",
		Short:         "Run operations against the collections of a bit repository",
		Example:       "bitrepo get-status books\nbitrepo --local put-file books report.pdf --url https://files.example.org/report.pdf --checksum 9a0364b9",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.load(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if g.log != nil {
				_ = g.log.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&g.settingsFile, "settings", "s", "", "Repository settings file (TOML); defaults to $SETTINGS_FILE")
	flags.StringVar(&g.natsURL, "nats-url", "", "NATS server URL; defaults to $NATS_URL")
	flags.StringVar(&g.clientID, "client-id", "", "Client id used on the bus; defaults to $CLIENT_ID")
	flags.BoolVar(&g.local, "local", false, "Use an in-process bus with simulated pillars")
	flags.StringVar(&g.logLevel, "log-level", "warn", "Log level")

	cmd.AddCommand(newOperationCommands(g)...)
	cmd.AddCommand(
		newPillarCommand(g),
		newAlarmsCommand(g),
		newTokenCommand(g),
	)

	return cmd
}

// load reads the environment, applies flag overrides and loads the settings.
func (g *globals) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("settings") {
		cfg.SettingsFile = g.settingsFile
	}
	if flags.Changed("nats-url") {
		cfg.NATSURL = g.natsURL
	}
	if flags.Changed("client-id") {
		cfg.ClientID = g.clientID
		cfg.ReceiverDestination = "client." + g.clientID
	}
	if g.local {
		cfg.LocalBus = true
	}
	g.cfg = cfg

	// Logs go to stderr; stdout carries results.
	g.log, err = logger.NewTo(g.logLevel, "stderr")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.SetGlobal(g.log)

	g.settings, err = config.LoadSettings(cfg.SettingsFile)
	return err
}

// runtime wires a client for a single command.
func (g *globals) runtime(ctx context.Context) (*app.Runtime, error) {
	return app.New(ctx, g.cfg, g.settings, g.log)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
