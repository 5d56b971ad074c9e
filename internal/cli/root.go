// Package cli wires the roomchat commands: the chat server and the operator
// commands that manage users, rooms and tokens in the shared database.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/roomchat/internal/store"
	"github.com/Tyrowin/roomchat/internal/telemetry"
)

// appConfig holds settings shared by every command.
type appConfig struct {
	DatabasePath string `env:"DATABASE_PATH"          envDefault:"roomchat.db"`
	LogLevel     string `env:"LOG_LEVEL"              envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT"             envDefault:"json"`
	OTelEndpoint string `env:"OTEL_EXPORTER_ENDPOINT"`
}

// app is the state built by the root command before any subcommand runs.
type app struct {
	envFile string
	dbPath  string
	level   string

	cfg appConfig
	log zerolog.Logger
}

// NewRootCommand builds the roomchat command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "roomchat",
		Short:         "Real-time room chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path (overrides DATABASE_PATH)")
	root.PersistentFlags().StringVar(&a.level, "log-level", "", "log level (overrides LOG_LEVEL)")

	root.AddCommand(
		newServeCommand(a),
		newUserCommand(a),
		newRoomCommand(a),
		newTokenCommand(a),
	)
	return root
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (a *app) load(cmd *cobra.Command) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", a.envFile, err)
		}
	}

	if err := env.Parse(&a.cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if cmd.Flags().Changed("db") {
		a.cfg.DatabasePath = a.dbPath
	}
	if cmd.Flags().Changed("log-level") {
		a.cfg.LogLevel = a.level
	}

	a.log = telemetry.NewLogger(a.cfg.LogLevel, a.cfg.LogFormat, cmd.ErrOrStderr())
	return nil
}

// openStore opens the configured database; the caller closes it.
func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(ctx, a.cfg.DatabasePath, store.WithLogger(a.log))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func closeStore(st *store.Store, log zerolog.Logger) {
	if err := st.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing store")
	}
}
