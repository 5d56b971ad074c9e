package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/telemetry"
)

func newServeCommand(a *app) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := server.NewConfigFromEnv()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				sanitized := server.SanitizeConfig(server.Config{Port: port})
				cfg.Port = sanitized.Port
			}
			return a.serve(cmd.Context(), *cfg)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen address (overrides SERVER_PORT)")
	return cmd
}

func (a *app) serve(parent context.Context, cfg server.Config) error {
	authCfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, a.cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			a.log.Warn().Err(err).Msg("error flushing traces")
		}
	}()

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(st, a.log)

	validator := auth.NewValidator(authCfg.SecretKey, st, st, auth.WithLogger(a.log))
	srv, err := server.New(cfg, server.Deps{
		Validator: validator,
		Store:     st,
		Revoker:   auth.NewRevoker(st),
		Logger:    a.log,
	})
	if err != nil {
		return err
	}

	a.log.Info().
		Str("version", server.Version).
		Str("addr", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("database", a.cfg.DatabasePath).
		Msg("starting roomchat")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil {
		return err
	}
	a.log.Info().Msg("server stopped")
	return nil
}
