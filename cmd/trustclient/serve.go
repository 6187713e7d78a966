package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"trustclient/gateway"
	"trustclient/gateway/middleware"
	telemetry "trustclient/observability/otel"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the client as a JSON-RPC endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := telemetry.Init(ctx, telemetry.Config{
				ServiceName: "trustclient",
				Endpoint:    a.cfg.Telemetry.Endpoint,
				Insecure:    a.cfg.Telemetry.Insecure,
				Headers:     a.cfg.Telemetry.Headers,
			})
			if err != nil {
				return err
			}
			defer func() { _ = shutdown(context.Background()) }()

			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			gw := a.cfg.Gateway
			if listen != "" {
				gw.Listen = listen
			}
			srv := gateway.New(gateway.Config{
				Listen:    gw.Listen,
				RateLimit: middleware.RateLimit{RequestsPerMinute: gw.RequestsPerMinute, Burst: gw.Burst},
				CORS:      middleware.CORSConfig{AllowedOrigins: gw.AllowedOrigins},
				Auth: middleware.AuthConfig{
					HMACSecret: os.Getenv(gw.AuthSecretEnv),
					Issuer:     gw.AuthIssuer,
					Audience:   gw.AuthAudience,
				},
			}, c, a.logger)
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides Gateway.Listen)")
	return cmd
}
