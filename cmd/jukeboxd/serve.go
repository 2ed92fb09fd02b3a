package main

import (
	"os/signal"
	"syscall"

	"jukeboxd/pkg/gateway"
	"jukeboxd/pkg/gitsync"
	"jukeboxd/pkg/server"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /ai-gateway and /full-repo-sync over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v)
			if err != nil {
				return err
			}

			mux := server.NewMux(server.Routes{
				Gateway: gateway.NewHandler(a.gateway),
				Sync:    gitsync.NewHandler(a.sync),
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			available := 0
			for _, p := range a.gateway.Status() {
				if p.Available {
					available++
				}
			}
			a.logger.Info("serve_config",
				"addr", a.cfg.Server.Addr,
				"providers_available", available,
				"sync_backend", a.cfg.Sync.Backend,
				"records", a.cfg.Records.Kind,
			)

			return server.New(a.cfg.Server, mux, a.logger).Run(ctx)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default from config, :8080)")
	_ = v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}
