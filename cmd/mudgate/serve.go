package main

import (
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/mudgate/core"
	"pkt.systems/mudgate/internal/appconfig"
	"pkt.systems/mudgate/internal/command"
	"pkt.systems/mudgate/internal/game"
	"pkt.systems/mudgate/internal/script"
	"pkt.systems/mudgate/sshserver"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}

			svc, err := core.NewService(cfg.Service.Pipeline(), core.ServiceDeps{Logger: logger})
			if err != nil {
				return err
			}

			reqs, err := appconfig.LoadTriggers(cfg.Triggers.File)
			if err != nil {
				return err
			}
			for _, req := range reqs {
				if _, err := svc.Triggers().Add(req); err != nil {
					return err
				}
			}
			if len(reqs) > 0 {
				logger.Info("triggers bootstrapped", "count", len(reqs), "file", cfg.Triggers.File)
			}

			host := script.NewHost(svc, logger)
			if err := host.LoadAll(ctx, cfg.Scripts.Files); err != nil {
				return err
			}
			defer host.Close(ctx)

			upstream := game.New(game.Config{
				Addr:           cfg.Game.Addr,
				ConnectTimeout: time.Duration(cfg.Game.ConnectTimeout) * time.Second,
				Reconnect:      time.Duration(cfg.Game.ReconnectSeconds) * time.Second,
			}, svc, logger)

			errCh := make(chan error, 2)
			go func() {
				errCh <- upstream.Run(ctx)
			}()

			server := &sshserver.Server{
				Addr:        cfg.SSH.Addr,
				HostKeyPath: cfg.SSH.HostKeyPath,
				Service:     svc,
				Handler:     command.NewHandler(svc),
				Upstream:    upstream,
				Logger:      logger,
			}
			logger.Info("mudgate serving", "ssh", cfg.SSH.Addr, "game", cfg.Game.Addr)
			go func() {
				errCh <- server.ListenAndServe(ctx)
			}()

			select {
			case <-ctx.Done():
				return nil
			case err := <-errCh:
				return err
			}
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}
