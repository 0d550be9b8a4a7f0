package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/reasonrelay/reasonrelay/pkg/config"
	"github.com/reasonrelay/reasonrelay/pkg/logutil"
	"github.com/reasonrelay/reasonrelay/pkg/relay"
	"github.com/reasonrelay/reasonrelay/pkg/tunnel"
)

var (
	serveConfigPath         string
	serveListenAddrOverride string
	serveTunnelOverride     bool
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig(serveConfigPath)
			if err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("load server config: %w", err)
				}
				cfg = config.NewDefaultServerConfig()
				if err := config.SaveServerConfig(serveConfigPath, cfg); err != nil {
					return fmt.Errorf("write default config: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", serveConfigPath)
			}
			if cmd.Flags().Changed("listen-addr") {
				cfg.ListenAddr = serveListenAddrOverride
			}
			if cmd.Flags().Changed("tunnel") {
				cfg.Tunnel.Enabled = serveTunnelOverride
			}
			if err := logutil.Configure(cfg.LogLevel); err != nil {
				return err
			}

			srv, err := relay.NewServer(cfg)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Tunnel.Enabled {
				tun, err := tunnel.Start(ctx, cfg.Tunnel.Binary, cfg.ListenAddr, cfg.Tunnel.InspectAddr)
				if err != nil {
					// The relay still serves locally without the tunnel.
					log.Warn("tunnel unavailable", "err", err)
				} else {
					defer func() { _ = tun.Stop() }()
					log.Info("tunnel established", "url", tun.PublicURL)
					fmt.Fprintf(cmd.OutOrStdout(), "Public URL: %s\n", tun.PublicURL)
				}
			}

			return srv.Run(ctx)
		},
	}
	serveCmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultServerConfigPath(), "Server config TOML path")
	serveCmd.Flags().StringVar(&serveListenAddrOverride, "listen-addr", "", "Override listen address from config (e.g. 127.0.0.1:5000)")
	serveCmd.Flags().BoolVar(&serveTunnelOverride, "tunnel", false, "Override tunnel.enabled in config")
	rootCmd.AddCommand(serveCmd)
}
