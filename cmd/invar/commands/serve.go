package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/invar/vault/internal/logging"
	"github.com/invar/vault/internal/util"
	"github.com/invar/vault/internal/wallet"
	"github.com/invar/vault/internal/web"
)

func NewServeCmd() *cobra.Command {
	var (
		addr    string
		connect bool
		watch   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the landing and stake pages",
		Long: `Serve the landing page, the stake page, the JSON stake API, the WebSocket
snapshot stream, /health and /metrics.

The wallet password is taken from INVAR_WALLET_PASSWORD, wallet.password_file
or the system keyring; the server never prompts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Web.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := newSession(cfg, false)
			if err != nil {
				return err
			}
			defer s.Close()

			srvCfg := web.DefaultServerConfig()
			srvCfg.Addr = cfg.Web.Addr
			srvCfg.MintURL = cfg.Web.MintURL
			srvCfg.RateLimit = cfg.Web.RateLimit
			srvCfg.RateLimitBurst = cfg.Web.RateLimitBurst
			srvCfg.Version = GetVersion()

			server := web.NewServer(srvCfg, s.ctrl, s.metrics)
			if err := server.Start(ctx); err != nil {
				return err
			}

			if watch {
				changes, err := wallet.Watch(ctx, cfg.Wallet.KeystoreDir)
				if err != nil {
					logging.Warn("keystore watcher unavailable", logging.Err(err), logging.Component("cli"))
				} else {
					util.SafeGoWithName("follow-keystore", func() {
						s.ctrl.FollowAddress(ctx, changes)
					})
				}
			}

			if connect {
				util.SafeGoWithName("initial-connect", func() {
					if _, err := s.ctrl.Connect(ctx); err != nil {
						logging.Warn("initial wallet connect failed", logging.Err(err), logging.Component("cli"))
					}
				})
			}

			fmt.Printf("Serving %s on http://%s\n", Logo(), cfg.Web.Addr)
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Stop(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: web.addr from config)")
	cmd.Flags().BoolVar(&connect, "connect", false, "Connect the keystore wallet at startup")
	cmd.Flags().BoolVar(&watch, "watch", true, "Follow account changes in the keystore directory")

	return cmd
}
