package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/accesslens/accesslens/internal/api"
	"github.com/accesslens/accesslens/internal/config"
)

func newServeCmd() *cobra.Command {
	var port int
	var bind string
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the AccessLens API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}
			logger := newLogger(cfg.Server.LogLevel)

			// Graceful shutdown on SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := api.NewServer(cfg.Server, api.Deps{
				Service:        a.svc,
				Health:         a.store,
				Metrics:        a.metrics,
				TracerProvider: a.tracing.Provider(),
				Version:        version,
			}, logger)
			if err != nil {
				return err
			}

			if watch {
				if _, err := os.Stat(cfgFile); err == nil {
					go func() {
						if err := config.Watch(ctx, cfgFile, logger, a.reload); err != nil {
							logger.Warn("config watch stopped", "error", err)
						}
					}()
				}
			}

			printBanner(cmd, cfg, srv.Port())

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "address to bind (default: 127.0.0.1)")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload risk tuning and webhooks when the config file changes")
	return cmd
}

func printBanner(cmd *cobra.Command, cfg *config.Config, port int) {
	bindAddr := cfg.Server.Bind
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	base := fmt.Sprintf("http://%s:%d", bindAddr, port)

	lock := "in-process"
	if cfg.Redis.Addr != "" {
		lock = "redis " + cfg.Redis.Addr
	}

	w := cmd.ErrOrStderr()
	fmt.Fprintln(w)
	fmt.Fprintln(w, banner(
		"accesslens "+version,
		"",
		"API:      "+base+"/v1/findings",
		"Health:   "+base+"/health",
		"Metrics:  "+base+"/metrics",
		"",
		fmt.Sprintf("Store: %s  |  Lock: %s  |  Webhooks: %d", cfg.Database.Driver, lock, len(cfg.Webhooks)),
	))
	fmt.Fprintln(w, "  Press Ctrl+C to stop.")
	fmt.Fprintln(w)
}
