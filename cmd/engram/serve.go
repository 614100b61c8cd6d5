package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/engram-dev/engram/pkg/observability"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the metrics/health listener and the retention cron",
		Long: `Serve exposes /metrics, /health, /health/live, and /health/ready over
HTTP and keeps the scheduled retention cleaner running until SIGINT or
SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if addr == "" {
				addr = rt.Config.Observability.MetricsAddr
			}
			if addr == "" {
				addr = ":9090"
			}

			if err := rt.Cleaner.Start(); err != nil {
				return err
			}
			observability.InitHealthChecker().RegisterCheck(observability.PingCheck())

			srv := observability.NewServer(addr)
			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				log.Printf("[Engram] Serving metrics and health on %s", addr)
				if err := srv.Start(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Println("[Engram] Shutting down...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: the configured metrics_addr or :9090)")

	return cmd
}
