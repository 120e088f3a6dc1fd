package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/mockapi"
)

const mockShutdownTimeout = 5 * time.Second

func newMockCmd(g *globals) *cobra.Command {
	var (
		addr    string
		latency time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Serve an in-memory user-counter API to test against",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := g.logger()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return serveMock(ctx, cmd, logger, addr, latency)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().DurationVar(&latency, "latency", 0, "artificial delay added to every response")

	return cmd
}

func serveMock(ctx context.Context, cmd *cobra.Command, logger *zap.Logger, addr string, latency time.Duration) error {
	mock := mockapi.NewServer(mockapi.WithLatency(latency))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           mock.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "mock user-counter API listening on http://%s\n", ln.Addr())
	logger.Info("mock server started", zap.String("addr", ln.Addr().String()), zap.Duration("latency", latency))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mockShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	stats := mock.Stats()
	logger.Info("mock server stopped",
		zap.Int64("create", stats.Create),
		zap.Int64("increment", stats.Increment),
		zap.Int64("count", stats.Count),
		zap.Int64("delete", stats.Delete),
		zap.Int("remaining", mock.Len()))
	return nil
}
