package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// GracefulShutdown stops srv, giving in-flight requests shutdownTimeout to
// finish.
func GracefulShutdown(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	logger.Info("Shutting down gracefully", zap.String("addr", srv.Addr))

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}
	logger.Info("Server exiting", zap.String("addr", srv.Addr))
	return nil
}
