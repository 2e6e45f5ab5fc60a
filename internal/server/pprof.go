package server

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewPprofServer builds the profiling server. It should only be reachable
// internally or over an SSH tunnel.
func NewPprofServer(addr string) *http.Server {
	pprofRouter := gin.New()
	pprof.Register(pprofRouter)
	return &http.Server{Addr: addr, Handler: pprofRouter}
}

// StartPprofServer serves pprof in the background until srv is shut down.
func StartPprofServer(srv *http.Server, logger *zap.Logger) {
	go func() {
		logger.Info("Starting pprof server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("pprof server error", zap.Error(err))
		}
	}()
}
