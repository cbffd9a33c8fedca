package server

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/saveenergy/chunkbench/internal/logging"
)

func startPprofServer(addr string) *http.Server {
	if addr == "" {
		return nil
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: http.DefaultServeMux,
	}

	go func() {
		logging.Info("pprof server starting", logging.Field{Key: "address", Value: addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("pprof server failed", logging.Field{Key: "error", Value: err})
		}
	}()

	return srv
}

func shutdownPprofServer(srv *http.Server, timeout time.Duration) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("pprof server shutdown error", logging.Field{Key: "error", Value: err})
	}
}
