package client

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/saveenergy/chunkbench/internal/api"
	"github.com/saveenergy/chunkbench/internal/config"
	"github.com/saveenergy/chunkbench/internal/logging"
	"github.com/saveenergy/chunkbench/internal/results"
	"github.com/saveenergy/chunkbench/internal/websocket"
	"github.com/saveenergy/chunkbench/pkg/types"
)

// liveFeed serves the websocket feed of the running session and, when a
// history store is open, the read-only history API next to it. A nil
// *liveFeed is a valid no-op.
type liveFeed struct {
	ws   *websocket.Server
	srv  *http.Server
	addr net.Addr
}

func startLiveFeed(cfg *config.Config, sessionID string, store *results.Store) (*liveFeed, error) {
	if cfg.LiveAddress == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", cfg.LiveAddress)
	if err != nil {
		return nil, err
	}

	ws := websocket.NewServer()
	ws.SetSessionID(sessionID)
	ws.SetAllowedOrigins(cfg.AllowedOrigins)

	router := api.NewRouter()
	router.SetFeedHandler(ws.HandleFeed)
	router.SetAllowedOrigins(cfg.AllowedOrigins)
	router.SetRateLimiter(cfg.RateLimitPerIP)
	if store != nil {
		router.SetResultsHandler(results.NewHandler(store))
	}

	srv := &http.Server{
		Handler:           router.SetupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Error("Live feed server failed", logging.Field{Key: "error", Value: err})
		}
	}()

	logging.Info("Live feed listening",
		logging.Field{Key: "url", Value: "ws://" + ln.Addr().String() + "/ws"})
	return &liveFeed{ws: ws, srv: srv, addr: ln.Addr()}, nil
}

func (f *liveFeed) PublishChunk(r types.ChunkRecord) {
	if f == nil {
		return
	}
	f.ws.PublishChunk(r)
}

func (f *liveFeed) PublishSummary(report any) {
	if f == nil {
		return
	}
	f.ws.PublishSummary(report)
}

func (f *liveFeed) PublishError(err error) {
	if f == nil {
		return
	}
	f.ws.PublishError(err)
}

func (f *liveFeed) Close() {
	if f == nil {
		return
	}
	f.ws.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.srv.Shutdown(ctx); err != nil {
		logging.Warn("Live feed shutdown error", logging.Field{Key: "error", Value: err})
	}
}
