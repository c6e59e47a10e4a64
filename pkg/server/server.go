// Package server exposes the live coordinator over HTTP: connection setup, session
// administration, and the websocket and event-stream transports.
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/livecoord/pkg/framebus"
	"github.com/go-go-golems/livecoord/pkg/live"
	"github.com/go-go-golems/livecoord/pkg/transport/sse"
	"github.com/go-go-golems/livecoord/pkg/transport/wsconn"
)

type Options struct {
	Addr        string
	Coordinator *live.Coordinator
	Bus         *framebus.Bus
	WebSocket   wsconn.WriterOptions
	// SessionIdleTTL enables purging of sessions without activity. Zero keeps sessions.
	SessionIdleTTL  time.Duration
	SweepInterval   time.Duration
	SSEPingInterval time.Duration
	Upgrader        *websocket.Upgrader
}

type Server struct {
	coord    *live.Coordinator
	bus      *framebus.Bus
	sse      *sse.Handler
	upgrader websocket.Upgrader
	wsOpts   wsconn.WriterOptions

	sessionIdle   time.Duration
	sweepInterval time.Duration

	httpSrv *http.Server
}

func New(opts Options) (*Server, error) {
	if opts.Coordinator == nil {
		return nil, errors.New("server: coordinator is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("server: frame bus is required")
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	if opts.Upgrader != nil {
		upgrader = *opts.Upgrader
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = time.Minute
	}
	s := &Server{
		coord:         opts.Coordinator,
		bus:           opts.Bus,
		sse:           sse.NewHandler(opts.Coordinator, opts.Bus, sse.WithPingInterval(opts.SSEPingInterval)),
		upgrader:      upgrader,
		wsOpts:        opts.WebSocket,
		sessionIdle:   opts.SessionIdleTTL,
		sweepInterval: sweep,
	}
	s.httpSrv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /profiles", s.handleProfiles)
	mux.HandleFunc("POST /connections/{profile}", s.handleCreateConnection)
	mux.HandleFunc("GET /sessions/{user_id}", s.handleListSessions)
	mux.HandleFunc("DELETE /sessions/{user_id}/{session_id}", s.handleDeleteSession)
	mux.HandleFunc("POST /sessions/{session_id}/metadata", s.handleSummarize)
	mux.HandleFunc("GET /ws/{profile}/{connection_id}", s.handleWebSocket)
	mux.HandleFunc("GET /sse/{profile}/{connection_id}", s.sse.Stream)
	for _, kind := range []string{"text", "video", "audio", "mode"} {
		mux.HandleFunc("POST /sse/{profile}/{connection_id}/"+kind, s.sse.Input(kind))
	}
	return mux
}

func (s *Server) HTTPServer() *http.Server { return s.httpSrv }

// Run serves until ctx is cancelled or the process receives SIGINT/SIGTERM, then shuts
// down gracefully. It also runs the connection eviction and session purge loops.
func (s *Server) Run(ctx context.Context) error {
	eg := errgroup.Group{}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	s.coord.Connections().StartEvictionLoop(srvCtx)
	stopPurge := s.coord.Sessions().StartPurgeWorker(srvCtx, s.sessionIdle, s.sweepInterval, s.coord.SessionInUse)
	defer stopPurge()

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		srvCancel()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		if err := s.bus.Close(); err != nil {
			log.Error().Err(err).Msg("frame bus close error")
		}
		log.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.httpSrv.Addr).Msg("starting livecoord server")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server listen error")
			srvCancel()
			return err
		}
		return nil
	})

	return eg.Wait()
}
