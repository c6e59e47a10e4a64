package main

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/livecoord/pkg/admission"
	"github.com/go-go-golems/livecoord/pkg/backend/gemini"
	"github.com/go-go-golems/livecoord/pkg/backend/loopback"
	"github.com/go-go-golems/livecoord/pkg/config"
	"github.com/go-go-golems/livecoord/pkg/connections"
	"github.com/go-go-golems/livecoord/pkg/framebus"
	"github.com/go-go-golems/livecoord/pkg/live"
	"github.com/go-go-golems/livecoord/pkg/logging"
	"github.com/go-go-golems/livecoord/pkg/profiles"
	"github.com/go-go-golems/livecoord/pkg/server"
	"github.com/go-go-golems/livecoord/pkg/sessions"
	"github.com/go-go-golems/livecoord/pkg/transport/wsconn"
)

type ServeCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = &ServeCommand{}

func NewServeCommand() (*ServeCommand, error) {
	sections, err := config.Sections()
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"serve",
		cmds.WithShort("Run the HTTP, websocket and event-stream server"),
		cmds.WithLong("Serve the connection API, the websocket and event-stream transports and the live coordinator."),
		cmds.WithFlags(config.ServerFlags()...),
		cmds.WithSections(sections...),
	)
	return &ServeCommand{CommandDescription: desc}, nil
}

func (c *ServeCommand) Run(ctx context.Context, parsed *values.Values) error {
	s, err := config.FromValues(parsed)
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return errors.Wrap(err, "invalid settings")
	}
	return serve(ctx, s)
}

func loadProfiles(s config.Settings) (*profiles.Registry, error) {
	if s.Server.ProfilesFile == "" {
		return profiles.Defaults(), nil
	}
	return profiles.LoadFile(s.Server.ProfilesFile)
}

func buildBackend(s config.Settings, reg *profiles.Registry) live.Backend {
	if s.Server.Backend == config.BackendLoopback {
		return loopback.New(reg)
	}
	return gemini.New(s.GeminiSettings(), reg)
}

func serve(ctx context.Context, s config.Settings) error {
	if ctx == nil {
		ctx = context.Background()
	}
	reg, err := loadProfiles(s)
	if err != nil {
		return err
	}
	backend := buildBackend(s, reg)
	if err := backend.CheckConfig(); err != nil {
		// connections still get a diagnostic per attempt; warn once at startup
		log.Warn().Err(err).Str("backend", s.Server.Backend).Msg("backend is not configured")
	}

	store := sessions.NewStore()
	conns := connections.NewRegistry(connections.Options{
		AppName:       s.Server.AppName,
		Sessions:      store,
		EvictIdle:     s.ConnectionIdleTTL(),
		EvictInterval: s.SweepInterval(),
	})
	coord, err := live.NewCoordinator(live.Options{
		Backend:     backend,
		Profiles:    reg,
		Sessions:    store,
		Connections: conns,
		Limiter:     admission.NewLimiter(s.Live.SessionsMax, s.AcquireTimeout()),
		Config:      s.LiveConfig(),
	})
	if err != nil {
		return err
	}

	bus, err := framebus.New(s.Redis, logging.NewWatermill(log.Logger))
	if err != nil {
		return err
	}
	srv, err := server.New(server.Options{
		Addr:        s.Server.Addr,
		Coordinator: coord,
		Bus:         bus,
		WebSocket: wsconn.WriterOptions{
			SendBuffer:   s.WebSocket.SendBuffer,
			WriteTimeout: s.WriteTimeout(),
			PingInterval: s.PingInterval(),
		},
		SessionIdleTTL: s.SessionIdleTTL(),
		SweepInterval:  s.SweepInterval(),
	})
	if err != nil {
		_ = bus.Close()
		return err
	}
	log.Info().Str("backend", s.Server.Backend).Int("live_sessions_max", s.Live.SessionsMax).
		Bool("enable_audio", s.Live.EnableAudio).Bool("redis", s.Redis.RedisEnabled).Msg("livecoord configured")
	return srv.Run(ctx)
}
