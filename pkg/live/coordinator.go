package live

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/livecoord/pkg/admission"
	"github.com/go-go-golems/livecoord/pkg/connections"
	"github.com/go-go-golems/livecoord/pkg/profiles"
	"github.com/go-go-golems/livecoord/pkg/sessions"
)

type Options struct {
	Backend     Backend
	Profiles    *profiles.Registry
	Sessions    *sessions.Store
	Connections *connections.Registry
	Limiter     *admission.Limiter
	Config      Config
}

// Coordinator owns the live connections of the process and the shared state they use.
type Coordinator struct {
	backend  Backend
	profiles *profiles.Registry
	sessions *sessions.Store
	conns    *connections.Registry
	limiter  *admission.Limiter
	cfg      Config
	modes    *ModeTable

	mu   sync.RWMutex
	live map[string]*LiveConnection
}

func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Backend == nil {
		return nil, errors.New("live: backend is required")
	}
	if opts.Profiles == nil {
		return nil, errors.New("live: profile registry is required")
	}
	if opts.Sessions == nil {
		opts.Sessions = sessions.NewStore()
	}
	cfg := opts.Config.withDefaults()
	if opts.Connections == nil {
		opts.Connections = connections.NewRegistry(connections.Options{AppName: cfg.AppName, Sessions: opts.Sessions})
	}
	if opts.Limiter == nil {
		opts.Limiter = admission.NewLimiter(4, 0)
	}
	c := &Coordinator{
		backend:  opts.Backend,
		profiles: opts.Profiles,
		sessions: opts.Sessions,
		conns:    opts.Connections,
		limiter:  opts.Limiter,
		cfg:      cfg,
		modes:    NewModeTable(),
		live:     map[string]*LiveConnection{},
	}
	c.conns.OnEvict(c.modes.Delete)
	return c, nil
}

func (c *Coordinator) Sessions() *sessions.Store         { return c.sessions }
func (c *Coordinator) Connections() *connections.Registry { return c.conns }
func (c *Coordinator) Limiter() *admission.Limiter        { return c.limiter }
func (c *Coordinator) Profiles() *profiles.Registry       { return c.profiles }
func (c *Coordinator) AppName() string                    { return c.conns.AppName() }

// CreateConnection validates the profile and registers a connection bound to a session
// owned by userID.
func (c *Coordinator) CreateConnection(ctx context.Context, profileKey, userID, sessionID string) (connections.Connection, error) {
	profileKey = strings.TrimSpace(profileKey)
	if _, ok := c.profiles.Get(profileKey); !ok {
		return connections.Connection{}, errors.Wrapf(ErrUnknownProfile, "%q", profileKey)
	}
	conn, err := c.conns.Create(ctx, profileKey, userID, sessionID)
	if err != nil {
		return connections.Connection{}, err
	}
	log.Info().Str("component", "live").Str("conn_id", conn.ID).Str("user_id", conn.UserID).
		Str("session_id", conn.SessionID).Str("profile", profileKey).Msg("connection created")
	return conn, nil
}

// SetMode applies to any registered connection, attached or not.
func (c *Coordinator) SetMode(connID, value string) (Mode, error) {
	if _, ok := c.conns.Lookup(connID); !ok {
		return "", errors.Wrapf(connections.ErrNotFound, "connection %s", connID)
	}
	m, err := c.modes.Set(connID, value)
	if err != nil {
		return m, err
	}
	log.Info().Str("component", "live").Str("conn_id", connID).Str("mode", string(m)).Msg("mode set")
	return m, nil
}

func (c *Coordinator) Mode(connID string) Mode { return c.modes.Get(connID) }

// SessionInUse reports whether a registered connection is bound to sessionID. Bound
// sessions are exempt from idle purging.
func (c *Coordinator) SessionInUse(sessionID string) bool { return c.conns.HasSession(sessionID) }

// Lookup returns the attached live connection for connID.
func (c *Coordinator) Lookup(connID string) (*LiveConnection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lc, ok := c.live[connID]
	return lc, ok
}

func (c *Coordinator) ActiveCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.live)
}

func (c *Coordinator) ActiveIDs() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.live))
	for id := range c.live {
		out = append(out, id)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// DeleteSession removes an owned session and tears down every connection bound to it.
func (c *Coordinator) DeleteSession(ctx context.Context, userID, sessionID string) bool {
	if !c.sessions.Delete(ctx, c.AppName(), userID, sessionID) {
		return false
	}
	for _, id := range c.conns.RemoveBySession(sessionID) {
		c.modes.Delete(id)
		log.Info().Str("component", "live").Str("conn_id", id).Str("session_id", sessionID).Msg("connection closed with session")
	}
	return true
}

// Attach binds an open transport to a registered connection. The returned LiveConnection
// must be driven with Run.
func (c *Coordinator) Attach(ctx context.Context, connID, profileKey string, sink Sink) (*LiveConnection, error) {
	conn, ok := c.conns.Lookup(connID)
	if !ok {
		return nil, errors.Wrapf(connections.ErrNotFound, "connection %s", connID)
	}
	if profileKey != "" && profileKey != conn.ProfileKey {
		return nil, errors.Wrapf(ErrProfileMismatch, "connection %s uses %q", connID, conn.ProfileKey)
	}
	profile, ok := c.profiles.Get(conn.ProfileKey)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProfile, "%q", conn.ProfileKey)
	}
	if err := c.checkBackend(); err != nil {
		// the client has to create a new connection once credentials are in place
		c.conns.Remove(connID)
		c.modes.Delete(connID)
		return nil, err
	}

	lcCtx, cancel := context.WithCancel(ctx)
	detach, err := c.conns.Attach(connID, cancel)
	if err != nil {
		cancel()
		return nil, err
	}
	lc := &LiveConnection{
		c:        c,
		conn:     conn,
		profile:  profile,
		sink:     sink,
		cfg:      c.cfg,
		sessions: c.sessions,
		pipeline: newPipeline(connID, c.cfg, c.modes),
		ctx:      lcCtx,
		cancel:   cancel,
		detach:   detach,
	}
	lc.pipeline.onUserTurn = func(t Turn) {
		if text, ok := t.FirstText(); ok {
			lc.record(lcCtx, "user", text)
		}
	}
	c.mu.Lock()
	c.live[connID] = lc
	c.mu.Unlock()
	log.Info().Str("component", "live").Str("conn_id", connID).Str("profile", conn.ProfileKey).Msg("connection attached")
	return lc, nil
}

func (c *Coordinator) checkBackend() error {
	err := c.backend.CheckConfig()
	if err == nil || errors.Is(err, ErrBackendConfig) {
		return err
	}
	return errors.Wrap(ErrBackendConfig, err.Error())
}

// LiveConnection is one attached connection and its task group.
type LiveConnection struct {
	c        *Coordinator
	conn     connections.Connection
	profile  profiles.Profile
	sink     Sink
	cfg      Config
	sessions *sessions.Store
	pipeline *Pipeline

	ctx    context.Context
	cancel context.CancelFunc
	detach func()
	aux    sync.WaitGroup

	cleanupOnce sync.Once
}

func (lc *LiveConnection) ID() string                         { return lc.conn.ID }
func (lc *LiveConnection) Connection() connections.Connection { return lc.conn }
func (lc *LiveConnection) Context() context.Context           { return lc.ctx }
func (lc *LiveConnection) State() PipelineState               { return lc.pipeline.State() }

// SubmitText waits for the backend stream if needed; it gives up when either ctx or the
// connection is cancelled.
func (lc *LiveConnection) SubmitText(ctx context.Context, text string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(lc.ctx, cancel)
	defer stop()
	return lc.pipeline.SubmitText(ctx, text)
}

func (lc *LiveConnection) EnqueueAudio(data []byte) error { return lc.pipeline.EnqueueAudio(data) }

func (lc *LiveConnection) EnqueueVideo(frame VideoFrame) error { return lc.pipeline.EnqueueVideo(frame) }

func (lc *LiveConnection) SetMode(value string) (Mode, error) {
	return lc.c.SetMode(lc.conn.ID, value)
}

// Close cancels every task of the connection.
func (lc *LiveConnection) Close() { lc.cancel() }

// Run drives the connection until inbound returns, the backend stream ends, or the
// connection is cancelled. inbound reads client messages and must honour ctx.
// The audio/video drainers and pending replays are cancelled as cleanup.
func (lc *LiveConnection) Run(inbound func(ctx context.Context) error) error {
	defer lc.cleanup()

	g, gctx := errgroup.WithContext(lc.ctx)
	lc.aux.Add(2)
	go func() {
		defer lc.aux.Done()
		lc.pipeline.runAudio(gctx)
	}()
	go func() {
		defer lc.aux.Done()
		lc.pipeline.runVideo(gctx)
	}()

	if inbound != nil {
		g.Go(func() error {
			defer lc.cancel()
			return inbound(gctx)
		})
	}
	g.Go(func() error {
		defer lc.cancel()
		return lc.respond(gctx)
	})

	err := g.Wait()
	lc.cancel()
	lc.aux.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// respond holds an admission slot for the whole backend stream.
func (lc *LiveConnection) respond(ctx context.Context) error {
	slot, err := lc.c.limiter.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		lc.diagnose(ctx, err)
		return err
	}
	defer slot.Release()

	stream, err := lc.c.backend.Open(ctx, lc.profile, lc.conn.SessionID)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		err = errors.Wrap(err, "open live stream")
		lc.diagnose(ctx, err)
		return err
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Debug().Err(err).Str("component", "live").Str("conn_id", lc.conn.ID).Msg("stream close")
		}
	}()
	lc.pipeline.attach(ctx, stream)
	log.Info().Str("component", "live").Str("conn_id", lc.conn.ID).Str("profile", lc.profile.Key).Msg("live stream open")

	err = lc.demux(ctx, stream)
	if err == nil || ctx.Err() != nil {
		return nil
	}
	var se sinkError
	if !errors.As(err, &se) {
		lc.diagnose(ctx, err)
	}
	log.Error().Err(err).Str("component", "live").Str("conn_id", lc.conn.ID).Msg("response stream failed")
	return err
}

func (lc *LiveConnection) diagnose(ctx context.Context, err error) {
	if sendErr := lc.sink.SendText(ctx, err.Error()); sendErr != nil {
		log.Debug().Err(sendErr).Str("component", "live").Str("conn_id", lc.conn.ID).Msg("diagnostic not delivered")
	}
}

func (lc *LiveConnection) cleanup() {
	lc.cleanupOnce.Do(func() {
		lc.cancel()
		lc.pipeline.close()
		lc.detach()
		c := lc.c
		c.mu.Lock()
		if cur, ok := c.live[lc.conn.ID]; ok && cur == lc {
			delete(c.live, lc.conn.ID)
		}
		c.mu.Unlock()
		c.conns.Remove(lc.conn.ID)
		c.modes.Delete(lc.conn.ID)
		log.Info().Str("component", "live").Str("conn_id", lc.conn.ID).Msg("connection closed")
	})
}
