package connections

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/livecoord/pkg/sessions"
)

var (
	ErrNotFound        = errors.New("unknown connection id")
	ErrAlreadyAttached = errors.New("connection already has an open stream")
	ErrMissingUser     = errors.New("user id is required")
)

// SessionResolver is the slice of the session store the registry needs.
type SessionResolver interface {
	Get(ctx context.Context, appName, userID, id string) (*sessions.Session, error)
	Create(ctx context.Context, appName, userID, id string, state map[string]any) (*sessions.Session, error)
	Ensure(ctx context.Context, appName, userID string) (*sessions.Session, error)
}

// Connection binds a client handshake to a user, a profile and a session.
type Connection struct {
	ID         string    `json:"connection_id"`
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	ProfileKey string    `json:"agent_key"`
	CreatedAt  time.Time `json:"-"`
}

type entry struct {
	conn       Connection
	attached   bool
	cancel     context.CancelFunc
	lastActive time.Time
}

type Options struct {
	AppName  string
	Sessions SessionResolver
	// EvictIdle drops connections that were never attached to a stream (or were detached)
	// for longer than this. Zero disables eviction.
	EvictIdle     time.Duration
	EvictInterval time.Duration
}

// Registry maps opaque connection ids to their bound user/profile/session tuple.
type Registry struct {
	appName  string
	sessions SessionResolver

	mu    sync.RWMutex
	conns map[string]*entry
	now   func() time.Time
	newID func() string

	evictIdle     time.Duration
	evictInterval time.Duration
	evictRunning  bool
	onEvict       []func(id string)
}

func NewRegistry(opts Options) *Registry {
	appName := strings.TrimSpace(opts.AppName)
	if appName == "" {
		appName = "livecoord"
	}
	return &Registry{
		appName:       appName,
		sessions:      opts.Sessions,
		conns:         map[string]*entry{},
		now:           time.Now,
		newID:         uuid.NewString,
		evictIdle:     opts.EvictIdle,
		evictInterval: opts.EvictInterval,
	}
}

func (r *Registry) AppName() string { return r.appName }

// Create resolves (or creates) the session and registers a fresh connection id.
// With sessionID set the named session is reused when owned by userID and created otherwise;
// an id owned by somebody else fails with sessions.ErrSessionExists.
func (r *Registry) Create(ctx context.Context, profileKey, userID, sessionID string) (Connection, error) {
	if r == nil || r.sessions == nil {
		return Connection{}, errors.New("connection registry is not initialized")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Connection{}, ErrMissingUser
	}
	sessionID = strings.TrimSpace(sessionID)

	var sess *sessions.Session
	var err error
	if sessionID != "" {
		sess, err = r.sessions.Get(ctx, r.appName, userID, sessionID)
		if errors.Is(err, sessions.ErrNotFound) {
			sess, err = r.sessions.Create(ctx, r.appName, userID, sessionID, nil)
		}
	} else {
		sess, err = r.sessions.Ensure(ctx, r.appName, userID)
	}
	if err != nil {
		return Connection{}, errors.Wrap(err, "resolve session")
	}

	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.newID()
	for _, taken := r.conns[id]; taken; _, taken = r.conns[id] {
		id = r.newID()
	}
	conn := Connection{
		ID:         id,
		UserID:     userID,
		SessionID:  sess.ID,
		ProfileKey: profileKey,
		CreatedAt:  now,
	}
	r.conns[id] = &entry{conn: conn, lastActive: now}
	log.Debug().Str("component", "connections").Str("conn_id", id).Str("user_id", userID).
		Str("session_id", sess.ID).Str("profile", profileKey).Msg("connection created")
	return conn, nil
}

func (r *Registry) Lookup(id string) (Connection, bool) {
	if r == nil {
		return Connection{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return e.conn, true
}

// Attach marks the connection as owning an open stream. cancel is invoked if the connection
// is removed while attached. The returned detach func is idempotent.
func (r *Registry) Attach(id string, cancel context.CancelFunc) (detach func(), err error) {
	if r == nil {
		return nil, ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "connection %s", id)
	}
	if e.attached {
		return nil, errors.Wrapf(ErrAlreadyAttached, "connection %s", id)
	}
	e.attached = true
	e.cancel = cancel
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if cur, ok := r.conns[id]; ok && cur == e {
				e.attached = false
				e.cancel = nil
				e.lastActive = r.now()
			}
			r.mu.Unlock()
		})
	}, nil
}

// Remove drops the connection and cancels its stream if one is attached.
func (r *Registry) Remove(id string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	e, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	if e.cancel != nil {
		e.cancel()
	}
	log.Debug().Str("component", "connections").Str("conn_id", id).Msg("connection removed")
	return true
}

// RemoveBySession drops every connection bound to sessionID and returns their ids.
func (r *Registry) RemoveBySession(sessionID string) []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	var ids []string
	for id, e := range r.conns {
		if e.conn.SessionID == sessionID {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Remove(id)
	}
	return ids
}

// HasSession reports whether any registered connection is bound to sessionID.
func (r *Registry) HasSession(sessionID string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.conns {
		if e.conn.SessionID == sessionID {
			return true
		}
	}
	return false
}

func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) AttachedCount() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.conns {
		if e.attached {
			n++
		}
	}
	return n
}
