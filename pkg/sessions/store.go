package sessions

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrSessionExists = errors.New("session id already in use")
)

// Event is one entry of a session's ordered event log.
type Event struct {
	Author string    `json:"author"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
}

// Session is a logical conversation owned by one user inside an application namespace.
// Values returned by Store are snapshots; mutate through Store methods.
type Session struct {
	ID         string         `json:"id"`
	AppName    string         `json:"app_name"`
	UserID     string         `json:"user_id"`
	State      map[string]any `json:"state"`
	Events     []Event        `json:"events"`
	LastUpdate time.Time      `json:"last_update"`
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.State = make(map[string]any, len(s.State))
	for k, v := range s.State {
		out.State[k] = v
	}
	out.Events = append([]Event(nil), s.Events...)
	return &out
}

// Store is a concurrency-safe in-memory session registry.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: map[string]*Session{},
		now:      time.Now,
	}
}

// Create registers a new session. An empty id gets a random one. Reusing an id that is
// already registered fails with ErrSessionExists.
func (s *Store) Create(_ context.Context, appName, userID, id string, state map[string]any) (*Session, error) {
	if s == nil {
		return nil, errors.New("session store: nil store")
	}
	appName = strings.TrimSpace(appName)
	userID = strings.TrimSpace(userID)
	if appName == "" || userID == "" {
		return nil, errors.New("session store: app name and user id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.createLocked(appName, userID, strings.TrimSpace(id), state)
	if err != nil {
		return nil, err
	}
	return sess.clone(), nil
}

func (s *Store) createLocked(appName, userID, id string, state map[string]any) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := s.sessions[id]; ok {
		return nil, errors.Wrapf(ErrSessionExists, "session %s", id)
	}
	sess := &Session{
		ID:         id,
		AppName:    appName,
		UserID:     userID,
		State:      map[string]any{},
		LastUpdate: s.now(),
	}
	for k, v := range state {
		sess.State[k] = v
	}
	s.sessions[id] = sess
	return sess, nil
}

// Get returns the session only when both namespace and owner match.
func (s *Store) Get(_ context.Context, appName, userID, id string) (*Session, error) {
	if s == nil {
		return nil, errors.New("session store: nil store")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[strings.TrimSpace(id)]
	if !ok || sess.AppName != appName || sess.UserID != userID {
		return nil, ErrNotFound
	}
	return sess.clone(), nil
}

// Lookup resolves a session by id alone. It is meant for server-side callers that already
// hold the id from a trusted record (for example a registered connection).
func (s *Store) Lookup(_ context.Context, id string) (*Session, error) {
	if s == nil {
		return nil, errors.New("session store: nil store")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.clone(), nil
}

// List returns the sessions of one owner, most recently updated first.
func (s *Store) List(_ context.Context, appName, userID string) []*Session {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	out := make([]*Session, 0)
	for _, sess := range s.sessions {
		if sess.AppName == appName && sess.UserID == userID {
			out = append(out, sess.clone())
		}
	}
	s.mu.RUnlock()
	sortByRecency(out)
	return out
}

// Delete removes an owned session. Deleting an absent or foreign id is a no-op.
func (s *Store) Delete(_ context.Context, appName, userID, id string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.AppName != appName || sess.UserID != userID {
		return false
	}
	delete(s.sessions, id)
	return true
}

// Ensure returns the most recently updated session of the owner or creates one.
func (s *Store) Ensure(_ context.Context, appName, userID string) (*Session, error) {
	if s == nil {
		return nil, errors.New("session store: nil store")
	}
	appName = strings.TrimSpace(appName)
	userID = strings.TrimSpace(userID)
	if appName == "" || userID == "" {
		return nil, errors.New("session store: app name and user id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Session
	for _, sess := range s.sessions {
		if sess.AppName != appName || sess.UserID != userID {
			continue
		}
		if best == nil || sess.LastUpdate.After(best.LastUpdate) ||
			(sess.LastUpdate.Equal(best.LastUpdate) && sess.ID < best.ID) {
			best = sess
		}
	}
	if best == nil {
		var err error
		best, err = s.createLocked(appName, userID, "", nil)
		if err != nil {
			return nil, err
		}
	}
	return best.clone(), nil
}

// AppendEvent adds an entry to the session's event log and bumps its last-update time.
func (s *Store) AppendEvent(_ context.Context, id string, ev Event) error {
	if s == nil {
		return errors.New("session store: nil store")
	}
	now := s.now()
	if ev.Time.IsZero() {
		ev.Time = now
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "session %s", id)
	}
	sess.Events = append(sess.Events, ev)
	sess.LastUpdate = now
	return nil
}

// PurgeIdle drops sessions whose last update is older than idle and returns the purged ids.
// Sessions for which inUse reports true are kept regardless of age.
func (s *Store) PurgeIdle(now time.Time, idle time.Duration, inUse func(id string) bool) []string {
	if s == nil || idle <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged []string
	for id, sess := range s.sessions {
		if now.Sub(sess.LastUpdate) < idle || (inUse != nil && inUse(id)) {
			continue
		}
		delete(s.sessions, id)
		purged = append(purged, id)
	}
	sort.Strings(purged)
	return purged
}

func (s *Store) Count() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func sortByRecency(items []*Session) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].LastUpdate.Equal(items[j].LastUpdate) {
			return items[i].ID < items[j].ID
		}
		return items[i].LastUpdate.After(items[j].LastUpdate)
	})
}
