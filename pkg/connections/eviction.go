package connections

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

func (r *Registry) SetEvictionConfig(idle, interval time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.evictIdle = idle
	r.evictInterval = interval
	r.mu.Unlock()
}

func (r *Registry) StartEvictionLoop(ctx context.Context) {
	if r == nil {
		return
	}
	if ctx == nil {
		panic("connections: StartEvictionLoop requires non-nil ctx")
	}
	r.mu.Lock()
	if r.evictRunning {
		r.mu.Unlock()
		return
	}
	idle := r.evictIdle
	interval := r.evictInterval
	if idle <= 0 || interval <= 0 {
		r.mu.Unlock()
		return
	}
	r.evictRunning = true
	r.mu.Unlock()

	go r.runEvictionLoop(ctx, interval)
}

func (r *Registry) runEvictionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.evictRunning = false
			r.mu.Unlock()
			return
		case now := <-ticker.C:
			if n := r.evictIdleOnce(now); n > 0 {
				log.Info().Str("component", "connections").Int("evicted", n).Msg("evicted idle connections")
			}
		}
	}
}

// OnEvict registers fn to run, outside the registry lock, for every connection dropped by eviction.
func (r *Registry) OnEvict(fn func(id string)) {
	if r == nil || fn == nil {
		return
	}
	r.mu.Lock()
	r.onEvict = append(r.onEvict, fn)
	r.mu.Unlock()
}

// evictIdleOnce drops detached connections whose last activity is older than the idle TTL.
// Attached connections are never evicted.
func (r *Registry) evictIdleOnce(now time.Time) int {
	if r == nil {
		return 0
	}
	if now.IsZero() {
		now = r.now()
	}

	r.mu.Lock()
	idle := r.evictIdle
	if idle <= 0 {
		r.mu.Unlock()
		return 0
	}
	var evicted []string
	for id, e := range r.conns {
		if e.attached || e.lastActive.IsZero() {
			continue
		}
		if now.Sub(e.lastActive) < idle {
			continue
		}
		delete(r.conns, id)
		evicted = append(evicted, id)
	}
	hooks := append([]func(string){}, r.onEvict...)
	r.mu.Unlock()

	for _, id := range evicted {
		for _, fn := range hooks {
			fn(id)
		}
	}
	return len(evicted)
}
