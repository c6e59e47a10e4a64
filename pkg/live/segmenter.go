package live

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ActivitySignaler receives activity boundaries derived from audio chunk timing.
type ActivitySignaler interface {
	SendActivityStart(ctx context.Context) error
	SendActivityEnd(ctx context.Context) error
}

// Segmenter opens an activity on the first audio chunk and closes it once no chunk
// arrived for the idle threshold. Every chunk schedules its own check; only a check that
// still sees the gap performs the transition.
type Segmenter struct {
	connID string
	idle   time.Duration
	slack  time.Duration
	now    func() time.Time

	mu     sync.Mutex
	ctx    context.Context
	signal ActivitySignaler
	open   bool
	last   time.Time
	closed bool
}

func NewSegmenter(ctx context.Context, connID string, idle time.Duration, signal ActivitySignaler) *Segmenter {
	if idle <= 0 {
		idle = 800 * time.Millisecond
	}
	return &Segmenter{
		connID: connID,
		idle:   idle,
		// timer jitter allowance, 50ms at the default threshold
		slack:  idle / 16,
		now:    time.Now,
		ctx:    ctx,
		signal: signal,
	}
}

// OnChunk records an audio chunk, opening an activity if none is open.
func (s *Segmenter) OnChunk() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if !s.open {
		if err := s.signal.SendActivityStart(s.ctx); err != nil {
			return err
		}
		s.open = true
		log.Debug().Str("component", "live").Str("conn_id", s.connID).Msg("activity start")
	}
	s.last = s.now()
	time.AfterFunc(s.idle, s.check)
	return nil
}

func (s *Segmenter) check() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.open {
		return
	}
	if s.now().Sub(s.last) < s.idle-s.slack {
		return
	}
	if err := s.signal.SendActivityEnd(s.ctx); err != nil {
		log.Warn().Err(err).Str("component", "live").Str("conn_id", s.connID).Msg("activity end failed")
		return
	}
	s.open = false
	log.Debug().Str("component", "live").Str("conn_id", s.connID).Msg("activity end")
}

func (s *Segmenter) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Close disarms pending checks.
func (s *Segmenter) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
