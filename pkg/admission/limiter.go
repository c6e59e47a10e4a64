package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

var ErrAcquireTimeout = errors.New("timed out waiting for a live session slot")

// Limiter bounds the number of concurrently open backend streams.
// Waiters are served in arrival order.
type Limiter struct {
	sem     *semaphore.Weighted
	max     int64
	inUse   atomic.Int64
	timeout time.Duration
}

// Slot is a held unit of the limiter's budget. Release is safe to call more than once.
type Slot struct {
	l    *Limiter
	once sync.Once
}

// NewLimiter returns a limiter allowing max concurrent slots. A positive timeout bounds
// how long Acquire waits; zero waits until a slot frees or ctx is done.
func NewLimiter(max int, timeout time.Duration) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{
		sem:     semaphore.NewWeighted(int64(max)),
		max:     int64(max),
		timeout: timeout,
	}
}

func (l *Limiter) Acquire(ctx context.Context) (*Slot, error) {
	if l == nil {
		return nil, errors.New("admission: nil limiter")
	}
	waitCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrAcquireTimeout
		}
		return nil, errors.Wrap(err, "acquire live slot")
	}
	n := l.inUse.Add(1)
	log.Debug().Str("component", "admission").Int64("in_use", n).Int64("max", l.max).Msg("live slot acquired")
	return &Slot{l: l}, nil
}

func (s *Slot) Release() {
	if s == nil || s.l == nil {
		return
	}
	s.once.Do(func() {
		n := s.l.inUse.Add(-1)
		s.l.sem.Release(1)
		log.Debug().Str("component", "admission").Int64("in_use", n).Int64("max", s.l.max).Msg("live slot released")
	})
}

func (l *Limiter) InUse() int {
	if l == nil {
		return 0
	}
	return int(l.inUse.Load())
}

func (l *Limiter) Max() int {
	if l == nil {
		return 0
	}
	return int(l.max)
}
