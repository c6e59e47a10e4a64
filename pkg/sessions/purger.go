package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// StartPurgeWorker periodically drops sessions idle for longer than idle, skipping those
// inUse reports as bound to a live connection.
// It returns a stop function that blocks until the worker exited.
// A non-positive idle or interval disables the worker.
func (s *Store) StartPurgeWorker(ctx context.Context, idle, interval time.Duration, inUse func(id string) bool) func() {
	if s == nil || idle <= 0 || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case now := <-ticker.C:
				if purged := s.PurgeIdle(now, idle, inUse); len(purged) > 0 {
					log.Info().Str("component", "sessions").Int("count", len(purged)).Msg("purged idle sessions")
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
