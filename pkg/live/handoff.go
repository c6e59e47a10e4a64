package live

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// replayTurn re-sends turn after a handoff. Each delay is an offset from start. An attempt
// pushes the retained blob as a raw chunk, then a text turn carrying the retained text or
// fallback. A failed attempt is logged and the next one still runs.
func replayTurn(ctx context.Context, s Stream, turn Turn, start time.Time, delays []time.Duration, fallback, connID, target string) {
	prompt, ok := turn.FirstText()
	if !ok {
		prompt = fallback
	}
	blob, hasBlob := turn.FirstBlob()
	if hasBlob && blob.MIMEType == "" {
		blob.MIMEType = defaultImageMIME
	}

	for i, d := range delays {
		t := time.NewTimer(time.Until(start.Add(d)))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		err := func() error {
			if hasBlob {
				if err := s.SendRawChunk(ctx, blob.Data, blob.MIMEType); err != nil {
					return errors.Wrap(err, "replay blob")
				}
			}
			return errors.Wrap(s.SendTurn(ctx, Turn{Segments: []Segment{TextSegment(prompt)}}), "replay text")
		}()
		if err != nil {
			log.Error().Err(err).Str("component", "live").Str("conn_id", connID).Str("target", target).
				Int("attempt", i+1).Msg("replay after handoff failed")
			continue
		}
		log.Info().Str("component", "live").Str("conn_id", connID).Str("target", target).
			Int("attempt", i+1).Bool("blob", hasBlob).Msg("replayed user input after handoff")
	}
}

func (lc *LiveConnection) startReplay(s Stream, target string) {
	turn, ok := lc.pipeline.LastTurn()
	if !ok {
		log.Debug().Str("component", "live").Str("conn_id", lc.conn.ID).Str("target", target).Msg("handoff without a retained turn, nothing to replay")
		return
	}
	start := time.Now()
	lc.aux.Add(1)
	go func() {
		defer lc.aux.Done()
		replayTurn(lc.ctx, s, turn, start, lc.cfg.ReplayDelays, lc.cfg.FallbackPrompt, lc.conn.ID, target)
	}()
}
