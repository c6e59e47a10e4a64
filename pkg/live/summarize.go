package live

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/livecoord/pkg/profiles"
	"github.com/go-go-golems/livecoord/pkg/sessions"
)

const summaryPrompt = "Based on the session history so far, generate concise metadata."

// Summarize runs the summary profile over a session's event log and returns the
// concatenated text of its first complete turn. It holds an admission slot while the
// stream is open.
func (c *Coordinator) Summarize(ctx context.Context, sessionID, hint string) (string, error) {
	sess, err := c.sessions.Lookup(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if err := c.checkBackend(); err != nil {
		return "", err
	}
	profile, ok := c.profiles.Get(profiles.SummaryKey)
	if !ok {
		return "", errors.Wrapf(ErrUnknownProfile, "%q", profiles.SummaryKey)
	}
	profile.TextOnly = true

	slot, err := c.limiter.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer slot.Release()

	stream, err := c.backend.Open(ctx, profile, sess.ID)
	if err != nil {
		return "", errors.Wrap(err, "open summary stream")
	}
	defer func() {
		_ = stream.Close()
	}()

	if err := stream.SendTurn(ctx, summaryTurn(sess, hint)); err != nil {
		return "", errors.Wrap(err, "send summary prompt")
	}

	var out strings.Builder
	for {
		ev, err := stream.Recv(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Error().Err(err).Str("component", "live").Str("session_id", sessionID).Msg("summarizer run failed")
			return "", errors.Wrap(err, "summarize")
		}
		for _, seg := range ev.Segments {
			if seg.Kind != SegmentBlob {
				out.WriteString(seg.Text)
			}
		}
		if ev.TurnComplete {
			break
		}
	}
	return strings.TrimSpace(out.String()), nil
}

func summaryTurn(sess *sessions.Session, hint string) Turn {
	segs := make([]Segment, 0, 3)
	if len(sess.Events) > 0 {
		var b strings.Builder
		b.WriteString("Session history:\n")
		for _, ev := range sess.Events {
			fmt.Fprintf(&b, "%s: %s\n", ev.Author, ev.Text)
		}
		segs = append(segs, InstructionSegment(b.String()))
	}
	segs = append(segs, TextSegment(summaryPrompt))
	if hint = strings.TrimSpace(hint); hint != "" {
		segs = append(segs, TextSegment("Additional hint: "+hint))
	}
	return Turn{Segments: segs}
}
