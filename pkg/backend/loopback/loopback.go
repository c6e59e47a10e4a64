// Package loopback provides an in-process backend that echoes input back.
// It is used for local development and end-to-end tests without credentials.
package loopback

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/livecoord/pkg/live"
	"github.com/go-go-golems/livecoord/pkg/profiles"
)

// HandoffPrefix marks text that asks the loopback model to transfer to another profile.
const HandoffPrefix = "handoff:"

type Backend struct {
	reg *profiles.Registry
}

func New(reg *profiles.Registry) *Backend {
	return &Backend{reg: reg}
}

func (b *Backend) CheckConfig() error { return nil }

func (b *Backend) Open(ctx context.Context, p profiles.Profile, sessionID string) (live.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Debug().Str("component", "loopback").Str("session_id", sessionID).Str("profile", p.Key).Msg("stream opened")
	return &stream{
		reg:     b.reg,
		profile: p,
		events:  make(chan live.Event, 64),
		done:    make(chan struct{}),
	}, nil
}

type stream struct {
	reg *profiles.Registry

	mu      sync.Mutex
	profile profiles.Profile

	events    chan live.Event
	done      chan struct{}
	closeOnce sync.Once
}

func (s *stream) author() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile.Key
}

func (s *stream) emit(ctx context.Context, ev live.Event) error {
	select {
	case <-s.done:
		return live.ErrStreamClosed
	default:
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return live.ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stream) SendTurn(ctx context.Context, turn live.Turn) error {
	text, ok := turn.FirstText()
	if ok && strings.HasPrefix(text, HandoffPrefix) {
		target := strings.TrimSpace(strings.TrimPrefix(text, HandoffPrefix))
		if p, found := s.reg.Get(target); found {
			s.mu.Lock()
			s.profile = p
			s.mu.Unlock()
			return s.emit(ctx, live.Event{
				Control: &live.Control{Name: live.ControlHandoff, Target: target},
				Author:  target,
			})
		}
	}

	var segs []live.Segment
	for _, seg := range turn.Segments {
		switch seg.Kind {
		case live.SegmentText:
			segs = append(segs, live.TextSegment(seg.Text))
		case live.SegmentBlob:
			segs = append(segs, live.TextSegment("received "+seg.MIMEType))
		}
	}
	if len(segs) == 0 {
		return nil
	}
	return s.emit(ctx, live.Event{Segments: segs, TurnComplete: true, Author: s.author()})
}

// SendRawChunk echoes audio back as an audio blob; other media is acknowledged silently.
func (s *stream) SendRawChunk(ctx context.Context, data []byte, mimeType string) error {
	if !strings.HasPrefix(mimeType, "audio/") {
		return nil
	}
	buf := append([]byte(nil), data...)
	return s.emit(ctx, live.Event{Segments: []live.Segment{live.BlobSegment(buf, mimeType)}, Author: s.author()})
}

func (s *stream) SendActivityStart(ctx context.Context) error { return nil }

func (s *stream) SendActivityEnd(ctx context.Context) error {
	return s.emit(ctx, live.Event{TurnComplete: true, Author: s.author()})
}

func (s *stream) Recv(ctx context.Context) (live.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		return live.Event{}, io.EOF
	case <-ctx.Done():
		return live.Event{}, ctx.Err()
	}
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
