package gemini

import (
	"context"
	"io"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/go-go-golems/livecoord/pkg/live"
	"github.com/go-go-golems/livecoord/pkg/profiles"
)

// stream adapts a genai live session. A transfer tool call reconnects to the target
// profile in place; sends issued meanwhile wait for the new session.
type stream struct {
	backend   *Backend
	sessionID string

	// mu serializes writes on the session and guards session swaps.
	mu      sync.Mutex
	session *genai.Session
	profile profiles.Profile

	events    chan live.Event
	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	readErr   error
}

func (s *stream) send(ctx context.Context, fn func(*genai.Session) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return live.ErrStreamClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.session)
}

func (s *stream) SendTurn(ctx context.Context, turn live.Turn) error {
	content := toContent(turn)
	if len(content.Parts) == 0 {
		return errors.Wrap(live.ErrEmptyInput, "turn")
	}
	return s.send(ctx, func(sess *genai.Session) error {
		return sess.SendClientContent(genai.LiveClientContentInput{Turns: []*genai.Content{content}})
	})
}

func (s *stream) SendRawChunk(ctx context.Context, data []byte, mimeType string) error {
	return s.send(ctx, func(sess *genai.Session) error {
		return sess.SendRealtimeInput(realtimeInput(data, mimeType))
	})
}

func (s *stream) SendActivityStart(ctx context.Context) error {
	return s.send(ctx, func(sess *genai.Session) error {
		return sess.SendRealtimeInput(genai.LiveRealtimeInput{ActivityStart: &genai.ActivityStart{}})
	})
}

func (s *stream) SendActivityEnd(ctx context.Context) error {
	return s.send(ctx, func(sess *genai.Session) error {
		return sess.SendRealtimeInput(genai.LiveRealtimeInput{ActivityEnd: &genai.ActivityEnd{}})
	})
}

func (s *stream) Recv(ctx context.Context) (live.Event, error) {
	select {
	case <-ctx.Done():
		return live.Event{}, ctx.Err()
	case ev, ok := <-s.events:
		if !ok {
			s.errMu.Lock()
			err := s.readErr
			s.errMu.Unlock()
			if err != nil {
				return live.Event{}, err
			}
			return live.Event{}, io.EOF
		}
		return ev, nil
	}
}

func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		err = s.session.Close()
		s.mu.Unlock()
	})
	return err
}

func (s *stream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *stream) current() (*genai.Session, profiles.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, s.profile
}

func (s *stream) push(ev live.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *stream) readLoop() {
	defer close(s.events)
	for {
		sess, profile := s.current()
		msg, err := sess.Receive()
		if err != nil {
			if s.closed() {
				return
			}
			if cur, _ := s.current(); cur != sess {
				// the session was swapped by a handoff
				continue
			}
			s.errMu.Lock()
			s.readErr = errors.Wrap(err, "receive live message")
			s.errMu.Unlock()
			return
		}
		if msg.GoAway != nil {
			log.Warn().Str("component", "gemini").Str("session_id", s.sessionID).Msg("server requested disconnect")
		}

		ev, calls := convertMessage(msg, profile.Key)
		if len(ev.Segments) > 0 || ev.TurnComplete || ev.Control != nil {
			if !s.push(ev) {
				return
			}
		}
		for _, call := range calls {
			if !s.handleCall(profile, call) {
				return
			}
		}
	}
}

// handleCall answers a tool call. It returns false once the stream is closed.
func (s *stream) handleCall(from profiles.Profile, call *genai.FunctionCall) bool {
	if call.Name != TransferToolName {
		s.respond(call, map[string]any{"error": "unknown function " + call.Name})
		return true
	}
	ctrl := transferControl(call.Args)
	target, ok := s.backend.profiles.Get(ctrl.Target)
	if !ok || !slices.Contains(from.Handoffs, ctrl.Target) {
		s.respond(call, map[string]any{"error": "cannot transfer to " + ctrl.Target})
		return true
	}
	s.respond(call, map[string]any{"result": "transferred to " + ctrl.Target})
	if !s.push(live.Event{Control: ctrl, Author: target.Key}) {
		return false
	}

	next, err := s.backend.connect(context.Background(), target)
	if err != nil {
		log.Error().Err(err).Str("component", "gemini").Str("session_id", s.sessionID).Str("target", target.Key).Msg("handoff reconnect failed")
		s.errMu.Lock()
		s.readErr = err
		s.errMu.Unlock()
		return false
	}
	s.mu.Lock()
	if s.closed() {
		s.mu.Unlock()
		_ = next.Close()
		return false
	}
	prev := s.session
	s.session = next
	s.profile = target
	s.mu.Unlock()
	_ = prev.Close()
	log.Info().Str("component", "gemini").Str("session_id", s.sessionID).Str("from", from.Key).Str("to", target.Key).Msg("handoff reconnected")
	return true
}

func (s *stream) respond(call *genai.FunctionCall, response map[string]any) {
	err := s.send(context.Background(), func(sess *genai.Session) error {
		return sess.SendToolResponse(genai.LiveToolResponseInput{
			FunctionResponses: []*genai.FunctionResponse{{ID: call.ID, Name: call.Name, Response: response}},
		})
	})
	if err != nil {
		log.Warn().Err(err).Str("component", "gemini").Str("session_id", s.sessionID).Str("function", call.Name).Msg("tool response failed")
	}
}
