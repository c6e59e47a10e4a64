package live

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/livecoord/pkg/profiles"
)

type sentKind string

const (
	sentTurn          sentKind = "turn"
	sentChunk         sentKind = "chunk"
	sentActivityStart sentKind = "activity_start"
	sentActivityEnd   sentKind = "activity_end"
)

type sent struct {
	Kind     sentKind
	Turn     Turn
	Data     []byte
	MIMEType string
	At       time.Time
}

type stubStream struct {
	mu      sync.Mutex
	sends   []sent
	failFn  func(sent) error
	events  chan Event
	recvErr error
	closed  bool
}

func newStubStream() *stubStream {
	return &stubStream{events: make(chan Event, 64)}
}

func (s *stubStream) record(x sent) error {
	x.At = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if s.failFn != nil {
		if err := s.failFn(x); err != nil {
			return err
		}
	}
	s.sends = append(s.sends, x)
	return nil
}

func (s *stubStream) SendTurn(_ context.Context, turn Turn) error {
	return s.record(sent{Kind: sentTurn, Turn: turn})
}

func (s *stubStream) SendRawChunk(_ context.Context, data []byte, mimeType string) error {
	return s.record(sent{Kind: sentChunk, Data: data, MIMEType: mimeType})
}

func (s *stubStream) SendActivityStart(context.Context) error {
	return s.record(sent{Kind: sentActivityStart})
}

func (s *stubStream) SendActivityEnd(context.Context) error {
	return s.record(sent{Kind: sentActivityEnd})
}

func (s *stubStream) Recv(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case ev, ok := <-s.events:
		if !ok {
			s.mu.Lock()
			err := s.recvErr
			s.mu.Unlock()
			if err != nil {
				return Event{}, err
			}
			return Event{}, io.EOF
		}
		return ev, nil
	}
}

func (s *stubStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// endWith closes the event channel; Recv then returns err, or io.EOF when err is nil.
func (s *stubStream) endWith(err error) {
	s.mu.Lock()
	s.recvErr = err
	s.mu.Unlock()
	close(s.events)
}

func (s *stubStream) Sends() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.sends...)
}

func (s *stubStream) count(kind sentKind) int {
	n := 0
	for _, x := range s.Sends() {
		if x.Kind == kind {
			n++
		}
	}
	return n
}

type stubBackend struct {
	mu        sync.Mutex
	configErr error
	openErr   error
	streams   chan *stubStream
	opened    []profiles.Profile
}

func newStubBackend() *stubBackend {
	return &stubBackend{streams: make(chan *stubStream, 8)}
}

func (b *stubBackend) CheckConfig() error { return b.configErr }

func (b *stubBackend) Open(ctx context.Context, p profiles.Profile, _ string) (Stream, error) {
	b.mu.Lock()
	b.opened = append(b.opened, p)
	openErr := b.openErr
	b.mu.Unlock()
	if openErr != nil {
		return nil, openErr
	}
	s := newStubStream()
	select {
	case b.streams <- s:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s, nil
}

func (b *stubBackend) nextStream(timeout time.Duration) (*stubStream, error) {
	select {
	case s := <-b.streams:
		return s, nil
	case <-time.After(timeout):
		return nil, errors.New("no stream opened")
	}
}

type recordingSink struct {
	mu     sync.Mutex
	frames []string
	err    error
}

func (s *recordingSink) SendText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, text)
	return nil
}

func (s *recordingSink) Frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}
