package live

import (
	"context"

	"github.com/pkg/errors"

	"github.com/go-go-golems/livecoord/pkg/connections"
	"github.com/go-go-golems/livecoord/pkg/profiles"
)

var (
	ErrInvalidMode     = errors.New("invalid mode")
	ErrUnknownProfile  = errors.New("unknown profile")
	ErrMissingUser     = connections.ErrMissingUser
	ErrBackendConfig   = errors.New("backend credentials are not configured")
	ErrStreamClosed    = errors.New("live stream closed")
	ErrProfileMismatch = errors.New("connection is bound to a different profile")
	ErrNotAttached     = errors.New("connection has no open stream")
	ErrEmptyInput      = errors.New("empty input")
)

type SegmentKind int

const (
	SegmentInstruction SegmentKind = iota
	SegmentText
	SegmentBlob
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentInstruction:
		return "instruction"
	case SegmentText:
		return "text"
	case SegmentBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// Segment is one typed piece of a Turn or of a backend Event.
type Segment struct {
	Kind     SegmentKind
	Text     string
	Data     []byte
	MIMEType string
}

func InstructionSegment(text string) Segment { return Segment{Kind: SegmentInstruction, Text: text} }
func TextSegment(text string) Segment        { return Segment{Kind: SegmentText, Text: text} }
func BlobSegment(data []byte, mimeType string) Segment {
	return Segment{Kind: SegmentBlob, Data: data, MIMEType: mimeType}
}

// Turn is the atomic unit of input sent to a backend stream.
type Turn struct {
	Segments []Segment
}

// FirstText returns the first user text segment, skipping instruction prefixes.
func (t *Turn) FirstText() (string, bool) {
	if t == nil {
		return "", false
	}
	for _, s := range t.Segments {
		if s.Kind == SegmentText && s.Text != "" {
			return s.Text, true
		}
	}
	return "", false
}

func (t *Turn) FirstBlob() (Segment, bool) {
	if t == nil {
		return Segment{}, false
	}
	for _, s := range t.Segments {
		if s.Kind == SegmentBlob && len(s.Data) > 0 {
			return s, true
		}
	}
	return Segment{}, false
}

const ControlHandoff = "handoff"

// Control is an out-of-band signal carried by a backend event.
type Control struct {
	Name    string
	Target  string
	Payload map[string]any
}

// Event is one unit of backend output. Segments are in backend emission order.
type Event struct {
	Segments     []Segment
	Control      *Control
	TurnComplete bool
	// Author names the profile that produced the event, when the backend knows it.
	Author string
}

// Backend opens streaming sessions with the inference service.
type Backend interface {
	// CheckConfig reports missing credentials before any stream is opened.
	CheckConfig() error
	Open(ctx context.Context, profile profiles.Profile, sessionID string) (Stream, error)
}

// Stream is one open bidirectional backend session.
// Recv returns io.EOF once the backend ended the stream.
type Stream interface {
	SendTurn(ctx context.Context, turn Turn) error
	SendRawChunk(ctx context.Context, data []byte, mimeType string) error
	SendActivityStart(ctx context.Context) error
	SendActivityEnd(ctx context.Context) error
	Recv(ctx context.Context) (Event, error)
	Close() error
}

// Sink receives demultiplexed frames for one connection.
// An error from SendText ends the connection.
type Sink interface {
	SendText(ctx context.Context, text string) error
}

type SinkFunc func(ctx context.Context, text string) error

func (f SinkFunc) SendText(ctx context.Context, text string) error { return f(ctx, text) }
