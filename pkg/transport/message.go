// Package transport holds what the websocket and event-stream adapters share: the
// inbound client message, its dispatch onto a live connection, and JSON error replies.
package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/livecoord/pkg/live"
)

// Message is one inbound client message.
type Message struct {
	Type      string          `json:"type"`
	Data      string          `json:"data,omitempty"`
	Mode      string          `json:"mode,omitempty"`
	Value     string          `json:"value,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

const (
	TypeAudio = "audio"
	TypeVideo = "video"
	TypeText  = "text"
	TypeMode  = "mode"
)

const defaultFrameMode = "webcam"

// InputError reports malformed client input.
type InputError struct {
	msg string
}

func (e *InputError) Error() string { return e.msg }

func badInput(format string, args ...any) error {
	return &InputError{msg: fmt.Sprintf(format, args...)}
}

// Target receives decoded client input.
type Target interface {
	SubmitText(ctx context.Context, text string) error
	EnqueueAudio(data []byte) error
	EnqueueVideo(frame live.VideoFrame) error
	SetMode(value string) (live.Mode, error)
}

func ParseMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, badInput("invalid message: %v", err)
	}
	m.Type = strings.TrimSpace(m.Type)
	if m.Type == "" {
		return Message{}, badInput("missing message type")
	}
	return m, nil
}

// Payload decodes the base64 data field.
func (m Message) Payload() ([]byte, error) {
	if m.Data == "" {
		return nil, badInput("missing %s data (base64)", m.Type)
	}
	b, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		return nil, badInput("invalid base64 for %s", m.Type)
	}
	return b, nil
}

// ModeValue accepts the mode from either data or value.
func (m Message) ModeValue() string {
	if v := strings.TrimSpace(m.Data); v != "" {
		return v
	}
	return strings.TrimSpace(m.Value)
}

func (m Message) FrameMode() string {
	if m.Mode == "" {
		return defaultFrameMode
	}
	return m.Mode
}

// TimestampString renders the timestamp as sent, unquoting JSON strings.
func (m Message) TimestampString() string {
	raw := bytes.TrimSpace(m.Timestamp)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Dispatch decodes one raw client message and applies it.
func Dispatch(ctx context.Context, raw []byte, target Target) error {
	msg, err := ParseMessage(raw)
	if err != nil {
		return err
	}
	_, err = Apply(ctx, msg, target)
	return err
}

// Apply forwards a decoded message. For mode messages it returns the mode now in effect.
func Apply(ctx context.Context, msg Message, target Target) (live.Mode, error) {
	switch msg.Type {
	case TypeAudio:
		data, err := msg.Payload()
		if err != nil {
			return "", err
		}
		return "", target.EnqueueAudio(data)
	case TypeVideo:
		data, err := msg.Payload()
		if err != nil {
			return "", err
		}
		return "", target.EnqueueVideo(live.VideoFrame{Data: data, FrameMode: msg.FrameMode(), Timestamp: msg.TimestampString()})
	case TypeText:
		text := strings.TrimSpace(msg.Data)
		if text == "" {
			return "", badInput("missing text data")
		}
		return "", target.SubmitText(ctx, text)
	case TypeMode:
		return target.SetMode(msg.ModeValue())
	default:
		return "", badInput("unknown message type %q", msg.Type)
	}
}

// Detail is the client-facing text for err.
func Detail(err error) string {
	var ie *InputError
	if errors.As(err, &ie) {
		return ie.msg
	}
	return err.Error()
}

// ErrorFrame renders an error frame sent back for malformed input.
func ErrorFrame(detail string) string {
	b, _ := json.Marshal(struct {
		Type   string `json:"type"`
		Detail string `json:"detail"`
	}{Type: "error", Detail: detail})
	return string(b)
}
