package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/livecoord/pkg/sessions"
)

type audioFrame struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// EncodeAudioFrame renders binary backend output as the compact {"type":"audio"} frame.
func EncodeAudioFrame(data []byte) (string, error) {
	b, err := json.Marshal(audioFrame{Type: "audio", Data: base64.StdEncoding.EncodeToString(data)})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// sinkError marks a transport failure so it is not echoed back to the same sink.
type sinkError struct{ error }

func (e sinkError) Cause() error  { return e.error }
func (e sinkError) Unwrap() error { return e.error }

func (lc *LiveConnection) emit(ctx context.Context, text string) error {
	if err := lc.sink.SendText(ctx, text); err != nil {
		return sinkError{errors.Wrap(err, "send frame")}
	}
	return nil
}

// demux forwards backend events to the sink in arrival order until the stream ends.
func (lc *LiveConnection) demux(ctx context.Context, s Stream) error {
	var pending strings.Builder
	author := lc.profile.Key
	flush := func() {
		if pending.Len() == 0 {
			return
		}
		lc.record(ctx, author, pending.String())
		pending.Reset()
	}
	defer flush()

	for {
		ev, err := s.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ev.Author != "" && ev.Author != author {
			flush()
			author = ev.Author
		}
		for _, seg := range ev.Segments {
			switch seg.Kind {
			case SegmentBlob:
				if len(seg.Data) == 0 {
					continue
				}
				frame, err := EncodeAudioFrame(seg.Data)
				if err != nil {
					return errors.Wrap(err, "encode audio frame")
				}
				if err := lc.emit(ctx, frame); err != nil {
					return err
				}
			case SegmentText, SegmentInstruction:
				if seg.Text == "" {
					continue
				}
				if err := lc.emit(ctx, seg.Text); err != nil {
					return err
				}
				pending.WriteString(seg.Text)
			}
		}
		if ev.Control != nil && ev.Control.Name == ControlHandoff {
			if ev.Control.Target == "" {
				log.Warn().Str("component", "live").Str("conn_id", lc.conn.ID).Msg("handoff without target ignored")
			} else {
				log.Info().Str("component", "live").Str("conn_id", lc.conn.ID).Str("target", ev.Control.Target).Msg("backend handoff")
				lc.startReplay(s, ev.Control.Target)
			}
		}
		if ev.TurnComplete {
			flush()
		}
	}
}

func (lc *LiveConnection) record(ctx context.Context, author, text string) {
	text = strings.TrimSpace(text)
	if text == "" || lc.sessions == nil {
		return
	}
	if err := lc.sessions.AppendEvent(ctx, lc.conn.SessionID, sessions.Event{Author: author, Text: text}); err != nil {
		log.Warn().Err(err).Str("component", "live").Str("conn_id", lc.conn.ID).Msg("append session event failed")
	}
}
