// Package sse serves a live connection over server-sent events. Outbound frames travel
// through the frame bus; client input arrives as separate POST requests.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/livecoord/pkg/framebus"
	"github.com/go-go-golems/livecoord/pkg/live"
	"github.com/go-go-golems/livecoord/pkg/transport"
)

const DefaultPingInterval = 5 * time.Second

type Handler struct {
	coord        *live.Coordinator
	bus          *framebus.Bus
	pingInterval time.Duration
}

type Option func(*Handler)

func WithPingInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

func NewHandler(coord *live.Coordinator, bus *framebus.Bus, opts ...Option) *Handler {
	h := &Handler{coord: coord, bus: bus, pingInterval: DefaultPingInterval}
	for _, o := range opts {
		o(h)
	}
	return h
}

type frame struct {
	seq  uint64
	data string
}

// Stream handles GET /sse/{profile}/{connection_id}.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	profile, connID := r.PathValue("profile"), r.PathValue("connection_id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		transport.WriteDetail(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ctx := r.Context()

	// subscribe before attaching so no frame published by the connection is missed
	sub, err := h.bus.Subscriber(ctx, connID)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	fwdCtx, stopFwd := context.WithCancel(ctx)
	defer stopFwd()
	frames := make(chan frame, 64)
	fwd := framebus.NewForwarder(connID, sub, func(cur framebus.Cursor, data string) {
		select {
		case frames <- frame{seq: cur.Seq, data: data}:
		case <-fwdCtx.Done():
		}
	})
	if err := fwd.Start(fwdCtx); err != nil {
		transport.WriteError(w, errors.Wrap(err, "subscribe frames"))
		return
	}
	defer fwd.Close()

	lc, err := h.coord.Attach(ctx, connID, profile, framebus.NewSink(h.bus, connID))
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	// publishers blocked on this subscriber are released once the connection ends
	defer context.AfterFunc(lc.Context(), stopFwd)()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	err = lc.Run(func(ctx context.Context) error {
		if _, err := io.WriteString(w, "event: ready\ndata: ok\n\n"); err != nil {
			return err
		}
		flusher.Flush()
		ping := time.NewTicker(h.pingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case f := <-frames:
				if err := writeEvent(w, f.seq, f.data); err != nil {
					return err
				}
			case <-ping.C:
				if _, err := io.WriteString(w, "event: ping\ndata: keepalive\n\n"); err != nil {
					return err
				}
			}
			flusher.Flush()
		}
	})
	// a diagnostic published while the connection failed is still queued
	drain(w, flusher, frames)
	if err != nil {
		log.Warn().Err(err).Str("component", "sse").Str("conn_id", connID).Msg("event stream ended with error")
	}
}

func drain(w io.Writer, flusher http.Flusher, frames <-chan frame) {
	for {
		select {
		case f := <-frames:
			if err := writeEvent(w, f.seq, f.data); err != nil {
				return
			}
			flusher.Flush()
		default:
			return
		}
	}
}

// writeEvent writes one frame. Each line of a multi-line frame becomes its own data field.
func writeEvent(w io.Writer, seq uint64, data string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", seq)
	for _, line := range strings.Split(strings.ReplaceAll(data, "\r\n", "\n"), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

func decodeBody(r *http.Request, kind string) (transport.Message, error) {
	var msg transport.Message
	if err := json.NewDecoder(io.LimitReader(r.Body, 16<<20)).Decode(&msg); err != nil && err != io.EOF {
		return transport.Message{}, errors.Wrap(err, "decode body")
	}
	msg.Type = kind
	return msg, nil
}

// Input returns the handler for POST /sse/{profile}/{connection_id}/{kind}.
func (h *Handler) Input(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connID := r.PathValue("connection_id")
		if conn, ok := h.coord.Connections().Lookup(connID); ok && conn.ProfileKey != r.PathValue("profile") {
			transport.WriteError(w, errors.Wrapf(live.ErrProfileMismatch, "connection %s uses %q", connID, conn.ProfileKey))
			return
		}
		msg, err := decodeBody(r, kind)
		if err != nil {
			log.Debug().Err(err).Str("component", "sse").Str("conn_id", connID).Msg("rejected request body")
			transport.WriteDetail(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		if kind == transport.TypeMode {
			m, err := transport.Apply(r.Context(), msg, modeTarget{coord: h.coord, connID: connID})
			if err != nil {
				transport.WriteError(w, err)
				return
			}
			transport.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "mode": m})
			return
		}

		lc, ok := h.coord.Lookup(connID)
		if !ok {
			transport.WriteDetail(w, http.StatusNotFound, "SSE client not connected")
			return
		}
		if _, err := transport.Apply(r.Context(), msg, lc); err != nil {
			transport.WriteError(w, err)
			return
		}
		transport.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// modeTarget sets the mode of a registered connection that may not be streaming yet.
type modeTarget struct {
	transport.Target
	coord  *live.Coordinator
	connID string
}

func (t modeTarget) SetMode(value string) (live.Mode, error) {
	return t.coord.SetMode(t.connID, value)
}
