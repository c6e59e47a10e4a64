// Package wsconn adapts a websocket connection to a live connection: inbound JSON
// messages drive the input pipeline and outbound frames are written by a Writer.
package wsconn

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/livecoord/pkg/transport"
)

const (
	maxMessageSize = 8 << 20
	pongWait       = 90 * time.Second
)

// Serve runs the writer and the read loop until the client disconnects or ctx ends.
// Cancellation only unblocks the reader; the writer flushes queued frames and sends a
// close frame before the websocket is closed.
func Serve(ctx context.Context, connID string, conn *websocket.Conn, w *Writer, target transport.Target) error {
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error {
		err := readLoop(gctx, connID, conn, w, target)
		if err == nil {
			// client went away; stop the writer too
			return context.Canceled
		}
		return err
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil
	}
	return err
}

func readLoop(ctx context.Context, connID string, conn *websocket.Conn, w *Writer, target transport.Target) error {
	conn.SetReadLimit(maxMessageSize)
	extend := func() error {
		if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return err
		}
		// a cancellation racing the extension must still unblock the next read
		if ctx.Err() != nil {
			return conn.SetReadDeadline(time.Now())
		}
		return nil
	}
	_ = extend()
	conn.SetPongHandler(func(string) error { return extend() })
	for {
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			log.Debug().Err(err).Str("component", "wsconn").Str("conn_id", connID).Msg("websocket read ended")
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		_ = extend()
		if kind != websocket.TextMessage {
			continue
		}
		if err := transport.Dispatch(ctx, raw, target); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Debug().Err(err).Str("component", "wsconn").Str("conn_id", connID).Msg("rejected client message")
			if sendErr := w.SendText(ctx, transport.ErrorFrame(transport.Detail(err))); sendErr != nil {
				return sendErr
			}
		}
	}
}

