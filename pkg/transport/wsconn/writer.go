package wsconn

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrSlowConsumer = errors.New("websocket client is not reading")
	ErrWriterClosed = errors.New("websocket writer closed")
)

type WriterOptions struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

func (o WriterOptions) withDefaults() WriterOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	return o
}

// Writer owns all writes to a websocket connection. Frames are queued by SendText and
// written by Run, which also keeps the connection alive with pings.
type Writer struct {
	connID string
	conn   *websocket.Conn
	opts   WriterOptions

	send      chan string
	done      chan struct{}
	closeOnce sync.Once
}

func NewWriter(connID string, conn *websocket.Conn, opts WriterOptions) *Writer {
	opts = opts.withDefaults()
	return &Writer{
		connID: connID,
		conn:   conn,
		opts:   opts,
		send:   make(chan string, opts.SendBuffer),
		done:   make(chan struct{}),
	}
}

// SendText queues a frame. It fails once the writer stopped, or when the client has not
// drained the buffer within the write timeout.
func (w *Writer) SendText(ctx context.Context, text string) error {
	select {
	case <-w.done:
		return ErrWriterClosed
	default:
	}
	select {
	case w.send <- text:
		return nil
	default:
	}
	t := time.NewTimer(w.opts.WriteTimeout)
	defer t.Stop()
	select {
	case w.send <- text:
		return nil
	case <-w.done:
		return ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		log.Warn().Str("component", "wsconn").Str("conn_id", w.connID).Int("buffer", w.opts.SendBuffer).Msg("send buffer full, dropping connection")
		return ErrSlowConsumer
	}
}

func (w *Writer) Run(ctx context.Context) error {
	defer w.stop()
	ping := time.NewTicker(w.opts.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			w.drain()
			w.closeFrame()
			return nil
		case text := <-w.send:
			if err := w.write(websocket.TextMessage, []byte(text)); err != nil {
				return errors.Wrap(err, "write frame")
			}
		case <-ping.C:
			if err := w.write(websocket.PingMessage, nil); err != nil {
				return errors.Wrap(err, "write ping")
			}
		}
	}
}

// drain flushes frames queued before shutdown, such as a final diagnostic.
func (w *Writer) drain() {
	for {
		select {
		case text := <-w.send:
			if err := w.write(websocket.TextMessage, []byte(text)); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (w *Writer) closeFrame() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		log.Debug().Err(err).Str("component", "wsconn").Str("conn_id", w.connID).Msg("close frame not sent")
	}
}

func (w *Writer) write(kind int, data []byte) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.opts.WriteTimeout))
	return w.conn.WriteMessage(kind, data)
}

func (w *Writer) stop() {
	w.closeOnce.Do(func() { close(w.done) })
}
