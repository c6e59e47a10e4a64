package framebus

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

type Cursor struct {
	StreamID string
	Seq      uint64
}

// Forwarder consumes one connection's frames and dispatches them in order with a
// monotonically increasing sequence number.
type Forwarder struct {
	connID     string
	subscriber message.Subscriber
	onFrame    func(Cursor, string)

	seq atomic.Uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	done    chan struct{}
}

func NewForwarder(connID string, subscriber message.Subscriber, onFrame func(Cursor, string)) *Forwarder {
	return &Forwarder{connID: connID, subscriber: subscriber, onFrame: onFrame}
}

// Start subscribes and begins dispatching. The subscription is live when Start returns.
func (f *Forwarder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	ch, err := f.subscriber.Subscribe(runCtx, Topic(f.connID))
	if err != nil {
		cancel()
		return err
	}
	f.cancel = cancel
	f.running = true
	f.done = make(chan struct{})
	go f.consume(ch, f.done)
	return nil
}

func (f *Forwarder) Stop() {
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	f.cancel = nil
	done := f.done
	f.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (f *Forwarder) Close() {
	f.Stop()
	if err := f.subscriber.Close(); err != nil {
		log.Warn().Err(err).Str("component", "framebus").Str("conn_id", f.connID).Msg("forwarder: subscriber close failed")
	}
}

func (f *Forwarder) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *Forwarder) consume(ch <-chan *message.Message, done chan struct{}) {
	defer close(done)
	log.Debug().Str("component", "framebus").Str("conn_id", f.connID).Msg("forwarder: started")
	for msg := range ch {
		cur := Cursor{StreamID: extractStreamID(msg)}
		cur.Seq = f.nextSeq(cur.StreamID)
		if f.onFrame != nil {
			f.onFrame(cur, string(msg.Payload))
		}
		msg.Ack()
	}
	log.Debug().Str("component", "framebus").Str("conn_id", f.connID).Msg("forwarder: stopped")
	f.mu.Lock()
	f.running = false
	f.cancel = nil
	f.mu.Unlock()
}

func (f *Forwarder) nextSeq(streamID string) uint64 {
	base, ok := deriveSeqFromStreamID(streamID)
	if !ok {
		base = uint64(time.Now().UnixMilli()) * 1_000_000
	}
	for {
		current := f.seq.Load()
		next := base
		if next <= current {
			next = current + 1
		}
		if f.seq.CompareAndSwap(current, next) {
			return next
		}
	}
}

func extractStreamID(msg *message.Message) string {
	if msg == nil || msg.Metadata == nil {
		return ""
	}
	for _, k := range []string{"xid", "redis_xid"} {
		if v := msg.Metadata.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// deriveSeqFromStreamID maps a Redis stream id "<ms>-<n>" onto a single ordered integer.
func deriveSeqFromStreamID(streamID string) (uint64, bool) {
	ms, n, ok := strings.Cut(streamID, "-")
	if !ok {
		return 0, false
	}
	msv, err := strconv.ParseUint(ms, 10, 64)
	if err != nil {
		return 0, false
	}
	nv, err := strconv.ParseUint(n, 10, 64)
	if err != nil {
		return 0, false
	}
	return msv*1_000_000 + nv, true
}
