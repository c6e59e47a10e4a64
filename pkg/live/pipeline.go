package live

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	describeImagePrompt = "Briefly describe what is in this image. Identify any utensils you can see."
	imageNudgePrompt    = "Please respond about the image above."
	defaultImageMIME    = "image/jpeg"
)

type PipelineState int

const (
	StateIdle PipelineState = iota
	StateTurnOpen
	StateClosed
)

func (s PipelineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTurnOpen:
		return "turn-open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// VideoFrame is one inbound camera or screen frame.
type VideoFrame struct {
	Data      []byte
	FrameMode string
	Timestamp string
}

// Pipeline formats inbound input for one connection and forwards it to the backend
// stream once that stream is open.
type Pipeline struct {
	connID string
	cfg    Config
	modes  *ModeTable

	audio *dropQueue[[]byte]
	video *dropQueue[VideoFrame]

	ready     chan struct{}
	readyOnce sync.Once
	stream    Stream
	segmenter *Segmenter

	// textMu keeps direct text submissions in call order.
	textMu sync.Mutex

	mu       sync.Mutex
	lastTurn *Turn
	closed   bool

	onUserTurn func(Turn)
}

func newPipeline(connID string, cfg Config, modes *ModeTable) *Pipeline {
	return &Pipeline{
		connID: connID,
		cfg:    cfg,
		modes:  modes,
		audio:  newDropQueue[[]byte](cfg.AudioQueueSize),
		video:  newDropQueue[VideoFrame](cfg.VideoQueueSize),
		ready:  make(chan struct{}),
	}
}

// attach binds the open backend stream. Only the first call has an effect.
func (p *Pipeline) attach(ctx context.Context, s Stream) {
	p.readyOnce.Do(func() {
		p.stream = s
		if p.cfg.EnableAudio {
			p.segmenter = NewSegmenter(ctx, p.connID, p.cfg.AudioIdleEnd, s)
		}
		close(p.ready)
	})
}

func (p *Pipeline) awaitStream(ctx context.Context) (Stream, error) {
	select {
	case <-p.ready:
		if p.isClosed() {
			return nil, ErrStreamClosed
		}
		return p.stream, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pipeline) State() PipelineState {
	if p.isClosed() {
		return StateClosed
	}
	select {
	case <-p.ready:
		if p.segmenter != nil && p.segmenter.Open() {
			return StateTurnOpen
		}
	default:
	}
	return StateIdle
}

func (p *Pipeline) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.audio.Close()
	p.video.Close()
	select {
	case <-p.ready:
		if p.segmenter != nil {
			p.segmenter.Close()
		}
	default:
	}
}

// EnqueueAudio never blocks. A full queue drops its oldest chunk.
func (p *Pipeline) EnqueueAudio(data []byte) error {
	if len(data) == 0 {
		return errors.Wrap(ErrEmptyInput, "audio")
	}
	if p.isClosed() {
		return ErrStreamClosed
	}
	if p.audio.Push(data) {
		log.Warn().Str("component", "live").Str("conn_id", p.connID).
			Uint64("dropped_total", p.audio.Dropped()).Msg("audio queue full, dropped oldest chunk")
	}
	return nil
}

func (p *Pipeline) EnqueueVideo(frame VideoFrame) error {
	if len(frame.Data) == 0 {
		return errors.Wrap(ErrEmptyInput, "video")
	}
	if p.isClosed() {
		return ErrStreamClosed
	}
	if p.video.Push(frame) {
		log.Warn().Str("component", "live").Str("conn_id", p.connID).
			Uint64("dropped_total", p.video.Dropped()).Msg("video queue full, dropped oldest frame")
	}
	return nil
}

// SubmitText sends {mode instruction, text} as one turn, waiting for the stream if it is
// not open yet.
func (p *Pipeline) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.Wrap(ErrEmptyInput, "text")
	}
	s, err := p.awaitStream(ctx)
	if err != nil {
		return err
	}

	p.textMu.Lock()
	defer p.textMu.Unlock()
	turn := Turn{Segments: []Segment{
		InstructionSegment(p.modes.Get(p.connID).Instruction()),
		TextSegment(text),
	}}
	if err := s.SendTurn(ctx, turn); err != nil {
		return errors.Wrap(err, "send text turn")
	}
	p.retain(turn)
	if p.onUserTurn != nil {
		p.onUserTurn(turn)
	}
	log.Info().Str("component", "live").Str("conn_id", p.connID).Int("chars", len(text)).Msg("sent user text turn")
	return nil
}

func (p *Pipeline) retain(turn Turn) {
	p.mu.Lock()
	p.lastTurn = &turn
	p.mu.Unlock()
}

// LastTurn returns the most recently submitted turn, if any.
func (p *Pipeline) LastTurn() (Turn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastTurn == nil {
		return Turn{}, false
	}
	return *p.lastTurn, true
}

func (p *Pipeline) audioMIME() string {
	return fmt.Sprintf("audio/pcm;rate=%d", p.cfg.SampleRate)
}

// runAudio drains the audio queue until ctx is done or the pipeline closes.
func (p *Pipeline) runAudio(ctx context.Context) {
	s, err := p.awaitStream(ctx)
	if err != nil {
		return
	}
	mime := p.audioMIME()
	for {
		chunk, err := p.audio.Pop(ctx)
		if err != nil {
			return
		}
		if p.segmenter != nil {
			if err := p.segmenter.OnChunk(); err != nil {
				log.Error().Err(err).Str("component", "live").Str("conn_id", p.connID).Msg("activity start failed")
			}
		}
		if err := s.SendRawChunk(ctx, chunk, mime); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("component", "live").Str("conn_id", p.connID).Msg("error sending audio")
		}
	}
}

// runVideo turns each frame into an image turn followed by a text nudge.
func (p *Pipeline) runVideo(ctx context.Context) {
	s, err := p.awaitStream(ctx)
	if err != nil {
		return
	}
	for {
		frame, err := p.video.Pop(ctx)
		if err != nil {
			return
		}
		if err := p.sendVideoTurn(ctx, s, frame); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("component", "live").Str("conn_id", p.connID).Msg("error sending video")
		}
	}
}

func (p *Pipeline) sendVideoTurn(ctx context.Context, s Stream, frame VideoFrame) error {
	instruction := p.modes.Get(p.connID).Instruction()
	turn := Turn{Segments: []Segment{
		InstructionSegment(instruction),
		InstructionSegment(describeImagePrompt),
		BlobSegment(frame.Data, defaultImageMIME),
	}}
	if err := s.SendTurn(ctx, turn); err != nil {
		return errors.Wrap(err, "send image turn")
	}
	p.retain(turn)
	log.Info().Str("component", "live").Str("conn_id", p.connID).Int("bytes", len(frame.Data)).
		Str("frame_mode", frame.FrameMode).Str("timestamp", frame.Timestamp).Msg("sent image turn")

	t := time.NewTimer(p.cfg.NudgeDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	nudge := Turn{Segments: []Segment{
		InstructionSegment(instruction),
		TextSegment(imageNudgePrompt),
	}}
	return errors.Wrap(s.SendTurn(ctx, nudge), "send image nudge")
}
