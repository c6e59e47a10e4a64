package live

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.NudgeDelay = 60 * time.Millisecond
	cfg.AudioIdleEnd = 100 * time.Millisecond
	cfg.ReplayDelays = []time.Duration{40 * time.Millisecond, 80 * time.Millisecond, 120 * time.Millisecond}
	return cfg
}

func newAttachedPipeline(t *testing.T, cfg Config) (*Pipeline, *stubStream, *ModeTable) {
	t.Helper()
	modes := NewModeTable()
	p := newPipeline("c1", cfg, modes)
	s := newStubStream()
	p.attach(context.Background(), s)
	t.Cleanup(p.close)
	return p, s, modes
}

func TestSubmitTextSendsInstructionThenText(t *testing.T) {
	p, s, _ := newAttachedPipeline(t, testConfig())

	require.NoError(t, p.SubmitText(context.Background(), "describe this"))

	sends := s.Sends()
	require.Len(t, sends, 1)
	require.Equal(t, sentTurn, sends[0].Kind)
	require.Equal(t, []Segment{
		InstructionSegment(intermediateInstruction),
		TextSegment("describe this"),
	}, sends[0].Turn.Segments)

	last, ok := p.LastTurn()
	require.True(t, ok)
	require.Equal(t, sends[0].Turn, last)
}

func TestSubmitTextUsesModeAtCallTime(t *testing.T) {
	p, s, modes := newAttachedPipeline(t, testConfig())

	require.NoError(t, p.SubmitText(context.Background(), "one"))
	_, err := modes.Set("c1", "beginner")
	require.NoError(t, err)
	require.NoError(t, p.SubmitText(context.Background(), "two"))

	sends := s.Sends()
	require.Len(t, sends, 2)
	require.Equal(t, intermediateInstruction, sends[0].Turn.Segments[0].Text)
	require.Equal(t, beginnerInstruction, sends[1].Turn.Segments[0].Text)
}

func TestSubmitTextRejectsEmpty(t *testing.T) {
	p, s, _ := newAttachedPipeline(t, testConfig())
	require.ErrorIs(t, p.SubmitText(context.Background(), "   "), ErrEmptyInput)
	require.Empty(t, s.Sends())
}

func TestSubmitTextWaitsForStream(t *testing.T) {
	p := newPipeline("c1", testConfig(), NewModeTable())
	defer p.close()

	done := make(chan error, 1)
	go func() { done <- p.SubmitText(context.Background(), "early") }()

	select {
	case <-done:
		t.Fatal("submit returned before the stream was attached")
	case <-time.After(30 * time.Millisecond):
	}

	s := newStubStream()
	p.attach(context.Background(), s)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("submit did not complete")
	}
	require.Equal(t, 1, s.count(sentTurn))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q := newPipeline("c2", testConfig(), NewModeTable())
	require.ErrorIs(t, q.SubmitText(ctx, "never"), context.Canceled)
}

func TestVideoFrameProducesImageTurnThenNudge(t *testing.T) {
	cfg := testConfig()
	p, s, _ := newAttachedPipeline(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.runVideo(ctx)

	require.NoError(t, p.EnqueueVideo(VideoFrame{Data: []byte{0xff, 0xd8}, FrameMode: "webcam"}))
	require.Eventually(t, func() bool { return s.count(sentTurn) == 2 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return s.count(sentTurn) > 2 }, 3*cfg.NudgeDelay, 10*time.Millisecond)

	sends := s.Sends()
	image, nudge := sends[0], sends[1]
	require.Equal(t, []Segment{
		InstructionSegment(intermediateInstruction),
		InstructionSegment(describeImagePrompt),
		BlobSegment([]byte{0xff, 0xd8}, "image/jpeg"),
	}, image.Turn.Segments)
	require.Equal(t, []Segment{
		InstructionSegment(intermediateInstruction),
		TextSegment(imageNudgePrompt),
	}, nudge.Turn.Segments)
	require.GreaterOrEqual(t, nudge.At.Sub(image.At), cfg.NudgeDelay)

	last, ok := p.LastTurn()
	require.True(t, ok)
	blob, ok := last.FirstBlob()
	require.True(t, ok)
	require.Equal(t, []byte{0xff, 0xd8}, blob.Data)
}

func TestAudioChunksStreamAsRawInput(t *testing.T) {
	p, s, _ := newAttachedPipeline(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.runAudio(ctx)

	require.NoError(t, p.EnqueueAudio([]byte{1, 2}))
	require.NoError(t, p.EnqueueAudio([]byte{3, 4}))
	require.Eventually(t, func() bool { return s.count(sentChunk) == 2 }, time.Second, 5*time.Millisecond)

	sends := s.Sends()
	require.Equal(t, "audio/pcm;rate=16000", sends[0].MIMEType)
	require.Equal(t, []byte{1, 2}, sends[0].Data)
	require.Equal(t, []byte{3, 4}, sends[1].Data)
	require.Zero(t, s.count(sentActivityStart))
	require.Equal(t, StateIdle, p.State())
}

func TestAudioEnabledSegmentsActivity(t *testing.T) {
	cfg := testConfig()
	cfg.EnableAudio = true
	p, s, _ := newAttachedPipeline(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.runAudio(ctx)

	require.NoError(t, p.EnqueueAudio([]byte{1}))
	require.Eventually(t, func() bool { return s.count(sentChunk) == 1 }, time.Second, 5*time.Millisecond)
	sends := s.Sends()
	require.Equal(t, sentActivityStart, sends[0].Kind)
	require.Equal(t, sentChunk, sends[1].Kind)

	require.Eventually(t, func() bool { return s.count(sentActivityEnd) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, StateIdle, p.State())
}

func TestEnqueueAfterCloseFails(t *testing.T) {
	p := newPipeline("c1", testConfig(), NewModeTable())
	p.close()
	require.ErrorIs(t, p.EnqueueAudio([]byte{1}), ErrStreamClosed)
	require.ErrorIs(t, p.EnqueueVideo(VideoFrame{Data: []byte{1}}), ErrStreamClosed)
	require.ErrorIs(t, p.EnqueueAudio(nil), ErrEmptyInput)
	require.Equal(t, StateClosed, p.State())
}
