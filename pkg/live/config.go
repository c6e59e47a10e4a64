package live

import "time"

const defaultFallbackPrompt = "Please analyze this input and summarize it."

// Config holds the per-connection pacing and replay parameters.
type Config struct {
	EnableAudio    bool
	SampleRate     int
	AudioIdleEnd   time.Duration
	NudgeDelay     time.Duration
	AudioQueueSize int
	VideoQueueSize int
	// ReplayDelays are offsets from the handoff signal.
	ReplayDelays   []time.Duration
	FallbackPrompt string
	AppName        string
}

func DefaultConfig() Config {
	return Config{
		SampleRate:     16000,
		AudioIdleEnd:   800 * time.Millisecond,
		NudgeDelay:     300 * time.Millisecond,
		AudioQueueSize: 256,
		VideoQueueSize: 8,
		ReplayDelays:   []time.Duration{800 * time.Millisecond, 1600 * time.Millisecond, 2400 * time.Millisecond},
		FallbackPrompt: defaultFallbackPrompt,
		AppName:        "livecoord",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.AudioIdleEnd <= 0 {
		c.AudioIdleEnd = d.AudioIdleEnd
	}
	if c.NudgeDelay <= 0 {
		c.NudgeDelay = d.NudgeDelay
	}
	if c.AudioQueueSize <= 0 {
		c.AudioQueueSize = d.AudioQueueSize
	}
	if c.VideoQueueSize <= 0 {
		c.VideoQueueSize = d.VideoQueueSize
	}
	if c.ReplayDelays == nil {
		c.ReplayDelays = d.ReplayDelays
	}
	if c.FallbackPrompt == "" {
		c.FallbackPrompt = d.FallbackPrompt
	}
	if c.AppName == "" {
		c.AppName = d.AppName
	}
	return c
}
