// Package config describes the server settings as glazed sections and decodes parsed
// values into the coordinator, backend and bus configurations.
package config

import (
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"

	"github.com/go-go-golems/livecoord/pkg/backend/gemini"
	"github.com/go-go-golems/livecoord/pkg/framebus"
	"github.com/go-go-golems/livecoord/pkg/live"
)

const (
	BackendGemini   = "gemini"
	BackendLoopback = "loopback"

	LiveSlug      = "live"
	RetentionSlug = "retention"
	WebSocketSlug = "websocket"
)

// ServerSettings are the serve command's own flags.
type ServerSettings struct {
	Addr         string `glazed:"addr"`
	Backend      string `glazed:"backend"`
	AppName      string `glazed:"app-name"`
	ProfilesFile string `glazed:"profiles-file"`
}

type LiveSettings struct {
	EnableAudio      bool     `glazed:"enable-audio"`
	SendSampleRate   int      `glazed:"send-sample-rate"`
	AudioIdleEndMS   int      `glazed:"audio-idle-end-ms"`
	NudgeDelayMS     int      `glazed:"nudge-delay-ms"`
	ReplayDelays     []string `glazed:"replay-delays"`
	AudioQueueSize   int      `glazed:"audio-queue-size"`
	VideoQueueSize   int      `glazed:"video-queue-size"`
	SessionsMax      int      `glazed:"live-sessions-max"`
	AcquireTimeoutMS int      `glazed:"live-acquire-timeout-ms"`
}

type RetentionSettings struct {
	ConnectionIdleTTLSeconds int `glazed:"connection-idle-ttl-seconds"`
	SweepIntervalSeconds     int `glazed:"sweep-interval-seconds"`
	// SessionIdleTTLSeconds of 0 disables session purging.
	SessionIdleTTLSeconds int `glazed:"session-idle-ttl-seconds"`
}

type WebSocketSettings struct {
	SendBuffer     int `glazed:"ws-send-buffer"`
	WriteTimeoutMS int `glazed:"ws-write-timeout-ms"`
	PingIntervalMS int `glazed:"ws-ping-interval-ms"`
}

type Settings struct {
	Server    ServerSettings
	Gemini    gemini.Settings
	Live      LiveSettings
	Retention RetentionSettings
	WebSocket WebSocketSettings
	Redis     framebus.Settings
}

func Default() Settings {
	lc := live.DefaultConfig()
	replay := make([]string, 0, len(lc.ReplayDelays))
	for _, d := range lc.ReplayDelays {
		replay = append(replay, d.String())
	}
	return Settings{
		Server: ServerSettings{
			Addr:    ":8080",
			Backend: BackendGemini,
			AppName: lc.AppName,
		},
		Gemini: gemini.Settings{Model: gemini.DefaultModel, Voice: "Puck"},
		Live: LiveSettings{
			SendSampleRate: lc.SampleRate,
			AudioIdleEndMS: int(lc.AudioIdleEnd / time.Millisecond),
			NudgeDelayMS:   int(lc.NudgeDelay / time.Millisecond),
			ReplayDelays:   replay,
			AudioQueueSize: lc.AudioQueueSize,
			VideoQueueSize: lc.VideoQueueSize,
			SessionsMax:    4,
		},
		Retention: RetentionSettings{
			ConnectionIdleTTLSeconds: 600,
			SweepIntervalSeconds:     60,
		},
		WebSocket: WebSocketSettings{
			SendBuffer:     64,
			WriteTimeoutMS: 10000,
			PingIntervalMS: 30000,
		},
		Redis: framebus.DefaultSettings(),
	}
}

// ServerFlags are the default-section flags of the serve command.
func ServerFlags() []*fields.Definition {
	d := Default().Server
	return []*fields.Definition{
		fields.New("addr", fields.TypeString, fields.WithDefault(d.Addr),
			fields.WithHelp("HTTP listen address")),
		fields.New("backend", fields.TypeChoice, fields.WithDefault(d.Backend),
			fields.WithChoices(BackendGemini, BackendLoopback),
			fields.WithHelp("Live backend")),
		fields.New("app-name", fields.TypeString, fields.WithDefault(d.AppName),
			fields.WithHelp("Application name recorded on sessions")),
		fields.New("profiles-file", fields.TypeString, fields.WithDefault(""),
			fields.WithHelp("YAML file with additional agent profiles")),
	}
}

func NewLiveSection() (schema.Section, error) {
	d := Default().Live
	return schema.NewSection(
		LiveSlug,
		"Live stream coordination",
		schema.WithFields(
			fields.New("enable-audio", fields.TypeBool, fields.WithDefault(d.EnableAudio),
				fields.WithHelp("Request audio responses instead of text")),
			fields.New("send-sample-rate", fields.TypeInteger, fields.WithDefault(d.SendSampleRate),
				fields.WithHelp("Sample rate of inbound PCM audio")),
			fields.New("audio-idle-end-ms", fields.TypeInteger, fields.WithDefault(d.AudioIdleEndMS),
				fields.WithHelp("Silence after which the audio stream is ended")),
			fields.New("nudge-delay-ms", fields.TypeInteger, fields.WithDefault(d.NudgeDelayMS),
				fields.WithHelp("Delay before nudging the model after audio end")),
			fields.New("replay-delays", fields.TypeStringList, fields.WithDefault(d.ReplayDelays),
				fields.WithHelp("Delays of the handoff question replays")),
			fields.New("audio-queue-size", fields.TypeInteger, fields.WithDefault(d.AudioQueueSize),
				fields.WithHelp("Inbound audio queue capacity per stream")),
			fields.New("video-queue-size", fields.TypeInteger, fields.WithDefault(d.VideoQueueSize),
				fields.WithHelp("Inbound video queue capacity per stream")),
			fields.New("live-sessions-max", fields.TypeInteger, fields.WithDefault(d.SessionsMax),
				fields.WithHelp("Maximum concurrent live streams")),
			fields.New("live-acquire-timeout-ms", fields.TypeInteger, fields.WithDefault(d.AcquireTimeoutMS),
				fields.WithHelp("Wait for a free live slot (0 waits indefinitely)")),
		),
	)
}

func NewRetentionSection() (schema.Section, error) {
	d := Default().Retention
	return schema.NewSection(
		RetentionSlug,
		"Connection and session retention",
		schema.WithFields(
			fields.New("connection-idle-ttl-seconds", fields.TypeInteger, fields.WithDefault(d.ConnectionIdleTTLSeconds),
				fields.WithHelp("Evict connections idle for longer than this")),
			fields.New("sweep-interval-seconds", fields.TypeInteger, fields.WithDefault(d.SweepIntervalSeconds),
				fields.WithHelp("Interval of the eviction and purge sweeps")),
			fields.New("session-idle-ttl-seconds", fields.TypeInteger, fields.WithDefault(d.SessionIdleTTLSeconds),
				fields.WithHelp("Purge unbound sessions idle for longer than this (0 disables)")),
		),
	)
}

func NewWebSocketSection() (schema.Section, error) {
	d := Default().WebSocket
	return schema.NewSection(
		WebSocketSlug,
		"WebSocket transport",
		schema.WithFields(
			fields.New("ws-send-buffer", fields.TypeInteger, fields.WithDefault(d.SendBuffer),
				fields.WithHelp("Outbound frame buffer per socket")),
			fields.New("ws-write-timeout-ms", fields.TypeInteger, fields.WithDefault(d.WriteTimeoutMS),
				fields.WithHelp("Write deadline per frame")),
			fields.New("ws-ping-interval-ms", fields.TypeInteger, fields.WithDefault(d.PingIntervalMS),
				fields.WithHelp("Keepalive ping interval")),
		),
	)
}

// Sections returns every settings section of the serve command.
func Sections() ([]schema.Section, error) {
	ctors := []func() (schema.Section, error){
		gemini.NewSection,
		NewLiveSection,
		NewRetentionSection,
		NewWebSocketSection,
		framebus.NewSection,
	}
	ret := make([]schema.Section, 0, len(ctors))
	for _, ctor := range ctors {
		s, err := ctor()
		if err != nil {
			return nil, err
		}
		ret = append(ret, s)
	}
	return ret, nil
}

// FromValues decodes parsed values over the defaults. Absent sections keep their defaults.
func FromValues(parsed *values.Values) (Settings, error) {
	s := Default()
	targets := []struct {
		slug string
		dst  interface{}
	}{
		{values.DefaultSlug, &s.Server},
		{gemini.SectionSlug, &s.Gemini},
		{LiveSlug, &s.Live},
		{RetentionSlug, &s.Retention},
		{WebSocketSlug, &s.WebSocket},
		{framebus.SectionSlug, &s.Redis},
	}
	for _, t := range targets {
		if _, ok := parsed.Get(t.slug); !ok {
			continue
		}
		if err := parsed.DecodeSectionInto(t.slug, t.dst); err != nil {
			return s, errors.Wrapf(err, "decode %s settings", t.slug)
		}
	}
	return s, nil
}

func (s Settings) replayDelays() ([]time.Duration, error) {
	ret := make([]time.Duration, 0, len(s.Live.ReplayDelays))
	for _, v := range s.Live.ReplayDelays {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrapf(err, "parse replay delay %q", v)
		}
		if d < 0 {
			return nil, errors.Errorf("replay delay %s must not be negative", v)
		}
		ret = append(ret, d)
	}
	return ret, nil
}

func (s Settings) Validate() error {
	switch s.Server.Backend {
	case BackendGemini, BackendLoopback:
	default:
		return errors.Errorf("unknown backend %q", s.Server.Backend)
	}
	if s.Server.Addr == "" {
		return errors.New("addr is required")
	}
	if s.Live.SessionsMax <= 0 {
		return errors.Errorf("live-sessions-max must be positive, got %d", s.Live.SessionsMax)
	}
	if s.Live.SendSampleRate <= 0 {
		return errors.Errorf("send-sample-rate must be positive, got %d", s.Live.SendSampleRate)
	}
	if s.Live.AudioIdleEndMS <= 0 {
		return errors.New("audio-idle-end-ms must be positive")
	}
	if s.Live.AudioQueueSize <= 0 || s.Live.VideoQueueSize <= 0 {
		return errors.New("queue sizes must be positive")
	}
	if s.Live.AcquireTimeoutMS < 0 {
		return errors.New("live-acquire-timeout-ms must not be negative")
	}
	if s.Retention.ConnectionIdleTTLSeconds < 0 || s.Retention.SessionIdleTTLSeconds < 0 {
		return errors.New("retention ttls must not be negative")
	}
	if s.Retention.SweepIntervalSeconds <= 0 {
		return errors.New("sweep-interval-seconds must be positive")
	}
	if s.WebSocket.SendBuffer <= 0 {
		return errors.New("ws-send-buffer must be positive")
	}
	_, err := s.replayDelays()
	return err
}

// LiveConfig is the coordinator configuration derived from s. Call Validate first.
func (s Settings) LiveConfig() live.Config {
	replay, _ := s.replayDelays()
	return live.Config{
		EnableAudio:    s.Live.EnableAudio,
		SampleRate:     s.Live.SendSampleRate,
		AudioIdleEnd:   ms(s.Live.AudioIdleEndMS),
		NudgeDelay:     ms(s.Live.NudgeDelayMS),
		AudioQueueSize: s.Live.AudioQueueSize,
		VideoQueueSize: s.Live.VideoQueueSize,
		ReplayDelays:   replay,
		AppName:        s.Server.AppName,
	}
}

func (s Settings) AcquireTimeout() time.Duration { return ms(s.Live.AcquireTimeoutMS) }

func (s Settings) ConnectionIdleTTL() time.Duration {
	return time.Duration(s.Retention.ConnectionIdleTTLSeconds) * time.Second
}

func (s Settings) SweepInterval() time.Duration {
	return time.Duration(s.Retention.SweepIntervalSeconds) * time.Second
}

func (s Settings) SessionIdleTTL() time.Duration {
	return time.Duration(s.Retention.SessionIdleTTLSeconds) * time.Second
}

func (s Settings) WriteTimeout() time.Duration { return ms(s.WebSocket.WriteTimeoutMS) }

func (s Settings) PingInterval() time.Duration { return ms(s.WebSocket.PingIntervalMS) }

func (s Settings) GeminiSettings() gemini.Settings {
	g := s.Gemini
	g.EnableAudio = s.Live.EnableAudio
	return g
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
