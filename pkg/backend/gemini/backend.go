package gemini

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/go-go-golems/livecoord/pkg/live"
	"github.com/go-go-golems/livecoord/pkg/profiles"
)

const DefaultModel = "gemini-2.0-flash-live-001"

// Backend opens live sessions against Gemini. Handoffs are resolved against the profile registry.
type Backend struct {
	settings Settings
	profiles *profiles.Registry

	mu     sync.Mutex
	client *genai.Client
}

func New(settings Settings, reg *profiles.Registry) *Backend {
	settings = settings.withSDKEnvironment(os.Getenv)
	if settings.Model == "" {
		settings.Model = DefaultModel
	}
	if settings.Voice == "" {
		settings.Voice = "Puck"
	}
	return &Backend{settings: settings, profiles: reg}
}

func (b *Backend) CheckConfig() error {
	s := b.settings
	if s.APIKey != "" {
		return nil
	}
	if s.Project != "" && s.Location != "" {
		return nil
	}
	return errors.Wrap(live.ErrBackendConfig, "set GOOGLE_API_KEY, or GOOGLE_CLOUD_PROJECT and GOOGLE_CLOUD_LOCATION")
}

func (b *Backend) getClient(ctx context.Context) (*genai.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}
	cc := &genai.ClientConfig{Backend: genai.BackendGeminiAPI, APIKey: b.settings.APIKey}
	if b.settings.vertex() {
		cc = &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  b.settings.Project,
			Location: b.settings.Location,
		}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, errors.Wrap(err, "create genai client")
	}
	b.client = client
	return client, nil
}

func (b *Backend) model(p profiles.Profile) string {
	if m := strings.TrimSpace(p.Model); m != "" {
		return m
	}
	return b.settings.Model
}

func (b *Backend) connect(ctx context.Context, p profiles.Profile) (*genai.Session, error) {
	if err := b.CheckConfig(); err != nil {
		return nil, err
	}
	client, err := b.getClient(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := client.Live.Connect(ctx, b.model(p), connectConfig(b.settings, p))
	if err != nil {
		return nil, errors.Wrapf(err, "connect live session for %s", p.Key)
	}
	return sess, nil
}

func (b *Backend) Open(ctx context.Context, p profiles.Profile, sessionID string) (live.Stream, error) {
	sess, err := b.connect(ctx, p)
	if err != nil {
		return nil, err
	}
	s := &stream{
		backend:   b,
		sessionID: sessionID,
		session:   sess,
		profile:   p,
		events:    make(chan live.Event, 32),
		done:      make(chan struct{}),
	}
	go s.readLoop()
	log.Debug().Str("component", "gemini").Str("session_id", sessionID).Str("profile", p.Key).
		Str("model", b.model(p)).Msg("live session connected")
	return s, nil
}
