package gemini

import (
	"strings"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

const SectionSlug = "gemini"

// Settings configures access to the Gemini Live API.
type Settings struct {
	APIKey    string `glazed:"gemini-api-key"`
	Project   string `glazed:"gemini-project"`
	Location  string `glazed:"gemini-location"`
	UseVertex bool   `glazed:"gemini-use-vertex"`
	Model     string `glazed:"live-model"`
	Voice     string `glazed:"voice-name"`

	EnableAudio bool
}

func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Gemini Live API access",
		schema.WithFields(
			fields.New("gemini-api-key", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Gemini API key (falls back to GOOGLE_API_KEY)")),
			fields.New("gemini-project", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Vertex AI project (falls back to GOOGLE_CLOUD_PROJECT)")),
			fields.New("gemini-location", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Vertex AI location (falls back to GOOGLE_CLOUD_LOCATION)")),
			fields.New("gemini-use-vertex", fields.TypeBool, fields.WithDefault(false),
				fields.WithHelp("Use Vertex AI even when an API key is set")),
			fields.New("live-model", fields.TypeString, fields.WithDefault(DefaultModel),
				fields.WithHelp("Live model used when a profile does not name one")),
			fields.New("voice-name", fields.TypeString, fields.WithDefault("Puck"),
				fields.WithHelp("Prebuilt voice for audio responses")),
		),
	)
}

// withSDKEnvironment fills empty credentials from the variables genai.NewClient itself reads.
func (s Settings) withSDKEnvironment(getenv func(string) string) Settings {
	first := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				return v
			}
		}
		return ""
	}
	if s.APIKey == "" {
		s.APIKey = first("GOOGLE_API_KEY", "GEMINI_API_KEY")
	}
	if s.Project == "" {
		s.Project = first("GOOGLE_CLOUD_PROJECT")
	}
	if s.Location == "" {
		s.Location = first("GOOGLE_CLOUD_LOCATION")
	}
	if !s.UseVertex {
		v := strings.ToLower(first("GOOGLE_GENAI_USE_VERTEXAI"))
		s.UseVertex = v == "true" || v == "1"
	}
	return s
}

func (s Settings) vertex() bool {
	return s.UseVertex || (s.APIKey == "" && s.Project != "" && s.Location != "")
}
