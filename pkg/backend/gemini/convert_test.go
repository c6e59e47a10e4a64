package gemini

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/go-go-golems/livecoord/pkg/live"
	"github.com/go-go-golems/livecoord/pkg/profiles"
)

func TestToContentSkipsEmptySegments(t *testing.T) {
	c := toContent(live.Turn{Segments: []live.Segment{
		live.InstructionSegment("be brief"),
		live.TextSegment(""),
		live.BlobSegment(nil, "image/jpeg"),
		live.BlobSegment([]byte{1, 2}, "image/jpeg"),
	}})
	require.Equal(t, genai.RoleUser, c.Role)
	require.Len(t, c.Parts, 2)
	require.Equal(t, "be brief", c.Parts[0].Text)
	require.Equal(t, "image/jpeg", c.Parts[1].InlineData.MIMEType)
}

func TestRealtimeInputRoutesByMIME(t *testing.T) {
	in := realtimeInput([]byte{1}, "audio/pcm;rate=16000")
	require.NotNil(t, in.Audio)
	require.Nil(t, in.Video)

	in = realtimeInput([]byte{1}, "image/jpeg")
	require.NotNil(t, in.Video)

	in = realtimeInput([]byte{1}, "application/octet-stream")
	require.NotNil(t, in.Media)
}

func TestConvertMessage(t *testing.T) {
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking", Thought: true},
				{Text: "hello"},
				{InlineData: &genai.Blob{Data: []byte{7}, MIMEType: "audio/pcm"}},
			}},
			TurnComplete: true,
		},
		ToolCall: &genai.LiveServerToolCall{FunctionCalls: []*genai.FunctionCall{
			{ID: "1", Name: TransferToolName, Args: map[string]any{"agent_name": "vision"}},
		}},
	}

	ev, calls := convertMessage(msg, "analyze")
	require.Equal(t, "analyze", ev.Author)
	require.True(t, ev.TurnComplete)
	require.Equal(t, []live.Segment{
		live.TextSegment("hello"),
		live.BlobSegment([]byte{7}, "audio/pcm"),
	}, ev.Segments)
	require.Len(t, calls, 1)
	require.Equal(t, "vision", transferControl(calls[0].Args).Target)
}

func TestConvertMessageTranscription(t *testing.T) {
	ev, calls := convertMessage(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		OutputTranscription: &genai.Transcription{Text: "spoken"},
	}}, "analyze")
	require.Nil(t, calls)
	require.Equal(t, []live.Segment{live.TextSegment("spoken")}, ev.Segments)
	require.False(t, ev.TurnComplete)
}

func TestConnectConfig(t *testing.T) {
	p := profiles.Profile{Key: "analyze", Instruction: "route", Handoffs: []string{"vision", "translator"}}

	cfg := connectConfig(Settings{Voice: "Puck"}, p)
	require.Equal(t, []genai.Modality{genai.ModalityText}, cfg.ResponseModalities)
	require.Nil(t, cfg.SpeechConfig)
	require.Equal(t, "route", cfg.SystemInstruction.Parts[0].Text)
	require.Len(t, cfg.Tools, 1)
	decl := cfg.Tools[0].FunctionDeclarations[0]
	require.Equal(t, TransferToolName, decl.Name)
	require.Equal(t, []string{"vision", "translator"}, decl.Parameters.Properties["agent_name"].Enum)

	cfg = connectConfig(Settings{Voice: "Puck", EnableAudio: true}, p)
	require.Equal(t, []genai.Modality{genai.ModalityAudio}, cfg.ResponseModalities)
	require.Equal(t, "Puck", cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	require.True(t, cfg.RealtimeInputConfig.AutomaticActivityDetection.Disabled)

	p.TextOnly = true
	p.Handoffs = nil
	cfg = connectConfig(Settings{EnableAudio: true}, p)
	require.Equal(t, []genai.Modality{genai.ModalityText}, cfg.ResponseModalities)
	require.Empty(t, cfg.Tools)
}

func TestCheckConfig(t *testing.T) {
	for _, k := range []string{"GOOGLE_API_KEY", "GEMINI_API_KEY", "GOOGLE_CLOUD_PROJECT", "GOOGLE_CLOUD_LOCATION", "GOOGLE_GENAI_USE_VERTEXAI"} {
		t.Setenv(k, "")
	}
	reg := profiles.Defaults()
	require.ErrorIs(t, New(Settings{}, reg).CheckConfig(), live.ErrBackendConfig)
	require.ErrorIs(t, New(Settings{Project: "p"}, reg).CheckConfig(), live.ErrBackendConfig)
	require.NoError(t, New(Settings{APIKey: "k"}, reg).CheckConfig())
	require.NoError(t, New(Settings{Project: "p", Location: "us-central1"}, reg).CheckConfig())
	require.True(t, Settings{Project: "p", Location: "l"}.vertex())
	require.False(t, Settings{APIKey: "k", Project: "p", Location: "l"}.vertex())
}

func TestSettingsFallBackToSDKEnvironment(t *testing.T) {
	env := map[string]string{
		"GEMINI_API_KEY":            "from-env",
		"GOOGLE_CLOUD_PROJECT":      "proj",
		"GOOGLE_GENAI_USE_VERTEXAI": "TRUE",
	}
	getenv := func(k string) string { return env[k] }

	s := Settings{}.withSDKEnvironment(getenv)
	require.Equal(t, "from-env", s.APIKey)
	require.Equal(t, "proj", s.Project)
	require.True(t, s.UseVertex)

	s = Settings{APIKey: "flag"}.withSDKEnvironment(getenv)
	require.Equal(t, "flag", s.APIKey)
}
