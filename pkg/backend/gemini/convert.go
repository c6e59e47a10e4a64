package gemini

import (
	"strings"

	"google.golang.org/genai"

	"github.com/go-go-golems/livecoord/pkg/live"
	"github.com/go-go-golems/livecoord/pkg/profiles"
)

// TransferToolName is the function the model calls to hand the conversation to another profile.
const TransferToolName = "transfer_to_agent"

const transferTargetArg = "agent_name"

func toContent(turn live.Turn) *genai.Content {
	parts := make([]*genai.Part, 0, len(turn.Segments))
	for _, seg := range turn.Segments {
		switch seg.Kind {
		case live.SegmentBlob:
			if len(seg.Data) == 0 {
				continue
			}
			parts = append(parts, genai.NewPartFromBytes(seg.Data, seg.MIMEType))
		default:
			if seg.Text == "" {
				continue
			}
			parts = append(parts, genai.NewPartFromText(seg.Text))
		}
	}
	return &genai.Content{Role: genai.RoleUser, Parts: parts}
}

func realtimeInput(data []byte, mimeType string) genai.LiveRealtimeInput {
	blob := &genai.Blob{Data: data, MIMEType: mimeType}
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return genai.LiveRealtimeInput{Audio: blob}
	case strings.HasPrefix(mimeType, "image/"), strings.HasPrefix(mimeType, "video/"):
		return genai.LiveRealtimeInput{Video: blob}
	default:
		return genai.LiveRealtimeInput{Media: blob}
	}
}

// convertMessage maps one server message to a live event plus any tool calls that need
// an answer. author tags the event with the profile that produced it.
func convertMessage(msg *genai.LiveServerMessage, author string) (live.Event, []*genai.FunctionCall) {
	ev := live.Event{Author: author}
	if msg == nil {
		return ev, nil
	}
	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p == nil {
					continue
				}
				if p.InlineData != nil && len(p.InlineData.Data) > 0 {
					ev.Segments = append(ev.Segments, live.BlobSegment(p.InlineData.Data, p.InlineData.MIMEType))
				}
				if p.Text != "" && !p.Thought {
					ev.Segments = append(ev.Segments, live.TextSegment(p.Text))
				}
				if fr := p.FunctionResponse; fr != nil && fr.Name == TransferToolName {
					ev.Control = transferControl(fr.Response)
				}
			}
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			ev.Segments = append(ev.Segments, live.TextSegment(sc.OutputTranscription.Text))
		}
		ev.TurnComplete = sc.TurnComplete
	}
	var calls []*genai.FunctionCall
	if msg.ToolCall != nil {
		for _, fc := range msg.ToolCall.FunctionCalls {
			if fc != nil {
				calls = append(calls, fc)
			}
		}
	}
	return ev, calls
}

func transferControl(args map[string]any) *live.Control {
	target, _ := args[transferTargetArg].(string)
	return &live.Control{Name: live.ControlHandoff, Target: target, Payload: args}
}

func connectConfig(s Settings, p profiles.Profile) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityText},
	}
	if p.Instruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(p.Instruction)}}
	}
	if len(p.Handoffs) > 0 {
		cfg.Tools = []*genai.Tool{transferTool(p.Handoffs)}
	}
	if s.EnableAudio && !p.TextOnly {
		voice := p.Voice
		if voice == "" {
			voice = s.Voice
		}
		cfg.ResponseModalities = []genai.Modality{genai.ModalityAudio}
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
		cfg.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
		cfg.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
		// turn boundaries come from explicit activity signals
		cfg.RealtimeInputConfig = &genai.RealtimeInputConfig{
			AutomaticActivityDetection: &genai.AutomaticActivityDetection{Disabled: true},
		}
	}
	return cfg
}

func transferTool(targets []string) *genai.Tool {
	return &genai.Tool{FunctionDeclarations: []*genai.FunctionDeclaration{{
		Name:        TransferToolName,
		Description: "Transfer the conversation to the agent best suited to answer the user.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				transferTargetArg: {
					Type:        genai.TypeString,
					Description: "Name of the agent to transfer to.",
					Enum:        append([]string(nil), targets...),
				},
			},
			Required: []string{transferTargetArg},
		},
	}}}
}
