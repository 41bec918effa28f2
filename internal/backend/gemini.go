package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/discord-voice-bridge/internal/config"
	"github.com/discord-voice-bridge/internal/convo"
	"github.com/discord-voice-bridge/internal/logging"
)

// Request is one conversational turn handed to the backend: either an audio
// utterance or a text turn, plus the history for the key.
type Request struct {
	History     []convo.Turn
	AudioPCM    []byte // PCM16LE at config.BackendSendRate, mono; nil for text turns
	Text        string
	System      string
	Temperature float32
}

// Client is the backend collaborator interface the session manager consumes.
type Client interface {
	Converse(ctx context.Context, req Request) (Reply, error)
}

// GeminiClient calls the Gemini API through the official SDK and decodes its
// response into the Reply union.
type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiClient{client: c, model: model}, nil
}

func (g *GeminiClient) Converse(ctx context.Context, req Request) (Reply, error) {
	contents := buildContents(req)

	temp := req.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature: &temp,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, Classify(err)
	}
	return decodeResponse(resp), nil
}

// buildContents lays out the history followed by the current turn. History
// roles map onto the provider's user/model pair; the current turn is either
// the prompt+audio pair or plain text.
func buildContents(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		var role genai.Role = genai.RoleUser
		if turn.Role == convo.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}

	var current *genai.Content
	if len(req.AudioPCM) > 0 {
		mime := fmt.Sprintf("audio/pcm;rate=%d", config.BackendSendRate)
		current = genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(audioTurnPrompt),
			genai.NewPartFromBytes(req.AudioPCM, mime),
		}, genai.RoleUser)
	} else {
		current = genai.NewContentFromText(req.Text, genai.RoleUser)
	}
	return append(contents, current)
}

// audioTurnPrompt asks the model to echo the recognized user text alongside
// its reply so the post-transcription throttle phase has a transcript to
// inspect. Decoded in splitTranscript.
const audioTurnPrompt = `Listen to the attached utterance. Respond with JSON only: {"transcript": "<what the speaker said>", "reply": "<your conversational reply>"}.`

type structuredReply struct {
	Transcript string `json:"transcript"`
	Reply      string `json:"reply"`
}

// splitTranscript extracts (userTranscript, replyText) from model text. When
// the model ignored the JSON instruction the whole text is the reply and
// the transcript is empty.
func splitTranscript(text string) (string, string) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	var sr structuredReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(trimmed)), &sr); err == nil && sr.Reply != "" {
		return sr.Transcript, sr.Reply
	}
	return "", text
}

// decodeResponse flattens a provider response into exactly one Reply. Text
// parts are concatenated; the first inline audio part wins.
func decodeResponse(resp *genai.GenerateContentResponse) Reply {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Failure{Code: "empty", Message: "no candidates in response"}
	}
	var text string
	var audio []byte
	var tool *ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			if text != "" {
				text += " "
			}
			text += part.Text
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 && audio == nil {
			audio = part.InlineData.Data
		}
		if part.FunctionCall != nil && tool == nil {
			tool = &ToolCall{Name: part.FunctionCall.Name, Args: part.FunctionCall.Args}
		}
	}
	if tool != nil {
		return *tool
	}
	transcript, reply := splitTranscript(text)
	if audio != nil {
		logging.Debugw("backend: reply with audio", "audio_bytes", len(audio), "text_len", len(text))
		return Transcript{
			Text:       transcript,
			ReplyText:  reply,
			Audio:      audio,
			SampleRate: config.BackendReplyRate,
			Channels:   config.BackendReplyChannels,
		}
	}
	if text == "" {
		return Failure{Code: "empty", Message: "candidate had no usable parts"}
	}
	return TextOnly{Text: transcript, ReplyText: reply}
}
