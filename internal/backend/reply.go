// Package backend is the boundary to the conversational AI service. Loose
// provider payloads are decoded exactly once, here, into a small tagged
// union of reply kinds; nothing upstream ever touches raw provider shapes.
package backend

// Reply is the tagged union over the reply kinds a backend call can yield.
type Reply interface {
	replyKind() string
}

// SetupComplete acknowledges session establishment without content.
type SetupComplete struct{}

func (SetupComplete) replyKind() string { return "setup_complete" }

// Transcript carries the recognized user text together with spoken reply
// audio (PCM16LE at the configured backend reply rate).
type Transcript struct {
	Text       string
	ReplyText  string
	Audio      []byte
	SampleRate int
	Channels   int
}

func (Transcript) replyKind() string { return "transcript_audio" }

// TextOnly is a reply with no audio; the caller needs a separate TTS hop.
type TextOnly struct {
	Text      string
	ReplyText string
}

func (TextOnly) replyKind() string { return "text_only" }

// ToolCall is a function-call request emitted by the model.
type ToolCall struct {
	Name string
	Args map[string]any
}

func (ToolCall) replyKind() string { return "tool_call" }

// Failure is an in-band provider error payload.
type Failure struct {
	Code    string
	Message string
}

func (Failure) replyKind() string { return "error" }
