package agent

import (
	"context"

	"github.com/vancuren/pair.ai/internal/capture"
	"github.com/vancuren/pair.ai/internal/llm"
)

// Model is the conversational inference capability. Converse never fails
// from the caller's point of view: transport problems surface as a fallback
// result carrying the apology text.
type Model interface {
	Converse(ctx context.Context, req llm.ConverseRequest) llm.ConverseResult
}

// Synthesizer turns text into 16-bit LE PCM at the synthesis rate. A nil
// buffer means "skip playback".
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, text string) []byte
}

// Repository is the connected source repository the model's tools operate on.
type Repository interface {
	ListFiles(ctx context.Context) ([]string, error)
	ReadFile(ctx context.Context, path string) (string, error)
	CreateChange(ctx context.Context, path, content, description string) (string, error)
}

// FrameSource supplies the current screen frame, or nil when none is usable.
type FrameSource interface {
	CaptureFrame() *capture.Frame
}

// Speaker delivers synthesized audio and reports completion.
type Speaker interface {
	Play(pcm []byte, done func())
}
