package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"regexp"
	"strings"
)

// CodePlaceholder is spoken in place of any fenced code block so long code is
// never read aloud.
const CodePlaceholder = "I've provided the code in the chat."

var fencedBlock = regexp.MustCompile("(?s)```.*?```")

// SpeakableText replaces every fenced code block with the spoken placeholder.
// A dangling unterminated fence is stripped through to the end of the text.
func SpeakableText(text string) string {
	out := fencedBlock.ReplaceAllString(text, CodePlaceholder)
	if idx := strings.Index(out, "```"); idx >= 0 {
		out = strings.TrimSpace(out[:idx]) + " " + CodePlaceholder
	}
	return strings.TrimSpace(out)
}

// SynthesizeSpeech turns text into raw 16-bit little-endian PCM at 24 kHz
// mono. Fenced code blocks are stripped before synthesis. Any failure returns
// nil; callers treat a nil buffer as "skip playback, resume listening".
func (c *GeminiClient) SynthesizeSpeech(ctx context.Context, text string) []byte {
	spoken := SpeakableText(text)
	if spoken == "" {
		return nil
	}
	body := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: spoken}}}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{
				VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoice{VoiceName: c.Voice}},
			},
		},
	}

	pcm, err := c.synthesize(ctx, body)
	if err != nil {
		log.Printf("llm: speech synthesis failed: %v", err)
		return nil
	}
	return pcm
}

func (c *GeminiClient) synthesize(ctx context.Context, body generateRequest) ([]byte, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("gemini api key missing")
	}
	var gr generateResponse
	if err := c.post(ctx, c.TTSModel, body, &gr); err != nil {
		return nil, err
	}
	if len(gr.Candidates) == 0 {
		return nil, fmt.Errorf("gemini tts: empty candidates")
	}
	for _, p := range gr.Candidates[0].Content.Parts {
		if p.InlineData != nil && p.InlineData.Data != "" {
			pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("gemini tts: decode audio: %w", err)
			}
			return pcm, nil
		}
	}
	return nil, fmt.Errorf("gemini tts: no audio payload in response")
}
