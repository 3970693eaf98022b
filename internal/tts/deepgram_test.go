package tts

import (
	"context"
	"testing"
	"time"
)

func TestDeepgram_NilWithoutKey(t *testing.T) {
	d := NewDeepgramClient("", "")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if pcm := d.SynthesizeSpeech(ctx, "hello"); pcm != nil {
		t.Fatalf("expected nil buffer without api key")
	}
}

func TestDeepgram_DefaultModel(t *testing.T) {
	d := NewDeepgramClient("key", "")
	if d.model == "" {
		t.Fatalf("expected a default model")
	}
}

func TestDeepgram_CodeStrippedBeforeSynthesis(t *testing.T) {
	d := NewDeepgramClient("", "")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	// Only a code block: after stripping the placeholder remains, so the
	// empty-key failure path is hit; an empty string short-circuits earlier.
	if pcm := d.SynthesizeSpeech(ctx, "```\ncode\n```"); pcm != nil {
		t.Fatalf("expected nil buffer")
	}
}
