package speech

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/vancuren/pair.ai/internal/session"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		text string
		want errorKind
	}{
		{"no-speech detected", errIgnore},
		{"Audio timeout: no speech received", errIgnore},
		{"Not authorized", errPermission},
		{"permission denied by user", errPermission},
		{"403 Forbidden", errPermission},
		{"internal server error", errOther},
		{"", errOther},
	}
	for _, tc := range cases {
		if got := classifyError(tc.text); got != tc.want {
			t.Fatalf("classifyError(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestShouldStart_GatedOnPhaseAndMic(t *testing.T) {
	phase := session.PhaseListening
	r := NewRecognizer("key", func() session.Phase { return phase }, nil, nil, nil)

	if r.shouldStart() {
		t.Fatalf("must not start with mic disabled")
	}
	r.mu.Lock()
	r.micEnabled = true
	r.mu.Unlock()
	if !r.shouldStart() {
		t.Fatalf("expected start when listening with mic on")
	}

	phase = session.PhaseProcessing
	if r.shouldStart() {
		t.Fatalf("restart must be suppressed while processing")
	}
	phase = session.PhaseSpeaking
	if r.shouldStart() {
		t.Fatalf("restart must be suppressed while speaking")
	}
	phase = session.PhaseListening
	r.mu.Lock()
	r.active = true
	r.mu.Unlock()
	if r.shouldStart() {
		t.Fatalf("must not start a second concurrent session")
	}
}

func TestProcessMessage_TurnStreamsPartials(t *testing.T) {
	var partial atomic.Value
	r := NewRecognizer("key", func() session.Phase { return session.PhaseListening },
		func(s string) { partial.Store(s) }, nil, nil)
	r.processMessage(wireMessage{Type: "Turn", Transcript: "hello wor"})
	if got, _ := partial.Load().(string); got != "hello wor" {
		t.Fatalf("expected partial surfaced, got %q", got)
	}
	r.accMu.Lock()
	latest, timer := r.latest, r.silence
	if timer != nil {
		timer.Stop()
	}
	r.accMu.Unlock()
	if latest != "hello wor" {
		t.Fatalf("expected latest transcript recorded, got %q", latest)
	}
	if timer == nil {
		t.Fatalf("expected silence timer armed")
	}
}

func TestFinalizeUtterance_SubmitsAndClearsInterim(t *testing.T) {
	var finals []string
	var partials []string
	r := NewRecognizer("key", func() session.Phase { return session.PhaseProcessing },
		func(s string) { partials = append(partials, s) },
		func(s string) { finals = append(finals, s) }, nil)
	r.accMu.Lock()
	r.latest = "  list the files  "
	r.accMu.Unlock()
	r.finalizeUtterance()
	if len(finals) != 1 || finals[0] != "list the files" {
		t.Fatalf("expected trimmed final utterance, got %v", finals)
	}
	if len(partials) != 1 || partials[0] != "" {
		t.Fatalf("expected interim display cleared, got %v", partials)
	}
}

func TestFinalizeUtterance_EmptyTranscriptNotSubmitted(t *testing.T) {
	var finals int32
	r := NewRecognizer("key", func() session.Phase { return session.PhaseListening },
		nil, func(string) { atomic.AddInt32(&finals, 1) }, nil)
	r.finalizeUtterance()
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&finals) != 0 {
		t.Fatalf("empty utterance must not be submitted")
	}
}

func TestPermissionError_DisablesMicAndReports(t *testing.T) {
	var reported atomic.Value
	r := NewRecognizer("key", func() session.Phase { return session.PhaseListening },
		nil, nil, func(msg string) { reported.Store(msg) })
	r.mu.Lock()
	r.micEnabled = true
	r.mu.Unlock()
	r.processMessage(wireMessage{Type: "Error", Error: "Not authorized"})
	if r.MicEnabled() {
		t.Fatalf("permission error must clear the mic flag")
	}
	if reported.Load() == nil {
		t.Fatalf("permission error must surface to the user")
	}
}

func TestNoSpeechError_Ignored(t *testing.T) {
	var reported int32
	r := NewRecognizer("key", func() session.Phase { return session.PhaseListening },
		nil, nil, func(string) { atomic.AddInt32(&reported, 1) })
	r.mu.Lock()
	r.micEnabled = true
	r.mu.Unlock()
	r.processMessage(wireMessage{Type: "Error", Error: "no-speech"})
	if !r.MicEnabled() {
		t.Fatalf("no-speech must not touch the mic flag")
	}
	if atomic.LoadInt32(&reported) != 0 {
		t.Fatalf("no-speech must not surface an error")
	}
}

func TestEnable_EmptyKeyDisablesMic(t *testing.T) {
	var reported atomic.Value
	r := NewRecognizer("", func() session.Phase { return session.PhaseListening },
		nil, nil, func(msg string) { reported.Store(msg) })
	r.Enable()
	if r.MicEnabled() {
		t.Fatalf("expected mic flag cleared when credentials are missing")
	}
	if reported.Load() == nil {
		t.Fatalf("expected user-visible error")
	}
	if r.Active() {
		t.Fatalf("no session should be active")
	}
}
