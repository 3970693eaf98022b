package session

import (
	"strings"
	"testing"

	"github.com/vancuren/pair.ai/internal/repo"
)

func TestState_ContextModesAreMutuallyExclusive(t *testing.T) {
	s := NewState()
	s.ConnectRepository(repo.Connection{Owner: "octo", Repo: "spoon"})
	if _, ok := s.Repository(); !ok {
		t.Fatalf("expected repository connection active")
	}
	s.ActivateScreenShare()
	if _, ok := s.Repository(); ok {
		t.Fatalf("expected repository connection cleared by screen share")
	}
	if s.Mode() != ModeScreenShare {
		t.Fatalf("expected screen share mode, got %v", s.Mode())
	}
	s.ConnectRepository(repo.Connection{Owner: "octo", Repo: "spoon"})
	if s.Mode() != ModeRepository {
		t.Fatalf("expected repository mode, got %v", s.Mode())
	}
}

func TestState_BeginProcessingRejectsOverlap(t *testing.T) {
	s := NewState()
	if !s.BeginProcessing() {
		t.Fatalf("expected first turn accepted")
	}
	if s.BeginProcessing() {
		t.Fatalf("expected overlapping turn rejected while processing")
	}
	s.BeginSpeaking()
	if s.BeginProcessing() {
		t.Fatalf("expected overlapping turn rejected while speaking")
	}
	s.DoneSpeaking()
	if !s.BeginProcessing() {
		t.Fatalf("expected turn accepted after speaking finished")
	}
}

func TestState_ListeningSuspendedDuringTurn(t *testing.T) {
	s := NewState()
	s.BeginProcessing()
	if s.StartListening() {
		t.Fatalf("listening must not start while processing")
	}
	s.BeginSpeaking()
	if s.StartListening() {
		t.Fatalf("listening must not start while speaking")
	}
	s.DoneSpeaking()
	if s.Phase() != PhaseListening {
		t.Fatalf("expected listening after playback, got %v", s.Phase())
	}
}

func TestState_StopListeningRestsOnMode(t *testing.T) {
	s := NewState()
	s.ConnectRepository(repo.Connection{Owner: "o", Repo: "r"})
	s.StartListening()
	s.StopListening()
	if s.Phase() != PhaseRepoConnected {
		t.Fatalf("expected repo-connected resting phase, got %v", s.Phase())
	}
	s.DisconnectRepository()
	if s.Phase() != PhaseIdle {
		t.Fatalf("expected idle after disconnect, got %v", s.Phase())
	}
}

func TestState_AppendNotifiesAndOrders(t *testing.T) {
	s := NewState()
	var seen []string
	s.OnAppend(func(m Message) { seen = append(seen, m.Text) })
	s.AppendMessage(SenderUser, "first")
	s.AppendMessage(SenderAgent, "second")
	msgs := s.Messages()
	if len(msgs) != 2 || msgs[0].Text != "first" || msgs[1].Text != "second" {
		t.Fatalf("unexpected transcript order: %+v", msgs)
	}
	if msgs[0].ID == "" || msgs[0].ID == msgs[1].ID {
		t.Fatalf("expected distinct message ids")
	}
	if len(seen) != 2 {
		t.Fatalf("expected observer notified twice, got %d", len(seen))
	}
}

func TestRenderTranscript_ContainsMessages(t *testing.T) {
	s := NewState()
	s.AppendMessage(SenderUser, "list the files")
	s.AppendMessage(SenderAgent, "here they are")
	out := s.RenderTranscript()
	if !strings.Contains(out, "list the files") || !strings.Contains(out, "here they are") {
		t.Fatalf("transcript table missing messages:\n%s", out)
	}
}
