package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vancuren/pair.ai/internal/repo"
)

// Phase is the single authoritative state of the conversation session. It
// gates which subsystems may act: recognition runs only while Listening, and
// Processing/Speaking suspend it so the assistant never hears itself.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSharingScreen
	PhaseRepoConnected
	PhaseListening
	PhaseProcessing
	PhaseSpeaking
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSharingScreen:
		return "sharing-screen"
	case PhaseRepoConnected:
		return "repo-connected"
	case PhaseListening:
		return "listening"
	case PhaseProcessing:
		return "processing"
	case PhaseSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Mode identifies which situational context is attached to model requests.
type Mode int

const (
	ModeNone Mode = iota
	ModeScreenShare
	ModeRepository
)

// Sender identifies who produced a transcript message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAgent  Sender = "agent"
	SenderSystem Sender = "system"
)

// Message is one immutable entry in the conversation transcript.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// State owns every mutable record the conversation shares: the append-only
// transcript, the interaction phase, and the active context mode. All
// mutation goes through methods on State; nothing outside this package pokes
// fields directly.
type State struct {
	mu       sync.Mutex
	phase    Phase
	mode     Mode
	conn     repo.Connection
	messages []Message
	onAppend func(Message)
}

func NewState() *State {
	return &State{phase: PhaseIdle}
}

// OnAppend registers a single observer notified of every appended message.
// Register before the session starts; the callback runs outside the lock.
func (s *State) OnAppend(fn func(Message)) {
	s.mu.Lock()
	s.onAppend = fn
	s.mu.Unlock()
}

// AppendMessage adds a message to the transcript and returns it.
func (s *State) AppendMessage(sender Sender, text string) Message {
	msg := Message{ID: uuid.NewString(), Sender: sender, Text: text, CreatedAt: time.Now()}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	notify := s.onAppend
	s.mu.Unlock()
	if notify != nil {
		notify(msg)
	}
	return msg
}

// Messages returns a copy of the transcript in insertion order.
func (s *State) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *State) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// BeginProcessing moves the session into Processing. It refuses when a turn
// is already in flight (Processing or Speaking) so overlapping submissions
// are rejected rather than queued or merged.
func (s *State) BeginProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseProcessing || s.phase == PhaseSpeaking {
		return false
	}
	s.phase = PhaseProcessing
	return true
}

// BeginSpeaking marks the start of audio playback for the current turn.
func (s *State) BeginSpeaking() {
	s.mu.Lock()
	s.phase = PhaseSpeaking
	s.mu.Unlock()
}

// DoneSpeaking returns the session to Listening. It is the sole path out of
// Speaking, triggered by playback completion or by skipped playback.
func (s *State) DoneSpeaking() {
	s.mu.Lock()
	s.phase = PhaseListening
	s.mu.Unlock()
}

// StartListening moves an idle or resting session into Listening. It refuses
// while a turn is in flight; the turn's own finalization restores Listening.
func (s *State) StartListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseProcessing || s.phase == PhaseSpeaking {
		return false
	}
	s.phase = PhaseListening
	return true
}

// StopListening drops back to a resting phase describing the active mode.
func (s *State) StopListening() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseListening {
		return
	}
	s.phase = s.restingPhase()
}

func (s *State) restingPhase() Phase {
	switch s.mode {
	case ModeScreenShare:
		return PhaseSharingScreen
	case ModeRepository:
		return PhaseRepoConnected
	default:
		return PhaseIdle
	}
}

// ActivateScreenShare enters screen-share mode. A live repository connection
// is torn down first: the two context modes are never simultaneously active.
func (s *State) ActivateScreenShare() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = repo.Connection{}
	s.mode = ModeScreenShare
	if s.phase == PhaseIdle || s.phase == PhaseRepoConnected {
		s.phase = PhaseSharingScreen
	}
}

// DeactivateScreenShare leaves screen-share mode if it is active.
func (s *State) DeactivateScreenShare() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeScreenShare {
		return
	}
	s.mode = ModeNone
	if s.phase == PhaseSharingScreen {
		s.phase = PhaseIdle
	}
}

// ConnectRepository enters repository mode, tearing down screen share first.
// The connection is held in memory only and never persisted.
func (s *State) ConnectRepository(conn repo.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = ModeRepository
	s.conn = conn
	if s.phase == PhaseIdle || s.phase == PhaseSharingScreen {
		s.phase = PhaseRepoConnected
	}
}

// DisconnectRepository clears the repository connection.
func (s *State) DisconnectRepository() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeRepository {
		return
	}
	s.mode = ModeNone
	s.conn = repo.Connection{}
	if s.phase == PhaseRepoConnected {
		s.phase = PhaseIdle
	}
}

// Repository returns the active connection, if any.
func (s *State) Repository() (repo.Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn, s.mode == ModeRepository
}
