// Package speech manages the continuous recognition session and audio
// playback for one conversation.
package speech

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vancuren/pair.ai/internal/session"
)

// silenceThreshold is the inactivity window after the last transcript update
// before an utterance is considered complete. Conservative, to avoid cutting
// the user mid-sentence.
const silenceThreshold = 700 * time.Millisecond

// restartDelay guards against a restart storm and lets in-flight phase
// transitions settle before a new recognition session begins.
const restartDelay = 600 * time.Millisecond

// Recognizer runs one streaming recognition session at a time against the
// AssemblyAI realtime API. Each session captures a single utterance: when the
// silence window elapses the utterance is submitted, the session ends, and a
// new one is started after restartDelay - but only while the mic flag is set
// and the interaction phase, queried live, is still listening.
type Recognizer struct {
	apiKey    string
	phase     func() session.Phase
	onPartial func(string)
	onFinal   func(string)
	onError   func(string)

	mu         sync.Mutex
	micEnabled bool
	active     bool
	conn       *websocket.Conn
	audio      chan []byte
	stopCh     chan struct{}

	accMu   sync.Mutex
	latest  string
	silence *time.Timer
}

// NewRecognizer wires callbacks for partial transcripts (UI echo only),
// finalized utterances, and user-visible errors. The phase func is consulted
// at event time, never captured.
func NewRecognizer(apiKey string, phase func() session.Phase, onPartial, onFinal, onError func(string)) *Recognizer {
	return &Recognizer{
		apiKey:    apiKey,
		phase:     phase,
		onPartial: onPartial,
		onFinal:   onFinal,
		onError:   onError,
	}
}

// Enable sets the logical mic flag and starts a session if the phase allows.
func (r *Recognizer) Enable() {
	r.mu.Lock()
	r.micEnabled = true
	r.mu.Unlock()
	r.maybeStart()
}

// Disable clears the mic flag and stops any active session.
func (r *Recognizer) Disable() {
	r.mu.Lock()
	r.micEnabled = false
	r.mu.Unlock()
	r.endSession()
}

// MicEnabled reports the logical mic flag.
func (r *Recognizer) MicEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.micEnabled
}

// Active reports whether a recognition session is currently running.
func (r *Recognizer) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Resume re-evaluates whether a session should run. Called when playback
// completes and the phase returns to listening.
func (r *Recognizer) Resume() { r.maybeStart() }

// shouldStart gates session startup on the mic flag and the live phase.
func (r *Recognizer) shouldStart() bool {
	r.mu.Lock()
	mic, active := r.micEnabled, r.active
	r.mu.Unlock()
	return mic && !active && r.phase() == session.PhaseListening
}

func (r *Recognizer) maybeStart() {
	if !r.shouldStart() {
		return
	}
	if err := r.start(); err != nil {
		log.Printf("speech: session start failed: %v", err)
		if kind := classifyError(err.Error()); kind == errPermission {
			r.mu.Lock()
			r.micEnabled = false
			r.mu.Unlock()
			r.report("Microphone transcription was rejected; check the configured credentials.")
		}
	}
}

func (r *Recognizer) start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return nil
	}
	if r.apiKey == "" {
		return fmt.Errorf("assemblyai: permission denied: api key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "false")
	params.Set("encoding", "pcm_s16le")
	wsURL := fmt.Sprintf("wss://streaming.assemblyai.com/v3/ws?%s", params.Encode())

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, map[string][]string{"Authorization": {r.apiKey}})
	if err != nil {
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			return fmt.Errorf("assemblyai: permission denied: status=%d", resp.StatusCode)
		}
		return fmt.Errorf("assemblyai: connect: %w", err)
	}

	r.conn = conn
	r.active = true
	r.audio = make(chan []byte, 1000)
	r.stopCh = make(chan struct{})
	r.accMu.Lock()
	r.latest = ""
	r.accMu.Unlock()

	go r.readLoop(conn, r.stopCh)
	go r.writeLoop(conn, r.audio, r.stopCh)
	return nil
}

// SendPCM16KLE queues 16 kHz little-endian mono PCM for the active session.
func (r *Recognizer) SendPCM16KLE(pcm []byte) error {
	r.mu.Lock()
	active, audio := r.active, r.audio
	r.mu.Unlock()
	if !active {
		return fmt.Errorf("speech: recognition session not active")
	}
	select {
	case audio <- pcm:
	default:
		log.Println("speech: audio buffer full, dropping packet")
	}
	return nil
}

func (r *Recognizer) writeLoop(conn *websocket.Conn, audio <-chan []byte, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case pcm, ok := <-audio:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				log.Printf("speech: send audio: %v", err)
				return
			}
		}
	}
}

func (r *Recognizer) readLoop(conn *websocket.Conn, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-stop:
			default:
				log.Printf("speech: read: %v", err)
				r.sessionEnded()
			}
			return
		}
		r.processMessage(msg)
	}
}

type wireMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Error      string `json:"error"`
}

func (r *Recognizer) processMessage(msg wireMessage) {
	switch msg.Type {
	case "Begin":
		log.Println("speech: recognition session began")
	case "Turn":
		if msg.Transcript == "" {
			return
		}
		if r.onPartial != nil {
			r.onPartial(msg.Transcript)
		}
		r.accMu.Lock()
		r.latest = msg.Transcript
		if r.silence == nil {
			r.silence = time.AfterFunc(silenceThreshold, r.finalizeUtterance)
		} else {
			r.silence.Stop()
			r.silence.Reset(silenceThreshold)
		}
		r.accMu.Unlock()
	case "Termination":
		r.sessionEnded()
	case "Error":
		switch classifyError(msg.Error) {
		case errIgnore:
			// normal no-speech timeout; the end-of-session path restarts
		case errPermission:
			r.mu.Lock()
			r.micEnabled = false
			r.mu.Unlock()
			r.report("Microphone transcription was rejected; voice input is now off.")
			r.endSession()
		default:
			log.Printf("speech: recognition error: %s", msg.Error)
		}
	default:
		log.Printf("speech: unknown message type %q", msg.Type)
	}
}

// finalizeUtterance fires after the silence window. It submits the utterance,
// ends the one-utterance session, and schedules the restart.
func (r *Recognizer) finalizeUtterance() {
	r.accMu.Lock()
	text := strings.TrimSpace(r.latest)
	r.latest = ""
	r.accMu.Unlock()

	r.endSession()
	if text != "" && r.onFinal != nil {
		r.onFinal(text)
	}
	if r.onPartial != nil {
		r.onPartial("") // clear the interim display
	}
	r.scheduleRestart()
}

// endSession tears down the websocket and marks the recognizer stopped.
func (r *Recognizer) endSession() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	conn, stop := r.conn, r.stopCh
	r.conn = nil
	r.mu.Unlock()

	r.accMu.Lock()
	if r.silence != nil {
		r.silence.Stop()
		r.silence = nil
	}
	r.accMu.Unlock()

	close(stop)
	if conn != nil {
		_ = conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = conn.Close()
	}
}

// sessionEnded handles an end arriving from the far side.
func (r *Recognizer) sessionEnded() {
	r.endSession()
	r.scheduleRestart()
}

// scheduleRestart arms the fixed-delay restart. The guards run again when the
// timer fires so a phase change during the delay suppresses the restart.
func (r *Recognizer) scheduleRestart() {
	time.AfterFunc(restartDelay, r.maybeStart)
}

func (r *Recognizer) report(msg string) {
	if r.onError != nil {
		r.onError(msg)
	}
}

type errorKind int

const (
	errOther errorKind = iota
	errIgnore
	errPermission
)

// classifyError maps wire error text onto the three conditions that matter:
// no-speech timeouts are normal, permission problems kill the mic flag, and
// everything else is only logged.
func classifyError(text string) errorKind {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "no-speech"), strings.Contains(t, "no speech"),
		strings.Contains(t, "audio timeout"):
		return errIgnore
	case strings.Contains(t, "permission denied"), strings.Contains(t, "not authorized"),
		strings.Contains(t, "unauthorized"), strings.Contains(t, "forbidden"):
		return errPermission
	default:
		return errOther
	}
}
