package agent

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/vancuren/pair.ai/internal/capture"
	"github.com/vancuren/pair.ai/internal/llm"
	"github.com/vancuren/pair.ai/internal/session"
)

const (
	stepLimitApology = "I had to stop there - that request needed more tool steps than I allow in one turn. Could we break it into smaller pieces?"
	loopApology      = "I seem to be going in circles with the repository tools, so I'll stop here. Could you rephrase the request?"
	repoApology      = "Sorry, I couldn't reach the repository just now. Could you try again?"
	changeApology    = "Sorry, I wasn't able to create that change. The repository call failed."
	noRepoReply      = "I can't use repository tools right now because no repository is connected."
)

// Orchestrator drives one conversational turn at a time: utterance in,
// context attached, model called, tool requests executed against the
// repository, final text rendered and spoken.
type Orchestrator struct {
	state    *session.State
	model    Model
	synth    Synthesizer
	frames   FrameSource
	maxSteps int

	mu      sync.Mutex
	repo    Repository
	speaker Speaker

	// onListening runs after every turn fully settles back into listening,
	// letting the recognition session resume.
	onListening func()
}

func New(state *session.State, model Model, synth Synthesizer, frames FrameSource, maxSteps int) *Orchestrator {
	if maxSteps < 1 {
		maxSteps = 5
	}
	return &Orchestrator{state: state, model: model, synth: synth, frames: frames, maxSteps: maxSteps}
}

// OnListening registers the resume hook. Register before the session starts.
func (o *Orchestrator) OnListening(fn func()) { o.onListening = fn }

// SetRepository installs the gateway for the active connection.
func (o *Orchestrator) SetRepository(r Repository) {
	o.mu.Lock()
	o.repo = r
	o.mu.Unlock()
}

// ClearRepository removes the gateway when the connection is torn down.
func (o *Orchestrator) ClearRepository() { o.SetRepository(nil) }

// SetSpeaker installs the playback path once the audio transport is up.
func (o *Orchestrator) SetSpeaker(s Speaker) {
	o.mu.Lock()
	o.speaker = s
	o.mu.Unlock()
}

func (o *Orchestrator) repository() Repository {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.repo
}

func (o *Orchestrator) currentSpeaker() Speaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.speaker
}

// HandleUtterance runs one full turn. Empty text is ignored silently. A turn
// arriving while another is still processing or speaking is rejected, never
// queued or merged.
func (o *Orchestrator) HandleUtterance(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if !o.state.BeginProcessing() {
		log.Printf("agent: utterance rejected, a turn is already in flight (phase=%s)", o.state.Phase())
		return
	}
	o.state.AppendMessage(session.SenderUser, text)

	toolMode := false
	var frame *capture.Frame
	if o.repository() != nil {
		toolMode = true
	} else if o.state.Mode() == session.ModeScreenShare && o.frames != nil {
		// nil frame means "proceed without visual context"
		frame = o.frames.CaptureFrame()
	}

	final := o.processTurn(ctx, text, frame, toolMode, "", 0, map[string]bool{})
	o.finalize(ctx, final)
}

// processTurn runs one model invocation and, when the model requests a tool,
// executes exactly the first request and recurses with the result folded in
// as context. The step counter bounds the recursion; a repeated identical
// request ends the turn early.
func (o *Orchestrator) processTurn(ctx context.Context, utterance string, frame *capture.Frame, toolMode bool, extraContext string, step int, seen map[string]bool) string {
	if step >= o.maxSteps {
		log.Printf("agent: tool step limit %d reached, failing closed", o.maxSteps)
		return stepLimitApology
	}

	req := llm.ConverseRequest{Utterance: utterance, ToolsEnabled: toolMode, ExtraContext: extraContext}
	if frame != nil {
		req.ImageJPEG = frame.Data
	}
	res := o.model.Converse(ctx, req)
	if len(res.ToolCalls) == 0 {
		return res.Text
	}

	// One side effect per model response: dispatch the first call only.
	call := res.ToolCalls[0]
	key := callKey(call)
	if seen[key] {
		log.Printf("agent: model repeated tool call %s, stopping the loop", call.Name)
		return loopApology
	}
	seen[key] = true

	repoGw := o.repository()
	if repoGw == nil {
		return noRepoReply
	}

	switch call.Name {
	case llm.ToolListFiles:
		o.state.AppendMessage(session.SenderSystem, "Fetching file list...")
		files, err := repoGw.ListFiles(ctx)
		if err != nil {
			log.Printf("agent: list_files failed: %v", err)
			return repoApology
		}
		return o.processTurn(ctx, utterance, nil, true, strings.Join(files, "\n"), step+1, seen)

	case llm.ToolReadFile:
		path := call.Args["path"]
		o.state.AppendMessage(session.SenderSystem, fmt.Sprintf("Reading %s...", path))
		content, err := repoGw.ReadFile(ctx, path)
		if err != nil {
			// fold the failure into the conversation so the model decides
			// the next step; the turn is never aborted here
			log.Printf("agent: read_file %s failed: %v", path, err)
			content = fmt.Sprintf("The file %q could not be read: %v", path, err)
		}
		return o.processTurn(ctx, utterance, nil, true, content, step+1, seen)

	case llm.ToolCreateChange:
		path := call.Args["path"]
		o.state.AppendMessage(session.SenderSystem, fmt.Sprintf("Creating a change for %s...", path))
		changeURL, err := repoGw.CreateChange(ctx, path, call.Args["content"], call.Args["description"])
		if err != nil {
			log.Printf("agent: create_change %s failed: %v", path, err)
			return changeApology
		}
		return fmt.Sprintf("I've opened the change for review: %s", changeURL)

	default:
		log.Printf("agent: model requested unknown tool %q", call.Name)
		return loopApology
	}
}

// finalize renders and speaks the final response, then returns the session
// to listening. Playback completion is the only exit from the speaking
// phase; a skipped synthesis goes back directly.
func (o *Orchestrator) finalize(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		// the model can legally return an empty candidate
		text = llm.Apology
	}
	o.state.AppendMessage(session.SenderAgent, text)
	o.state.BeginSpeaking()

	pcm := o.synth.SynthesizeSpeech(ctx, text)
	speaker := o.currentSpeaker()
	if pcm == nil || speaker == nil {
		o.backToListening()
		return
	}
	speaker.Play(pcm, o.backToListening)
}

func (o *Orchestrator) backToListening() {
	o.state.DoneSpeaking()
	if o.onListening != nil {
		o.onListening()
	}
}

func callKey(call llm.ToolCall) string {
	keys := make([]string, 0, len(call.Args))
	for k := range call.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(call.Name)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(call.Args[k])
	}
	return b.String()
}
