package rtc

import (
	"context"
	"encoding/binary"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/vancuren/pair.ai/internal/agent"
	"github.com/vancuren/pair.ai/internal/session"
	"github.com/vancuren/pair.ai/internal/speech"
)

// SessionDescription is a small DTO to avoid exposing webrtc types in transport.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Handler manages WebRTC peer connections and wires the browser's audio
// tracks to the recognizer and the synthesized replies back out.
type Handler struct {
	state *session.State
	rec   *speech.Recognizer
	orch  *agent.Orchestrator
}

func NewHandler(state *session.State, rec *speech.Recognizer, orch *agent.Orchestrator) *Handler {
	return &Handler{state: state, rec: rec, orch: orch}
}

// HandleOffer accepts an SDP offer and returns an SDP answer.
func (h *Handler) HandleOffer(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}

	callID := uuid.NewString()[:8]

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return SessionDescription{}, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return SessionDescription{}, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	peerConnection, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}})
	if err != nil {
		return SessionDescription{}, err
	}

	outTrack, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1}, "agent-audio", "agent")
	if err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	if _, err := peerConnection.AddTrack(outTrack); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}

	paced, err := NewOpusPacedWriter(outTrack, speech.SynthesisRate)
	if err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	player := speech.NewPlayer(paced)
	h.orch.SetSpeaker(player)

	peerConnection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[%s] PeerConnection state: %s", callID, state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			log.Printf("[%s] Conversation transcript:\n%s", callID, h.state.RenderTranscript())
			h.orch.SetSpeaker(nil)
			paced.Close()
			h.rec.Disable()
			_ = peerConnection.Close()
		}
	})

	// The control channel carries device-level toggles from the page.
	peerConnection.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "control" {
			return
		}
		log.Printf("[%s] Control channel opened", callID)
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			cmd := strings.TrimSpace(strings.ToLower(string(msg.Data)))
			switch cmd {
			case "mic-on":
				h.state.StartListening()
				h.rec.Enable()
			case "mic-off":
				h.rec.Disable()
				h.state.StopListening()
			}
		})
	})
	peerConnection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) { log.Printf("[%s] ICE state: %s", callID, state.String()) })

	peerConnection.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("[%s] Remote audio track received: codec=%s", callID, remote.Codec().MimeType)

		dec, derr := opus.NewDecoder(16000, 1)
		if derr != nil {
			log.Printf("[%s] Opus decoder error: %v", callID, derr)
			return
		}
		go h.micReader(callID, remote, dec)
	})

	if err := peerConnection.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	answer, err := peerConnection.CreateAnswer(nil)
	if err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(peerConnection)
	if err := peerConnection.SetLocalDescription(answer); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	select {
	case <-gatherComplete:
	case <-time.After(3 * time.Second):
	case <-ctx.Done():
		_ = peerConnection.Close()
		return SessionDescription{}, ctx.Err()
	}

	local := peerConnection.LocalDescription()
	log.Printf("[%s] Answer ready", callID)
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// micReader decodes incoming Opus to 16kHz PCM and forwards it to the
// recognizer in fixed 3200-byte chunks.
func (h *Handler) micReader(callID string, remote *webrtc.TrackRemote, dec *opus.Decoder) {
	const pcm16kChunkBytes = 3200
	pcm16kBuf := make([]byte, 0, pcm16kChunkBytes*4)
	pcmSamples := make([]int16, 1920)
	for {
		pkt, _, readErr := remote.ReadRTP()
		if readErr != nil {
			log.Printf("[%s] RTP read error: %v", callID, readErr)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, decErr := dec.Decode(pkt.Payload, pcmSamples)
		if decErr != nil {
			log.Printf("[%s] Opus decode error: %v", callID, decErr)
			continue
		}
		startLen := len(pcm16kBuf)
		need := n * 2
		if cap(pcm16kBuf)-startLen < need {
			tmp := make([]byte, startLen, startLen+need+pcm16kChunkBytes)
			copy(tmp, pcm16kBuf)
			pcm16kBuf = tmp
		}
		pcm16kBuf = pcm16kBuf[:startLen+need]
		o := pcm16kBuf[startLen:]
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(o[i*2:(i+1)*2], uint16(pcmSamples[i]))
		}
		pcm16kBuf = forwardChunks(pcm16kBuf, pcm16kChunkBytes, func(chunk []byte) {
			if err := h.rec.SendPCM16KLE(chunk); err != nil {
				log.Printf("[%s] recognizer send error: %v", callID, err)
			}
		})
	}
}

// forwardChunks hands every full chunk to send and returns the remainder.
// Each chunk is copied first: the buffer is compacted in place immediately,
// while the recognizer consumes queued chunks asynchronously.
func forwardChunks(buf []byte, chunkBytes int, send func([]byte)) []byte {
	for len(buf) >= chunkBytes {
		chunk := make([]byte, chunkBytes)
		copy(chunk, buf[:chunkBytes])
		send(chunk)
		copy(buf, buf[chunkBytes:])
		buf = buf[:len(buf)-chunkBytes]
	}
	return buf
}
