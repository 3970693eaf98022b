package speech

import (
	"log"
	"math"
	"time"
)

// SynthesisRate is the PCM sample rate produced by speech synthesis.
const SynthesisRate = 24000

// PCMSink consumes raw 16-bit little-endian PCM bytes and delivers them to
// the client (e.g. Opus-encoded over WebRTC). Implementations buffer and pace
// internally.
type PCMSink interface {
	WritePCM(pcm []byte)
	FlushTail()
	// Reset drops queued audio immediately.
	Reset()
}

// Player hands synthesized speech to the sink and reports completion. The
// completion callback is the sole mechanism returning the session to a
// listening phase after the agent speaks.
type Player struct {
	sink PCMSink
	rate int
}

func NewPlayer(sink PCMSink) *Player {
	return &Player{sink: sink, rate: SynthesisRate}
}

// Play writes the buffer to the sink and invokes done once the audio has had
// time to drain. All-silence buffers are skipped so the session is not stuck
// "speaking" dead air.
func (p *Player) Play(pcm []byte, done func()) {
	if done == nil {
		done = func() {}
	}
	if len(pcm) < 2 || p.sink == nil || rms(Samples(pcm)) < 1e-4 {
		done()
		return
	}
	p.sink.WritePCM(pcm)
	p.sink.FlushTail()

	samples := len(pcm) / 2
	dur := time.Duration(samples) * time.Second / time.Duration(p.rate)
	log.Printf("speech: playing %s of audio", dur.Round(time.Millisecond))
	// small tail so the sink can drain its pacing queue
	time.AfterFunc(dur+250*time.Millisecond, done)
}

// Stop drops any queued audio immediately.
func (p *Player) Stop() {
	if p.sink != nil {
		p.sink.Reset()
	}
}

// Samples decodes 16-bit little-endian PCM into samples normalized to the
// range [-1.0, 1.0].
func Samples(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = float32(v) / 32768.0
	}
	return out
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
