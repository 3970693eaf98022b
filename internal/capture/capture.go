// Package capture keeps the most recent screen snapshot pushed by the client
// and re-encodes it on demand as visual context for model requests.
package capture

import (
	"bytes"
	"image"
	"image/jpeg"
	"log"
	"sync"
	"time"

	_ "image/png" // snapshot uploads may be PNG-encoded
)

// DefaultMaxAge bounds how stale a stored frame may be before a capture
// returns nothing: a frozen feed should not keep feeding the model old screens.
const DefaultMaxAge = 10 * time.Second

const jpegQuality = 80

// Frame is one encoded still image ready to attach to a model request.
type Frame struct {
	MIME string
	Data []byte
}

// Buffer is a latest-frame slot. Store replaces the previous frame; there is
// no history.
type Buffer struct {
	mu     sync.Mutex
	img    image.Image
	at     time.Time
	maxAge time.Duration
	now    func() time.Time
}

func NewBuffer(maxAge time.Duration) *Buffer {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Buffer{maxAge: maxAge, now: time.Now}
}

// Store replaces the current frame.
func (b *Buffer) Store(img image.Image) {
	b.mu.Lock()
	b.img = img
	b.at = b.now()
	b.mu.Unlock()
}

// StoreEncoded decodes an uploaded snapshot (JPEG or PNG) and stores it.
func (b *Buffer) StoreEncoded(data []byte) error {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}
	b.Store(img)
	return nil
}

// Clear drops the stored frame, used when screen share stops.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.img = nil
	b.mu.Unlock()
}

// CaptureFrame encodes the current frame as JPEG. It returns nil when no
// frame is present, the frame is stale, or encoding fails; callers proceed
// without visual context in every such case.
func (b *Buffer) CaptureFrame() *Frame {
	b.mu.Lock()
	img, at := b.img, b.at
	b.mu.Unlock()
	if img == nil || b.now().Sub(at) > b.maxAge {
		return nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		log.Printf("capture: encode failed: %v", err)
		return nil
	}
	return &Frame{MIME: "image/jpeg", Data: buf.Bytes()}
}
