package capture

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{R: 255, A: 255})
	}
	return img
}

func TestCaptureFrame_NilWhenEmpty(t *testing.T) {
	b := NewBuffer(0)
	if f := b.CaptureFrame(); f != nil {
		t.Fatalf("expected nil frame from empty buffer")
	}
}

func TestCaptureFrame_EncodesJPEG(t *testing.T) {
	b := NewBuffer(time.Minute)
	b.Store(testImage())
	f := b.CaptureFrame()
	if f == nil {
		t.Fatalf("expected a frame")
	}
	if f.MIME != "image/jpeg" {
		t.Fatalf("unexpected mime %q", f.MIME)
	}
	// JPEG SOI marker
	if len(f.Data) < 2 || f.Data[0] != 0xff || f.Data[1] != 0xd8 {
		t.Fatalf("payload is not JPEG")
	}
}

func TestCaptureFrame_StaleFrameReturnsNil(t *testing.T) {
	b := NewBuffer(time.Second)
	b.Store(testImage())
	b.now = func() time.Time { return time.Now().Add(5 * time.Second) }
	if f := b.CaptureFrame(); f != nil {
		t.Fatalf("expected nil for stale frame")
	}
}

func TestStoreEncoded_AcceptsPNG(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage()); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	b := NewBuffer(time.Minute)
	if err := b.StoreEncoded(buf.Bytes()); err != nil {
		t.Fatalf("store encoded: %v", err)
	}
	if b.CaptureFrame() == nil {
		t.Fatalf("expected frame after png upload")
	}
}

func TestStoreEncoded_RejectsGarbage(t *testing.T) {
	b := NewBuffer(time.Minute)
	if err := b.StoreEncoded([]byte("not an image")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestClear_DropsFrame(t *testing.T) {
	b := NewBuffer(time.Minute)
	b.Store(testImage())
	b.Clear()
	if f := b.CaptureFrame(); f != nil {
		t.Fatalf("expected nil after clear")
	}
}
