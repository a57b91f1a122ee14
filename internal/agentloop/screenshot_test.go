package agentloop

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestDownscaleScreenshot_LeavesSmallImageUnscaled(t *testing.T) {
	raw := encodePNG(t, 200, 100)
	img, err := downscaleScreenshot(raw)
	if err != nil {
		t.Fatalf("downscaleScreenshot: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(mustBase64Decode(t, img.PNGBase64)))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	b := decoded.Bounds()
	if b.Dx() != 200 || b.Dy() != 100 {
		t.Fatalf("expected untouched 200x100, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestDownscaleScreenshot_ShrinksLongEdgeTo1280(t *testing.T) {
	raw := encodePNG(t, 2560, 1440)
	img, err := downscaleScreenshot(raw)
	if err != nil {
		t.Fatalf("downscaleScreenshot: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(mustBase64Decode(t, img.PNGBase64)))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	b := decoded.Bounds()
	if b.Dx() != maxScreenshotEdge {
		t.Fatalf("expected long edge %d, got %d", maxScreenshotEdge, b.Dx())
	}
	wantH := int(1440.0 * float64(maxScreenshotEdge) / 2560.0)
	if b.Dy() != wantH {
		t.Fatalf("expected height %d, got %d", wantH, b.Dy())
	}
}

func TestDownscaleScreenshot_EmptyInputReturnsEmptyImage(t *testing.T) {
	img, err := downscaleScreenshot(nil)
	if err != nil {
		t.Fatalf("downscaleScreenshot(nil): %v", err)
	}
	if img.PNGBase64 != "" {
		t.Fatalf("expected empty result for empty input, got %q", img.PNGBase64)
	}
}

func mustBase64Decode(t *testing.T, s string) []byte {
	t.Helper()
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("base64 decode: %v", err)
	}
	return b
}
