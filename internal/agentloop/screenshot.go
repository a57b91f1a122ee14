package agentloop

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"

	"github.com/BaSui01/tasker/types"
)

// maxScreenshotEdge is the long-edge cap for screenshots attached to the
// LLM, per spec §4.E tie-break "Screenshots attached to the LLM are
// downscaled to ≤1280px on the long edge."
const maxScreenshotEdge = 1280

// downscaleScreenshot re-encodes a PNG screenshot, shrinking it with a
// simple box filter if its long edge exceeds maxScreenshotEdge. No
// third-party image-scaling library appears anywhere in the retrieved
// corpus, so this stays on the standard image/image-png stack.
func downscaleScreenshot(raw []byte) (types.Image, error) {
	if len(raw) == 0 {
		return types.Image{}, nil
	}

	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return types.Image{}, types.NewError(types.ErrBrowserError, "failed to decode screenshot").WithCause(err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	longEdge := w
	if h > w {
		longEdge = h
	}
	if longEdge > maxScreenshotEdge {
		scale := float64(maxScreenshotEdge) / float64(longEdge)
		img = boxDownscale(img, int(float64(w)*scale), int(float64(h)*scale))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return types.Image{}, types.NewError(types.ErrBrowserError, "failed to re-encode screenshot").WithCause(err)
	}
	return types.Image{PNGBase64: base64.StdEncoding.EncodeToString(buf.Bytes())}, nil
}

// boxDownscale shrinks src to exactly dstW x dstH by averaging the block
// of source pixels each destination pixel covers.
func boxDownscale(src image.Image, dstW, dstH int) image.Image {
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}
	srcBounds := src.Bounds()
	srcW, srcH := srcBounds.Dx(), srcBounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	for dy := 0; dy < dstH; dy++ {
		sy0 := dy * srcH / dstH
		sy1 := (dy + 1) * srcH / dstH
		if sy1 <= sy0 {
			sy1 = sy0 + 1
		}
		for dx := 0; dx < dstW; dx++ {
			sx0 := dx * srcW / dstW
			sx1 := (dx + 1) * srcW / dstW
			if sx1 <= sx0 {
				sx1 = sx0 + 1
			}

			var r, g, b, a, count uint64
			for sy := sy0; sy < sy1 && sy < srcH; sy++ {
				for sx := sx0; sx < sx1 && sx < srcW; sx++ {
					pr, pg, pb, pa := src.At(srcBounds.Min.X+sx, srcBounds.Min.Y+sy).RGBA()
					r += uint64(pr)
					g += uint64(pg)
					b += uint64(pb)
					a += uint64(pa)
					count++
				}
			}
			if count == 0 {
				count = 1
			}
			dst.Set(dx, dy, rgba64{uint16(r / count), uint16(g / count), uint16(b / count), uint16(a / count)})
		}
	}
	return dst
}

// rgba64 adapts averaged 16-bit-per-channel sums to color.Color so
// image.RGBA.Set can consume them directly.
type rgba64 struct{ r, g, b, a uint16 }

func (c rgba64) RGBA() (r, g, b, a uint32) {
	return uint32(c.r), uint32(c.g), uint32(c.b), uint32(c.a)
}
