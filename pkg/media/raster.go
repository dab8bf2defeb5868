package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// MaxQuality is the highest JPEG quality.
const MaxQuality = 100

// Snapshot renders the stream's current frame into an off-screen raster
// sized to the stream's native dimensions.
func Snapshot(s Stream) (*image.RGBA, error) {
	w, h := s.Size()
	if w <= 0 || h <= 0 {
		return nil, ErrNoFrame
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if err := s.DrawFrame(dst); err != nil {
		return nil, fmt.Errorf("draw frame: %w", err)
	}
	return dst, nil
}

// DrawScaled copies src into dst, scaling when the bounds differ.
func DrawScaled(dst draw.Image, src image.Image) {
	db, sb := dst.Bounds(), src.Bounds()
	if db.Dx() == sb.Dx() && db.Dy() == sb.Dy() {
		draw.Draw(dst, db, src, sb.Min, draw.Src)
		return
	}
	draw.ApproxBiLinear.Scale(dst, db, src, sb, draw.Src, nil)
}

// JPEGEncoder encodes rasters with the pure-Go JPEG encoder.
type JPEGEncoder struct{}

// Encode encodes img as JPEG at the given quality (1-100).
func (JPEGEncoder) Encode(img image.Image, quality int) ([]byte, error) {
	if quality < 1 || quality > MaxQuality {
		quality = MaxQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
