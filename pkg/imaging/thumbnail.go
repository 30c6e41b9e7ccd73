// Package imaging decodes generated images and produces bounded thumbnails.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// DefaultThumbnailSize bounds the longest thumbnail side.
const DefaultThumbnailSize = 256

var ErrEmptyImage = errors.New("image has no pixels")

// Decode reads a PNG or JPEG image.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", ErrEmptyImage
	}
	return img, format, nil
}

// FitWithin scales (w, h) so the longest side is at most maxSide, keeping the
// aspect ratio. Images already within bounds are returned unchanged and no
// side drops below one pixel.
func FitWithin(w, h, maxSide int) (int, int) {
	if maxSide <= 0 {
		maxSide = DefaultThumbnailSize
	}
	if w <= maxSide && h <= maxSide {
		return w, h
	}
	if w >= h {
		nh := h * maxSide / w
		return maxSide, max(nh, 1)
	}
	nw := w * maxSide / h
	return max(nw, 1), maxSide
}

// Thumbnail resamples img to fit within maxSide using Catmull-Rom.
func Thumbnail(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := FitWithin(b.Dx(), b.Dy(), maxSide)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// EncodePNG serializes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
