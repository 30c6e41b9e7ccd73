package imaging

import (
	"image"
	"image/color"
	"testing"
)

func TestFitWithin(t *testing.T) {
	tests := []struct {
		name         string
		w, h, bound  int
		wantW, wantH int
	}{
		{name: "square", w: 1024, h: 1024, bound: 256, wantW: 256, wantH: 256},
		{name: "landscape", w: 1024, h: 512, bound: 256, wantW: 256, wantH: 128},
		{name: "portrait", w: 300, h: 600, bound: 256, wantW: 128, wantH: 256},
		{name: "already small", w: 100, h: 50, bound: 256, wantW: 100, wantH: 50},
		{name: "very thin", w: 5000, h: 2, bound: 256, wantW: 256, wantH: 1},
		{name: "default bound", w: 512, h: 512, bound: 0, wantW: 256, wantH: 256},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, h := FitWithin(tc.w, tc.h, tc.bound)
			if w != tc.wantW || h != tc.wantH {
				t.Fatalf("got %dx%d, want %dx%d", w, h, tc.wantW, tc.wantH)
			}
		})
	}
}

func TestThumbnailRoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			src.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	thumb := Thumbnail(src, 16)
	if b := thumb.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Fatalf("unexpected thumbnail size %v", b)
	}

	data, err := EncodePNG(thumb)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, format, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if format != "png" {
		t.Fatalf("unexpected format %q", format)
	}
	if b := decoded.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Fatalf("unexpected decoded size %v", b)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, _, err := Decode([]byte("not an image")); err == nil {
		t.Fatalf("expected error")
	}
}
