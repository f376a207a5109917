package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidImage(w, h)))
	return buf.Bytes()
}

func TestFitInside(t *testing.T) {
	tests := []struct {
		name          string
		srcW, srcH    int
		width, height int
		enlarge       bool
		wantW, wantH  int
	}{
		{"no target", 800, 600, 0, 0, false, 800, 600},
		{"width only shrink", 800, 600, 400, 0, false, 400, 300},
		{"height only shrink", 800, 600, 0, 300, false, 400, 300},
		{"box limited by width", 1000, 500, 500, 500, false, 500, 250},
		{"box limited by height", 500, 1000, 500, 500, false, 250, 500},
		{"exact match", 1024, 768, 1024, 768, false, 1024, 768},
		{"no enlarge", 400, 300, 800, 600, false, 400, 300},
		{"enlarge allowed", 400, 300, 800, 0, true, 800, 600},
		{"enlarge box", 400, 300, 800, 900, true, 800, 600},
		{"degenerate source", 0, 0, 100, 100, true, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := FitInside(tt.srcW, tt.srcH, tt.width, tt.height, tt.enlarge)
			assert.Equal(t, tt.wantW, w, "width")
			assert.Equal(t, tt.wantH, h, "height")
		})
	}
}

func TestLanczos3Kernel(t *testing.T) {
	assert.Equal(t, 1.0, Lanczos3.At(0))
	assert.Equal(t, 0.0, Lanczos3.At(3))
	assert.InDelta(t, 0.0, Lanczos3.At(1), 1e-9)
	assert.InDelta(t, 0.0, Lanczos3.At(2), 1e-9)
	assert.Greater(t, Lanczos3.At(0.5), 0.5)
}

func TestMetadata(t *testing.T) {
	c := NewCodec()
	meta, err := c.Metadata(pngBytes(t, 64, 32))
	require.NoError(t, err)
	assert.Equal(t, Metadata{Width: 64, Height: 32}, meta)

	_, err = c.Metadata([]byte("not an image"))
	assert.Error(t, err)
}

func TestDecodeRejectsCorruptInput(t *testing.T) {
	c := NewCodec()
	_, err := c.Decode(nil)
	assert.Error(t, err)
	_, err = c.Decode([]byte{0x89, 'P', 'N', 'G', 0, 0})
	assert.Error(t, err)
}

func TestResize(t *testing.T) {
	c := NewCodec()
	src := solidImage(200, 100)

	same := c.Resize(src, 200, 100, ResizeOptions{})
	assert.Same(t, src, same)

	small := c.Resize(src, 100, 0, ResizeOptions{})
	assert.Equal(t, image.Rect(0, 0, 100, 50), small.Bounds())

	notEnlarged := c.Resize(src, 400, 0, ResizeOptions{})
	assert.Same(t, src, notEnlarged)

	enlarged := c.Resize(src, 400, 0, ResizeOptions{AllowEnlarge: true})
	assert.Equal(t, image.Rect(0, 0, 400, 200), enlarged.Bounds())
}

func TestEncodeFormats(t *testing.T) {
	c := NewCodec()
	img := solidImage(48, 24)

	for _, p := range []EncodeParams{
		{Format: PNG, CompressionLevel: 3},
		{Format: PNG, CompressionLevel: 6},
		{Format: JPEG, Quality: 81, Progressive: true},
		{Format: WebP, Quality: 72, Effort: 4},
	} {
		t.Run(string(p.Format), func(t *testing.T) {
			out, err := c.Encode(img, p)
			require.NoError(t, err)
			require.NotEmpty(t, out)

			meta, err := c.Metadata(out)
			require.NoError(t, err)
			assert.Equal(t, Metadata{Width: 48, Height: 24}, meta)
		})
	}
}

func TestEncodeUnknownFormat(t *testing.T) {
	_, err := NewCodec().Encode(solidImage(2, 2), EncodeParams{Format: "gif"})
	assert.Error(t, err)
}

func TestPNGLevel(t *testing.T) {
	assert.Equal(t, png.NoCompression, pngLevel(0))
	assert.Equal(t, png.BestSpeed, pngLevel(3))
	assert.Equal(t, png.DefaultCompression, pngLevel(6))
	assert.Equal(t, png.BestCompression, pngLevel(9))
}
