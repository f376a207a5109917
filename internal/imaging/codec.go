// Package imaging decodes, resamples and encodes captured rasters.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	_ "image/jpeg"

	"github.com/gen2brain/jpegli"
	"github.com/gen2brain/webp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Format is an output encoding.
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
	WebP Format = "webp"
)

// Metadata holds raster dimensions in pixels.
type Metadata struct {
	Width  int
	Height int
}

// ResizeOptions controls Resize.
type ResizeOptions struct {
	// AllowEnlarge permits scaling up when the target box is larger than the source.
	AllowEnlarge bool
}

// EncodeParams selects the output encoding. Quality applies to JPEG and
// WebP, Effort to WebP (0-6) and CompressionLevel to PNG (0-9).
type EncodeParams struct {
	Format           Format
	Quality          int
	Progressive      bool
	Effort           int
	CompressionLevel int
}

// Lanczos3 is a three-lobe Lanczos resampling kernel.
var Lanczos3 = &draw.Kernel{
	Support: 3,
	At: func(t float64) float64 {
		if t == 0 {
			return 1
		}
		if t >= 3 {
			return 0
		}
		x := math.Pi * t
		return 3 * math.Sin(x) * math.Sin(x/3) / (x * x)
	},
}

// Codec is the raster implementation backed by x/image, jpegli and webp.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

// Metadata reads dimensions without decoding pixel data.
func (c *Codec) Metadata(data []byte) (Metadata, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Metadata{}, fmt.Errorf("read image metadata: %w", err)
	}
	return Metadata{Width: cfg.Width, Height: cfg.Height}, nil
}

func (c *Codec) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode image: empty input")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Resize scales img to fit inside width x height, preserving aspect ratio.
// A zero dimension is unconstrained. img is returned unchanged when no
// scaling is needed.
func (c *Codec) Resize(img image.Image, width, height int, opts ResizeOptions) image.Image {
	b := img.Bounds()
	w, h := FitInside(b.Dx(), b.Dy(), width, height, opts.AllowEnlarge)
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	Lanczos3.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// FitInside returns the largest size with the source aspect ratio that fits
// the target box. Zero target dimensions are unconstrained.
func FitInside(srcW, srcH, width, height int, allowEnlarge bool) (int, int) {
	if srcW <= 0 || srcH <= 0 || (width <= 0 && height <= 0) {
		return srcW, srcH
	}

	sx := math.Inf(1)
	if width > 0 {
		sx = float64(width) / float64(srcW)
	}
	sy := math.Inf(1)
	if height > 0 {
		sy = float64(height) / float64(srcH)
	}

	if sx <= sy {
		if !allowEnlarge && sx >= 1 {
			return srcW, srcH
		}
		return width, max(1, int(math.Round(float64(srcH)*sx)))
	}
	if !allowEnlarge && sy >= 1 {
		return srcW, srcH
	}
	return max(1, int(math.Round(float64(srcW)*sy))), height
}

func (c *Codec) Encode(img image.Image, p EncodeParams) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch p.Format {
	case JPEG:
		opts := &jpegli.EncodingOptions{Quality: p.Quality, OptimizeCoding: true}
		if p.Progressive {
			opts.ProgressiveLevel = 2
		}
		err = jpegli.Encode(&buf, img, opts)
	case WebP:
		err = webp.Encode(&buf, img, webp.Options{Quality: p.Quality, Method: p.Effort})
	case PNG, "":
		enc := png.Encoder{CompressionLevel: pngLevel(p.CompressionLevel)}
		err = enc.Encode(&buf, img)
	default:
		return nil, fmt.Errorf("unsupported format %q", p.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Format, err)
	}
	return buf.Bytes(), nil
}

// pngLevel maps a zlib-style 0-9 level onto the encoder's presets.
func pngLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level >= 9:
		return png.BestCompression
	default:
		return png.DefaultCompression
	}
}
