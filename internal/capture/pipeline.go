package capture

import (
	"image"
	"log/slog"

	"github.com/dgnsrekt/pagesnap/internal/imaging"
)

// Codec is the raster toolkit the pipeline needs.
type Codec interface {
	Metadata(data []byte) (imaging.Metadata, error)
	Decode(data []byte) (image.Image, error)
	Resize(img image.Image, width, height int, opts imaging.ResizeOptions) image.Image
	Encode(img image.Image, p imaging.EncodeParams) ([]byte, error)
}

// Pipeline turns raw captures into the requested output encoding.
type Pipeline struct {
	codec Codec
}

func NewPipeline(codec Codec) *Pipeline {
	return &Pipeline{codec: codec}
}

// Process resizes and encodes raw for a normalized request.
func (p *Pipeline) Process(raw []byte, req Request) (*Result, error) {
	img, err := p.codec.Decode(raw)
	if err != nil {
		return nil, newError(CodeEncode, "failed to read captured image", err)
	}

	policy := PolicyFor(req.Format, req.FullPage)
	b := img.Bounds()
	if needsResize(b.Dx(), b.Dy(), req.Width, req.Height, policy) {
		slog.Debug("resizing capture",
			"from_width", b.Dx(), "from_height", b.Dy(),
			"to_width", req.Width, "to_height", req.Height)
		img = p.codec.Resize(img, req.Width, req.Height, imaging.ResizeOptions{AllowEnlarge: policy.AllowEnlarge})
	}

	out, err := p.codec.Encode(img, imaging.EncodeParams{
		Format:           imaging.Format(req.Format),
		Quality:          EffectiveQuality(req.Quality, policy),
		Progressive:      policy.Progressive,
		Effort:           policy.Effort,
		CompressionLevel: policy.CompressionLevel,
	})
	if err != nil {
		return nil, newError(CodeEncode, "failed to encode image", err)
	}

	meta, err := p.codec.Metadata(out)
	if err != nil {
		return nil, newError(CodeEncode, "failed to read encoded image", err)
	}
	return &Result{
		Data:   out,
		Format: req.Format,
		Size:   len(out),
		Width:  meta.Width,
		Height: meta.Height,
	}, nil
}

// Inspect reads the dimensions of an already encoded image.
func (p *Pipeline) Inspect(data []byte) (imaging.Metadata, error) {
	return p.codec.Metadata(data)
}
