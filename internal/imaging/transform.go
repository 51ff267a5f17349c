// Package imaging measures, resizes and re-encodes gallery images and pulls
// embedded metadata blocks out of them.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"
)

// Dimensions is an image size in pixels.
type Dimensions struct {
	Width  int
	Height int
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// Derivative output formats. FormatSource keeps PNG sources as PNG and
// encodes everything else as JPEG.
const (
	FormatJPEG   = "jpeg"
	FormatPNG    = "png"
	FormatSource = "source"
)

// Options configures derivative generation.
type Options struct {
	MaxWidth     int
	MaxHeight    int
	Quality      int
	Format       string
	AllowUpscale bool
	AutoOrient   bool
}

// Derivative is an encoded thumbnail. Format and SourceFormat are image
// format names as reported by Inspect.
type Derivative struct {
	Data         []byte
	Format       string
	SourceFormat string
	Natural      Dimensions
	Size         Dimensions
}

// ContentType is the MIME type of the encoded derivative.
func (d *Derivative) ContentType() string {
	return "image/" + d.Format
}

// FitBox scales natural uniformly so it fits inside maxW x maxH. The scale
// factor is min(maxW/w, maxH/h), clamped to 1 unless allowUpscale is set.
// Each side is rounded and never drops below one pixel.
func FitBox(natural Dimensions, maxW, maxH int, allowUpscale bool) Dimensions {
	if natural.Width <= 0 || natural.Height <= 0 {
		return Dimensions{}
	}
	scale := math.Min(float64(maxW)/float64(natural.Width), float64(maxH)/float64(natural.Height))
	if !allowUpscale && scale > 1 {
		scale = 1
	}
	return Dimensions{
		Width:  max(1, int(math.Round(scale*float64(natural.Width)))),
		Height: max(1, int(math.Round(scale*float64(natural.Height)))),
	}
}

// Inspect returns the natural dimensions and format name of an encoded
// image without decoding its pixels.
func Inspect(data []byte) (Dimensions, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Dimensions{}, "", fmt.Errorf("inspect image: %w", err)
	}
	return Dimensions{Width: cfg.Width, Height: cfg.Height}, format, nil
}

// Transformer turns source images into thumbnails.
type Transformer struct {
	opts Options
}

// NewTransformer returns a Transformer for opts. Quality defaults to 85
// and Format to JPEG.
func NewTransformer(opts Options) *Transformer {
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 85
	}
	if opts.Format == "" {
		opts.Format = FormatJPEG
	}
	return &Transformer{opts: opts}
}

// Options returns the effective options.
func (t *Transformer) Options() Options {
	return t.opts
}

// Thumbnail measures and decodes data, fits it into the configured box with
// Lanczos resampling and re-encodes the result in the configured format.
func (t *Transformer) Thumbnail(data []byte) (*Derivative, error) {
	_, format, err := Inspect(data)
	if err != nil {
		return nil, err
	}

	var decodeOpts []imaging.DecodeOption
	if t.opts.AutoOrient {
		decodeOpts = append(decodeOpts, imaging.AutoOrientation(true))
	}

	img, err := imaging.Decode(bytes.NewReader(data), decodeOpts...)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	natural := Dimensions{Width: b.Dx(), Height: b.Dy()}
	target := FitBox(natural, t.opts.MaxWidth, t.opts.MaxHeight, t.opts.AllowUpscale)
	if target.Width == 0 {
		return nil, fmt.Errorf("image has no pixels")
	}

	out := t.outputFormat(format)
	encoded, err := t.Resize(img, target, out)
	if err != nil {
		return nil, err
	}

	return &Derivative{
		Data:         encoded,
		Format:       strings.ToLower(out.String()),
		SourceFormat: format,
		Natural:      natural,
		Size:         target,
	}, nil
}

func (t *Transformer) outputFormat(source string) imaging.Format {
	switch t.opts.Format {
	case FormatPNG:
		return imaging.PNG
	case FormatSource:
		if source == "png" {
			return imaging.PNG
		}
	}
	return imaging.JPEG
}

// Resize scales img to exactly size and encodes it in format. JPEG output
// uses the configured quality.
func (t *Transformer) Resize(img image.Image, size Dimensions, format imaging.Format) ([]byte, error) {
	resized := img
	if b := img.Bounds(); b.Dx() != size.Width || b.Dy() != size.Height {
		resized = imaging.Resize(img, size.Width, size.Height, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(t.opts.Quality)); err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}
