// Package imageopt re-encodes images into smaller files of the same picture.
package imageopt

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/ericpauley/go-quantize/quantize"

	"sitepack/internal/config"
	"sitepack/internal/minify"
)

// Optimizer shrinks PNG, JPEG, GIF and SVG images. It is safe for
// concurrent use.
type Optimizer struct {
	jpegQuality int
	pngColors   int
	minifier    *minify.Minifier
}

// New creates an Optimizer. SVG documents are minified with m.
func New(cfg config.Images, m *minify.Minifier) *Optimizer {
	return &Optimizer{
		jpegQuality: cfg.JPEGQuality,
		pngColors:   cfg.PNGColors,
		minifier:    m,
	}
}

// Optimize returns the optimised encoding of src, an image whose format is
// given by its file extension. Formats it does not handle (WebP, unknown
// extensions) are returned unchanged, as is any result that would not be
// strictly smaller than src.
func (o *Optimizer) Optimize(ext string, src []byte) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch strings.ToLower(ext) {
	case ".png":
		out, err = o.png(src)
	case ".jpg", ".jpeg":
		out, err = o.jpeg(src)
	case ".gif":
		out, err = o.gif(src)
	case ".svg":
		out, err = o.minifier.MinifyMedia(minify.MediaSVG, src)
	default:
		return src, nil
	}
	if err != nil {
		return nil, err
	}
	if len(out) >= len(src) {
		return src, nil
	}
	return out, nil
}

// png quantises true-colour images down to the configured palette size with
// Floyd-Steinberg dithering. Images that already have a palette are only
// recompressed.
func (o *Optimizer) png(src []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}

	if _, paletted := img.(*image.Paletted); !paletted {
		bounds := img.Bounds()
		palette := quantize.MedianCutQuantizer{}.Quantize(make(color.Palette, 0, o.pngColors), img)
		dst := image.NewPaletted(bounds, palette)
		draw.FloydSteinberg.Draw(dst, bounds, img, bounds.Min)
		img = dst
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (o *Optimizer) jpeg(src []byte) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: o.jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// gif re-encodes every frame, keeping delays, disposal and loop count.
func (o *Optimizer) gif(src []byte) ([]byte, error) {
	anim, err := gif.DecodeAll(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode gif: %w", err)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return nil, fmt.Errorf("encode gif: %w", err)
	}
	return buf.Bytes(), nil
}
