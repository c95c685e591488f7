// Package compose assembles print-ready postcard artifacts from rendered
// canvases and caller photos.
package compose

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/xlpostcards/postcard-service/internal/apperr"
	"github.com/xlpostcards/postcard-service/internal/render"
)

const (
	DefaultJPEGQuality      = 95
	MinJPEGQuality          = 60
	DefaultMaxArtifactBytes = 20 << 20

	qualityStep = 5
)

type Options struct {
	JPEGQuality      int
	MaxArtifactBytes int
	// LogoPath is optional; a logo that fails to load is left off the back.
	LogoPath string
	// PromoURL is the landing page the promo QR code points at.
	PromoURL string
}

type Composer struct {
	renderer *render.Renderer
	logo     image.Image
	quality  int
	maxBytes int
	promoURL string
}

func New(r *render.Renderer, opts Options, log zerolog.Logger) *Composer {
	c := &Composer{
		renderer: r,
		quality:  opts.JPEGQuality,
		maxBytes: opts.MaxArtifactBytes,
		promoURL: opts.PromoURL,
	}
	if c.quality <= 0 || c.quality > 100 {
		c.quality = DefaultJPEGQuality
	}
	if c.maxBytes <= 0 {
		c.maxBytes = DefaultMaxArtifactBytes
	}
	if opts.LogoPath != "" {
		logo, err := imaging.Open(opts.LogoPath)
		if err != nil {
			log.Warn().Err(err).Str("logo", opts.LogoPath).Msg("logo unavailable, backs will be printed without it")
		} else {
			c.logo = logo
		}
	}
	return c
}

// Encode writes img as JPEG. When the result is larger than the artifact
// limit it is re-encoded at lower quality, down to MinJPEGQuality.
func (c *Composer) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	for q := c.quality; ; q -= qualityStep {
		if q < MinJPEGQuality {
			q = MinJPEGQuality
		}
		buf.Reset()
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
			return nil, apperr.Wrap(apperr.CodeRenderFailure, "encode artifact", errors.WithStack(err))
		}
		if buf.Len() <= c.maxBytes {
			return buf.Bytes(), nil
		}
		if q == MinJPEGQuality {
			return nil, apperr.Wrap(apperr.CodeRenderFailure, "encode artifact",
				errors.Errorf("%d bytes at quality %d exceeds limit of %d", buf.Len(), q, c.maxBytes))
		}
	}
}
