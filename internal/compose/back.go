package compose

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"net/url"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/image/font"

	"github.com/xlpostcards/postcard-service/internal/apperr"
	"github.com/xlpostcards/postcard-service/internal/layout"
	"github.com/xlpostcards/postcard-service/internal/render"
)

var (
	PromoFill   = color.RGBA{R: 0xf8, G: 0xf8, B: 0xf8, A: 0xff}
	PromoAccent = color.RGBA{R: 0xf2, G: 0x89, B: 0x14, A: 0xff}
)

const PromoTitle = "Get XLPostcards App!"

// Promo is the code printed on the back. A nil Promo leaves the panel off.
type Promo struct {
	Code string
}

// ComposeBack renders the text blocks and adds the logo and promo panel.
// The indicia area is never drawn on.
func (c *Composer) ComposeBack(l layout.Layout, promo *Promo) (*render.Back, error) {
	back, err := c.renderer.RenderBack(l)
	if err != nil {
		return nil, err
	}
	if c.logo != nil {
		c.drawLogo(back.Canvas, l.Spec.Logo)
	}
	if promo != nil && strings.TrimSpace(promo.Code) != "" {
		if err := c.drawPromo(back.Canvas, l.Spec, strings.TrimSpace(promo.Code)); err != nil {
			return nil, err
		}
	}
	return back, nil
}

func (c *Composer) drawLogo(dst *image.RGBA, box layout.Rect) {
	if box.Width <= 0 || box.Height <= 0 {
		return
	}
	fitted := imaging.Fit(c.logo, box.Width, box.Height, imaging.Lanczos)
	b := fitted.Bounds()
	at := image.Pt(box.Left, box.Top+(box.Height-b.Dy())/2)
	draw.Draw(dst, image.Rectangle{Min: at, Max: at.Add(b.Size())}, fitted, b.Min, draw.Over)
}

// PromoLink is what the promo QR code encodes.
func (c *Composer) PromoLink(code string) string {
	if c.promoURL == "" {
		return code
	}
	sep := "?"
	if strings.Contains(c.promoURL, "?") {
		sep = "&"
	}
	return c.promoURL + sep + "code=" + url.QueryEscape(code)
}

func (c *Composer) drawPromo(dst *image.RGBA, spec layout.Spec, code string) error {
	box := spec.Promo
	radius := scaled(24, spec.Scale)
	border := max(1, scaled(4, spec.Scale))
	pad := scaled(16, spec.Scale)

	fillRoundedRect(dst, box, radius, PromoAccent)
	inner := layout.Rect{Left: box.Left + border, Top: box.Top + border, Width: box.Width - 2*border, Height: box.Height - 2*border}
	fillRoundedRect(dst, inner, max(0, radius-border), PromoFill)

	qrSize := min(inner.Height-2*pad, inner.Width*2/5)
	qrLeft := inner.Right() - pad - qrSize
	if qrSize > 0 {
		qr, err := qrcode.New(c.PromoLink(code), qrcode.Medium)
		if err != nil {
			return apperr.Wrap(apperr.CodeRenderFailure, "encode promo qr code", errors.WithStack(err))
		}
		img := qr.Image(qrSize)
		at := image.Pt(qrLeft, inner.Top+(inner.Height-qrSize)/2)
		draw.Draw(dst, image.Rect(at.X, at.Y, at.X+qrSize, at.Y+qrSize), img, img.Bounds().Min, draw.Src)
	} else {
		qrLeft = inner.Right()
	}

	text := layout.Rect{Left: inner.Left + pad, Top: inner.Top + pad, Height: inner.Height - 2*pad}
	text.Width = qrLeft - pad - text.Left

	title := c.renderer.Face(spec.PromoTitlePt)
	defer title.Close()
	body := c.renderer.Face(spec.PromoBodyPt)
	defer body.Close()

	y := c.drawCenteredLines(dst, text, text.Top, []string{PromoTitle}, PromoAccent, title)
	c.drawCenteredLines(dst, text, y, []string{
		"Download from App/Play Store",
		"Code: " + code,
		"First postcard FREE!",
	}, render.Ink, body)
	return nil
}

// drawCenteredLines wraps and centres each line in box starting at top and
// returns the y below the last line drawn. Lines that do not fit are dropped.
func (c *Composer) drawCenteredLines(dst *image.RGBA, box layout.Rect, top int, lines []string, col color.Color, face font.Face) int {
	m := face.Metrics()
	lineHeight := int(math.Ceil(float64(m.Height.Ceil()) * 1.15))
	y := top
	for _, l := range lines {
		for _, piece := range render.WrapText(l, face, box.Width) {
			if y+lineHeight > box.Bottom() {
				return y
			}
			c.renderer.DrawCentered(dst, box, y+m.Ascent.Ceil(), piece, col, face)
			y += lineHeight
		}
	}
	return y
}

func scaled(v int, s float64) int {
	return int(math.Round(float64(v) * s))
}

// fillRoundedRect paints r with corners of the given radius.
func fillRoundedRect(dst *image.RGBA, r layout.Rect, radius int, col color.Color) {
	if r.Width <= 0 || r.Height <= 0 {
		return
	}
	radius = min(radius, r.Width/2, r.Height/2)
	c := color.RGBAModel.Convert(col).(color.RGBA)
	rr := float64(radius) * float64(radius)
	for y := r.Top; y < r.Bottom(); y++ {
		for x := r.Left; x < r.Right(); x++ {
			if radius > 0 {
				cx, cy := -1, -1
				switch {
				case x < r.Left+radius:
					cx = r.Left + radius
				case x >= r.Right()-radius:
					cx = r.Right() - radius - 1
				}
				switch {
				case y < r.Top+radius:
					cy = r.Top + radius
				case y >= r.Bottom()-radius:
					cy = r.Bottom() - radius - 1
				}
				if cx >= 0 && cy >= 0 {
					dx, dy := float64(x-cx), float64(y-cy)
					if dx*dx+dy*dy > rr {
						continue
					}
				}
			}
			dst.SetRGBA(x, y, c)
		}
	}
}
