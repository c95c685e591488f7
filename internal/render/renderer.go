// Package render draws wrapped text onto print-resolution canvases.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/xlpostcards/postcard-service/internal/apperr"
	"github.com/xlpostcards/postcard-service/internal/layout"
)

// DefaultMaxPixels bounds canvas allocation (about 256 MB of RGBA).
const DefaultMaxPixels = 64 << 20

var (
	Ink   = color.Black
	Paper = color.White
)

type Renderer struct {
	fonts     *Fonts
	maxPixels int
}

func NewRenderer(fonts *Fonts, maxPixels int) *Renderer {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Renderer{fonts: fonts, maxPixels: maxPixels}
}

// Face returns a fresh fallback face at sizePt points and print DPI.
func (r *Renderer) Face(sizePt float64) font.Face {
	return r.fonts.Face(sizePt, layout.DPI)
}

// NewCanvas allocates a canvas filled with bg. Oversized or impossible
// dimensions are reported as render failures instead of crashing.
func (r *Renderer) NewCanvas(w, h int, bg color.Color) (canvas *image.RGBA, err error) {
	if w <= 0 || h <= 0 || w > r.maxPixels/h {
		return nil, apperr.Wrap(apperr.CodeRenderFailure, "allocate canvas",
			errors.Errorf("canvas %dx%d exceeds limit of %d pixels", w, h, r.maxPixels))
	}
	defer func() {
		if p := recover(); p != nil {
			canvas = nil
			err = apperr.Wrap(apperr.CodeRenderFailure, "allocate canvas", errors.New(fmt.Sprint(p)))
		}
	}()
	canvas = image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	return canvas, nil
}

// Back is a rendered back canvas with the blocks drawn on it.
type Back struct {
	Canvas        *image.RGBA
	Message       TextBlock
	Address       TextBlock
	ReturnAddress TextBlock
}

// Truncated reports whether any text block lost lines.
func (b *Back) Truncated() bool {
	return b.Message.Truncated || b.Address.Truncated || b.ReturnAddress.Truncated
}

// RenderBack draws the return address, message and recipient blocks onto a
// white canvas of the layout's size.
func (r *Renderer) RenderBack(l layout.Layout) (*Back, error) {
	spec := l.Spec
	canvas, err := r.NewCanvas(spec.CanvasWidth, spec.CanvasHeight, Paper)
	if err != nil {
		return nil, err
	}
	back := &Back{Canvas: canvas}

	if spec.HasReturnAddress {
		face := r.Face(spec.ReturnAddress.FontSizePt)
		back.ReturnAddress = Fit(wrapLines(l.ReturnAddressLines, face, spec.ReturnAddress.Width), spec.ReturnAddress, AnchorTop)
		r.DrawBlock(canvas, spec.ReturnAddress.Rect, back.ReturnAddress, face)
		_ = face.Close()

		sep := spec.Separator
		line := image.Rect(sep.X1, sep.Y, sep.X2, sep.Y+sep.Thickness)
		draw.Draw(canvas, line, image.NewUniform(Ink), image.Point{}, draw.Src)
	}

	face := r.Face(spec.Message.FontSizePt)
	back.Message = Fit(WrapText(l.Message, face, spec.Message.Width), spec.Message, AnchorTop)
	r.DrawBlock(canvas, spec.Message.Rect, back.Message, face)
	_ = face.Close()

	face = r.Face(spec.Address.FontSizePt)
	back.Address = Fit(wrapLines(l.AddressLines, face, spec.Address.Width), spec.Address, AnchorBottom)
	r.DrawBlock(canvas, spec.Address.Rect, back.Address, face)
	_ = face.Close()

	return back, nil
}

// wrapLines wraps each structured line on its own so fields never merge.
func wrapLines(lines []string, face font.Face, width int) []string {
	var out []string
	for _, l := range lines {
		out = append(out, WrapText(l, face, width)...)
	}
	return out
}

// DrawBlock draws the block's lines in black, clipped to box.
func (r *Renderer) DrawBlock(dst *image.RGBA, box layout.Rect, b TextBlock, face font.Face) {
	clip, ok := dst.SubImage(image.Rect(box.Left, box.Top, box.Right(), box.Bottom())).(*image.RGBA)
	if !ok {
		return
	}
	offset := baselineOffset(face, b.LineHeightPx)
	for i, line := range b.Lines {
		if line == "" {
			continue
		}
		y := b.OriginY + i*b.LineHeightPx + offset
		drawString(clip, line, b.OriginX, y, Ink, face)
	}
}

// DrawCentered draws one line horizontally centred in box with its
// baseline at y.
func (r *Renderer) DrawCentered(dst *image.RGBA, box layout.Rect, y int, text string, col color.Color, face font.Face) {
	w := measure(face, text)
	x := box.Left + (box.Width-w)/2
	if x < box.Left {
		x = box.Left
	}
	clip, ok := dst.SubImage(image.Rect(box.Left, box.Top, box.Right(), box.Bottom())).(*image.RGBA)
	if !ok {
		return
	}
	drawString(clip, text, x, y, col, face)
}

// baselineOffset centres the face's ascent+descent inside one line slot.
func baselineOffset(face font.Face, lineHeight int) int {
	m := face.Metrics()
	ascent, descent := m.Ascent.Ceil(), m.Descent.Ceil()
	pad := (lineHeight - ascent - descent) / 2
	if pad < 0 {
		pad = 0
	}
	return pad + ascent
}

func drawString(dst draw.Image, text string, x, y int, col color.Color, face font.Face) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
