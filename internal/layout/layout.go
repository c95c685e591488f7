// Package layout maps a size class and target canvas onto positioned text
// boxes. It performs no I/O and is deterministic.
package layout

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/xlpostcards/postcard-service/internal/apperr"
	"github.com/xlpostcards/postcard-service/internal/models"
)

type SizeClass string

const (
	Regular SizeClass = "regular"
	XL      SizeClass = "xl"
)

// ParseSizeClass accepts the wire names of the supported size classes.
func ParseSizeClass(s string) (SizeClass, error) {
	switch SizeClass(strings.ToLower(strings.TrimSpace(s))) {
	case Regular:
		return Regular, nil
	case XL:
		return XL, nil
	default:
		return "", apperr.Invalid("postcardSize", fmt.Sprintf("unsupported postcard size %q", s))
	}
}

// ReturnAddressPlaceholder is sent by older clients when no return address was entered.
const ReturnAddressPlaceholder = "{{RETURN_ADDRESS}}"

type Rect struct {
	Left, Top, Width, Height int
}

func (r Rect) Right() int  { return r.Left + r.Width }
func (r Rect) Bottom() int { return r.Top + r.Height }

// Box is a text region with its typography.
type Box struct {
	Rect
	FontSizePt   float64
	LineHeightPx int
	// MaxLines caps the line count independently of the height; 0 means no cap.
	MaxLines int
}

// FontSizePx converts the point size at print DPI into pixels.
func (b Box) FontSizePx() float64 {
	return b.FontSizePt * DPI / 72
}

// Capacity is the number of lines the box can hold.
func (b Box) Capacity() int {
	if b.LineHeightPx <= 0 {
		return 0
	}
	n := b.Height / b.LineHeightPx
	if b.MaxLines > 0 && b.MaxLines < n {
		n = b.MaxLines
	}
	return n
}

type Line struct {
	X1, X2, Y, Thickness int
}

// Spec is the fully resolved back layout at the target resolution.
type Spec struct {
	Size         SizeClass
	CanvasWidth  int
	CanvasHeight int
	Scale        float64

	Message          Box
	Address          Box
	ReturnAddress    Box
	HasReturnAddress bool
	Separator        Line

	Indicia      Rect
	Promo        Rect
	PromoTitlePt float64
	PromoBodyPt  float64
	Logo         Rect
}

// Input is everything the layout depends on.
type Input struct {
	Size          SizeClass
	TargetWidth   int
	TargetHeight  int
	Message       string
	Recipient     models.RecipientInfo
	ReturnAddress string
}

// Layout is a resolved Spec plus the text prepared for wrapping.
type Layout struct {
	Spec               Spec
	Message            string
	AddressLines       []string
	ReturnAddressLines []string
}

// ForClass computes the layout at the size class's print resolution.
func ForClass(in Input) (Layout, error) {
	in.TargetWidth, in.TargetHeight = BackSize(in.Size)
	return Compute(in)
}

// Compute resolves the layout for the requested canvas. The target must be
// a uniform scale of the size class's base canvas.
func Compute(in Input) (Layout, error) {
	b, ok := baseLayouts[in.Size]
	if !ok {
		return Layout{}, apperr.Invalid("postcardSize", fmt.Sprintf("unsupported postcard size %q", in.Size))
	}
	if err := in.Recipient.Validate(); err != nil {
		return Layout{}, err
	}
	scale, err := scaleFor(b, in.TargetWidth, in.TargetHeight)
	if err != nil {
		return Layout{}, err
	}

	returnLines := ReturnAddressLines(in.ReturnAddress)
	spec := Spec{
		Size:             in.Size,
		CanvasWidth:      in.TargetWidth,
		CanvasHeight:     in.TargetHeight,
		Scale:            scale,
		Address:          anchor(b.address, in.TargetWidth, in.TargetHeight, scale),
		ReturnAddress:    scaleBox(b.returnAddress, scale),
		HasReturnAddress: len(returnLines) > 0,
		Indicia:          anchorRect(b.indicia, in.TargetWidth, scale),
		Promo:            anchorRect(b.promo, in.TargetWidth, scale),
		PromoTitlePt:     b.promoTitlePt * scale,
		PromoBodyPt:      b.promoBodyPt * scale,
		Logo:             scaleRect(b.logo, scale),
	}

	msg := b.message
	if spec.HasReturnAddress {
		shift := b.messageWithReturnTop - msg.top
		msg.top += shift
		msg.height -= shift
		sepY := b.returnAddress.top + b.returnAddress.height + b.separatorGap
		spec.Separator = Line{
			X1:        px(float64(b.returnAddress.left), scale),
			X2:        px(float64(b.returnAddress.left+b.returnAddress.width), scale),
			Y:         px(float64(sepY), scale),
			Thickness: max(1, px(float64(b.separatorWidth), scale)),
		}
	}
	spec.Message = scaleBox(msg, scale)

	return Layout{
		Spec:               spec,
		Message:            NormalizeText(in.Message),
		AddressLines:       normalizeLines(in.Recipient.Lines()),
		ReturnAddressLines: returnLines,
	}, nil
}

// scaleFor checks that the target is the base canvas scaled uniformly,
// allowing one pixel of rounding on the shorter edge.
func scaleFor(b base, w, h int) (float64, error) {
	if w <= 0 || h <= 0 {
		return 0, apperr.Wrap(apperr.CodeDimensionMismatch,
			fmt.Sprintf("canvas %dx%d must be positive", w, h), nil)
	}
	sx := float64(w) / float64(b.width)
	sy := float64(h) / float64(b.height)
	tolerance := 1 / float64(min(w, h))
	if math.Abs(sx-sy) > tolerance {
		return 0, apperr.Wrap(apperr.CodeDimensionMismatch,
			fmt.Sprintf("canvas %dx%d is not a uniform scale of %dx%d", w, h, b.width, b.height), nil)
	}
	return math.Min(sx, sy), nil
}

func px(v, scale float64) int {
	return int(math.Round(v * scale))
}

func scaleRect(r rect, s float64) Rect {
	return Rect{Left: px(float64(r.left), s), Top: px(float64(r.top), s), Width: px(float64(r.width), s), Height: px(float64(r.height), s)}
}

func scaleBox(b baseBox, s float64) Box {
	return Box{
		Rect:         scaleRect(rect{b.left, b.top, b.width, b.height}, s),
		FontSizePt:   b.fontPt * s,
		LineHeightPx: max(1, px(float64(b.lineHeight), s)),
		MaxLines:     b.maxLines,
	}
}

// anchor places a box by its right and bottom margins so it stays flush to
// the trailing edges at every scale.
func anchor(b anchoredBox, w, h int, s float64) Box {
	width, height := px(float64(b.width), s), px(float64(b.height), s)
	right := w - px(float64(b.rightMargin), s)
	bottom := h - px(float64(b.bottomMargin), s)
	return Box{
		Rect:         Rect{Left: right - width, Top: bottom - height, Width: width, Height: height},
		FontSizePt:   b.fontPt * s,
		LineHeightPx: max(1, px(float64(b.lineHeight), s)),
	}
}

func anchorRect(r anchoredRect, w int, s float64) Rect {
	width := px(float64(r.width), s)
	return Rect{
		Left:   w - px(float64(r.rightMargin), s) - width,
		Top:    px(float64(r.topMargin), s),
		Width:  width,
		Height: px(float64(r.height), s),
	}
}

// NormalizeText composes Unicode to NFC and converts CRLF and CR line
// endings to LF so explicit breaks are recognised uniformly.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return norm.NFC.String(s)
}

// ReturnAddressLines splits the free-form return address into its non-blank
// lines. The legacy placeholder counts as absent. Lines beyond the box's
// MaxLines are left for the renderer to drop and flag.
func ReturnAddressLines(s string) []string {
	s = strings.TrimSpace(NormalizeText(s))
	if s == "" || s == ReturnAddressPlaceholder {
		return nil
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func normalizeLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = NormalizeText(l)
	}
	return out
}
