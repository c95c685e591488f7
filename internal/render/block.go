package render

import "github.com/xlpostcards/postcard-service/internal/layout"

// Anchor selects which edge of the box a block's lines stack from.
type Anchor int

const (
	AnchorTop Anchor = iota
	AnchorBottom
)

// TextBlock is a wrapped block positioned inside its box. It lives for one
// render call.
type TextBlock struct {
	Lines        []string
	FontSizePt   float64
	OriginX      int
	OriginY      int
	LineHeightPx int
	Truncated    bool
}

// Height is the vertical space the block's lines occupy.
func (b TextBlock) Height() int {
	return len(b.Lines) * b.LineHeightPx
}

// Fit keeps as many lines as the box can hold and positions them. Lines
// past the box's capacity are dropped and Truncated is set.
func Fit(lines []string, box layout.Box, anchor Anchor) TextBlock {
	b := TextBlock{
		FontSizePt:   box.FontSizePt,
		OriginX:      box.Left,
		OriginY:      box.Top,
		LineHeightPx: box.LineHeightPx,
	}
	capacity := box.Capacity()
	if len(lines) > capacity {
		lines = lines[:capacity]
		b.Truncated = true
	}
	b.Lines = append([]string(nil), lines...)
	if anchor == AnchorBottom {
		b.OriginY = box.Bottom() - b.Height()
	}
	return b
}
