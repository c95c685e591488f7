package layout

// DPI is the print resolution every base layout is expressed in.
const DPI = 300

// Base layouts in print pixels. The address box and the top-right blocks
// are anchored by their right and bottom margins.
var baseLayouts = map[SizeClass]base{
	Regular: {
		width:  1800,
		height: 1200,
		message: baseBox{
			left: 108, top: 150, width: 900, height: 850,
			fontPt: 9.6, lineHeight: 50,
		},
		messageWithReturnTop: 250,
		returnAddress: baseBox{
			left: 108, top: 80, width: 792, height: 120,
			fontPt: 7.68, lineHeight: 40, maxLines: 3,
		},
		separatorGap:   20,
		separatorWidth: 3,
		address: anchoredBox{
			rightMargin: 60, bottomMargin: 60, width: 620, height: 300,
			fontPt: 8.64, lineHeight: 46,
		},
		indicia: anchoredRect{rightMargin: 60, topMargin: 60, width: 240, height: 180},
		promo:   anchoredRect{rightMargin: 60, topMargin: 300, width: 580, height: 260},
		logo:    rect{left: 108, top: 1020, width: 320, height: 120},

		promoTitlePt: 8.64,
		promoBodyPt:  6.72,
	},
	XL: {
		width:  2754,
		height: 1872,
		message: baseBox{
			left: 108, top: 150, width: 1400, height: 1462,
			fontPt: 9.6, lineHeight: 50,
		},
		messageWithReturnTop: 250,
		returnAddress: baseBox{
			left: 108, top: 80, width: 1200, height: 120,
			fontPt: 7.68, lineHeight: 40, maxLines: 3,
		},
		separatorGap:   20,
		separatorWidth: 3,
		address: anchoredBox{
			rightMargin: 80, bottomMargin: 80, width: 740, height: 360,
			fontPt: 8.64, lineHeight: 46,
		},
		indicia: anchoredRect{rightMargin: 80, topMargin: 80, width: 300, height: 220},
		promo:   anchoredRect{rightMargin: 80, topMargin: 420, width: 700, height: 300},
		logo:    rect{left: 108, top: 1632, width: 480, height: 180},

		promoTitlePt: 8.64,
		promoBodyPt:  6.72,
	},
}

type base struct {
	width, height        int
	message              baseBox
	messageWithReturnTop int
	returnAddress        baseBox
	separatorGap         int
	separatorWidth       int
	address              anchoredBox
	indicia              anchoredRect
	promo                anchoredRect
	logo                 rect
	promoTitlePt         float64
	promoBodyPt          float64
}

type rect struct {
	left, top, width, height int
}

type baseBox struct {
	left, top, width, height int
	fontPt                   float64
	lineHeight               int
	maxLines                 int
}

type anchoredBox struct {
	rightMargin, bottomMargin, width, height int
	fontPt                                   float64
	lineHeight                               int
}

type anchoredRect struct {
	rightMargin, topMargin, width, height int
}

// Front is the trim size of the photo side before bleed.
var frontTrim = map[SizeClass][2]int{
	Regular: {1800, 1200},
	XL:      {2700, 1800},
}

// BleedMargin is added to every edge of the front trim size.
const BleedMargin = 36

// FrontSize returns the bleed dimensions for the photo side.
func FrontSize(size SizeClass) (width, height int) {
	trim := frontTrim[size]
	return trim[0] + 2*BleedMargin, trim[1] + 2*BleedMargin
}

// BackSize returns the base back canvas dimensions.
func BackSize(size SizeClass) (width, height int) {
	b := baseLayouts[size]
	return b.width, b.height
}
