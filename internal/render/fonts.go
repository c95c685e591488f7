package render

import (
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/xlpostcards/postcard-service/internal/cache"
)

// SystemFontCandidates are tried after the configured paths, in order.
// Every candidate that loads joins the fallback chain, so glyphs missing
// from the first font can still come from a later one.
var SystemFontCandidates = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/TTF/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
	"/usr/share/fonts/liberation/LiberationSans-Regular.ttf",
	"/usr/share/fonts/truetype/noto/NotoSans-Regular.ttf",
	"/usr/share/fonts/noto/NotoSans-Regular.ttf",
	"/usr/share/fonts/truetype/noto/NotoSansSymbols2-Regular.ttf",
	"/usr/share/fonts/truetype/noto/NotoEmoji-Regular.ttf",
	"/usr/share/fonts/noto/NotoEmoji-Regular.ttf",
	"/System/Library/Fonts/Supplemental/Arial Unicode.ttf",
	"/Library/Fonts/Arial Unicode.ttf",
}

const embeddedFontName = "embedded:goregular"

// Parsed fonts are immutable and shared by every render.
var parsedFonts = cache.New[string, *opentype.Font]()

// Fonts is the ordered fallback chain. The zero value is usable and draws
// with the built-in bitmap face.
type Fonts struct {
	fonts []*opentype.Font
	names []string
}

// LoadFonts resolves configured paths, then the system candidates, then the
// embedded Go font. Unloadable candidates are logged and skipped; it never fails.
func LoadFonts(paths []string, log zerolog.Logger) *Fonts {
	f := &Fonts{}
	seen := map[string]bool{}
	for _, p := range append(append([]string{}, paths...), SystemFontCandidates...) {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		parsed, err := parsedFonts.GetOrLoad(p, func() (*opentype.Font, error) { return parseFontFile(p) })
		if err != nil {
			if !os.IsNotExist(errors.Cause(err)) {
				log.Warn().Err(err).Str("font", p).Msg("font candidate skipped")
			}
			continue
		}
		f.fonts = append(f.fonts, parsed)
		f.names = append(f.names, p)
	}

	embedded, err := parsedFonts.GetOrLoad(embeddedFontName, func() (*opentype.Font, error) {
		return opentype.Parse(goregular.TTF)
	})
	if err != nil {
		log.Error().Err(err).Msg("embedded font unusable, falling back to bitmap face")
	} else {
		f.fonts = append(f.fonts, embedded)
		f.names = append(f.names, embeddedFontName)
	}

	log.Debug().Strs("fonts", f.names).Msg("font chain resolved")
	return f
}

// Names lists the loaded fonts in fallback order.
func (f *Fonts) Names() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.names...)
}

func parseFontFile(path string) (*opentype.Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".ttc" || ext == ".otc" {
		coll, err := opentype.ParseCollection(data)
		if err != nil {
			return nil, errors.Wrapf(err, "parse font collection %s", path)
		}
		fnt, err := coll.Font(0)
		if err != nil {
			return nil, errors.Wrapf(err, "font 0 of %s", path)
		}
		return fnt, nil
	}
	fnt, err := opentype.Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse font %s", path)
	}
	return fnt, nil
}

// Face builds a face at sizePt (points at print DPI) that picks, per rune,
// the first font in the chain that has a glyph for it. Faces are not safe
// for concurrent use; build one per render.
func (f *Fonts) Face(sizePt float64, dpi float64) font.Face {
	c := &chainFace{}
	if f != nil {
		for _, fnt := range f.fonts {
			face, err := opentype.NewFace(fnt, &opentype.FaceOptions{
				Size:    sizePt,
				DPI:     dpi,
				Hinting: font.HintingFull,
			})
			if err != nil {
				continue
			}
			c.members = append(c.members, member{font: fnt, face: face})
		}
	}
	return c
}

type member struct {
	font *sfnt.Font
	face font.Face
}

type chainFace struct {
	members []member
	buf     sfnt.Buffer
}

var bitmapFace font.Face = basicfont.Face7x13

// pick returns the face to draw r with. ok is false for default-ignorable
// runes no font can draw, which are then skipped rather than shown as boxes.
func (c *chainFace) pick(r rune) (font.Face, bool) {
	for _, m := range c.members {
		idx, err := m.font.GlyphIndex(&c.buf, r)
		if err == nil && idx != 0 {
			return m.face, true
		}
	}
	if isIgnorable(r) {
		return nil, false
	}
	if len(c.members) > 0 {
		return c.members[0].face, true
	}
	return bitmapFace, true
}

func (c *chainFace) primary() font.Face {
	if len(c.members) > 0 {
		return c.members[0].face
	}
	return bitmapFace
}

func (c *chainFace) Close() error {
	for _, m := range c.members {
		_ = m.face.Close()
	}
	return nil
}

func (c *chainFace) Glyph(dot fixed.Point26_6, r rune) (image.Rectangle, image.Image, image.Point, fixed.Int26_6, bool) {
	face, ok := c.pick(r)
	if !ok {
		return image.Rectangle{}, nil, image.Point{}, 0, false
	}
	return face.Glyph(dot, r)
}

func (c *chainFace) GlyphBounds(r rune) (fixed.Rectangle26_6, fixed.Int26_6, bool) {
	face, ok := c.pick(r)
	if !ok {
		return fixed.Rectangle26_6{}, 0, false
	}
	return face.GlyphBounds(r)
}

func (c *chainFace) GlyphAdvance(r rune) (fixed.Int26_6, bool) {
	face, ok := c.pick(r)
	if !ok {
		return 0, false
	}
	return face.GlyphAdvance(r)
}

func (c *chainFace) Kern(r0, r1 rune) fixed.Int26_6 {
	f0, ok0 := c.pick(r0)
	f1, ok1 := c.pick(r1)
	if !ok0 || !ok1 || f0 != f1 {
		return 0
	}
	return f0.Kern(r0, r1)
}

func (c *chainFace) Metrics() font.Metrics {
	return c.primary().Metrics()
}

func isIgnorable(r rune) bool {
	switch {
	case r == zwj, r == 0x200B, r == 0x200C, r == 0xFEFF:
		return true
	case isVariationSelector(r), isTag(r):
		return true
	}
	return false
}
