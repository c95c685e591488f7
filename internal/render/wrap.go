package render

import (
	"strings"
	"unicode"

	"golang.org/x/image/font"
)

const zwj = 0x200D

// WrapText splits text on explicit newlines first, then greedily packs
// whitespace-separated words into lines no wider than maxWidth pixels as
// measured with face. Blank segments become empty lines. A word wider than
// the box is broken between user-perceived characters.
func WrapText(text string, face font.Face, maxWidth int) []string {
	text = strings.TrimRight(text, " \t\n")
	if text == "" {
		return nil
	}

	var lines []string
	for _, segment := range strings.Split(text, "\n") {
		words := strings.Fields(segment)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}

		current := ""
		for _, word := range words {
			candidate := word
			if current != "" {
				candidate = current + " " + word
			}
			if measure(face, candidate) <= maxWidth {
				current = candidate
				continue
			}
			if current != "" {
				lines = append(lines, current)
				current = ""
			}
			if measure(face, word) <= maxWidth {
				current = word
				continue
			}
			pieces := breakWord(word, face, maxWidth)
			lines = append(lines, pieces[:len(pieces)-1]...)
			current = pieces[len(pieces)-1]
		}
		if current != "" {
			lines = append(lines, current)
		}
	}
	return lines
}

func measure(face font.Face, s string) int {
	return font.MeasureString(face, s).Ceil()
}

// breakWord splits an overlong word into pieces that fit maxWidth. A single
// character wider than the box still gets a piece of its own.
func breakWord(word string, face font.Face, maxWidth int) []string {
	var (
		pieces  []string
		current strings.Builder
	)
	for _, cluster := range Clusters(word) {
		if current.Len() > 0 && measure(face, current.String()+cluster) > maxWidth {
			pieces = append(pieces, current.String())
			current.Reset()
		}
		current.WriteString(cluster)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}

// Clusters splits s into user-perceived characters closely enough for line
// breaking: combining marks, variation selectors, skin-tone modifiers, tag
// sequences and ZWJ-joined emoji stay attached to their base, and regional
// indicators pair into flags.
func Clusters(s string) []string {
	var (
		out       []string
		start     int
		prev      rune = -1
		riRun     int
		afterJoin bool
	)
	for i, r := range s {
		if i == 0 {
			prev = r
			if isRegionalIndicator(r) {
				riRun = 1
			}
			continue
		}
		extend := afterJoin ||
			r == zwj ||
			unicode.Is(unicode.Mn, r) ||
			unicode.Is(unicode.Me, r) ||
			isVariationSelector(r) ||
			isSkinTone(r) ||
			isTag(r) ||
			(isRegionalIndicator(r) && isRegionalIndicator(prev) && riRun%2 == 1)

		if !extend {
			out = append(out, s[start:i])
			start = i
		}
		if isRegionalIndicator(r) {
			riRun++
		} else {
			riRun = 0
		}
		afterJoin = r == zwj
		prev = r
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func isVariationSelector(r rune) bool {
	return (r >= 0xFE00 && r <= 0xFE0F) || (r >= 0xE0100 && r <= 0xE01EF)
}

func isSkinTone(r rune) bool {
	return r >= 0x1F3FB && r <= 0x1F3FF
}

func isTag(r rune) bool {
	return r >= 0xE0020 && r <= 0xE007F
}

func isRegionalIndicator(r rune) bool {
	return r >= 0x1F1E6 && r <= 0x1F1FF
}
