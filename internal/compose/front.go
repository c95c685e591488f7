package compose

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/xlpostcards/postcard-service/internal/apperr"
	"github.com/xlpostcards/postcard-service/internal/layout"
	"github.com/xlpostcards/postcard-service/internal/render"
)

// Template arranges one or more photos on the front.
type Template string

const (
	TemplateSingle          Template = "single"
	TemplateTwoSideBySide   Template = "two_side_by_side"
	TemplateTwoVertical     Template = "two_vertical"
	TemplateThreePhotos     Template = "three_photos"
	TemplateThreeHorizontal Template = "three_horizontal"
	TemplateThreeBookmarks  Template = "three_bookmarks"
	TemplateThreeSideways   Template = "three_sideways"
	TemplateFourQuarters    Template = "four_quarters"
	TemplateSixGrid         Template = "six_grid"
)

var templatePhotos = map[Template]int{
	TemplateSingle:          1,
	TemplateTwoSideBySide:   2,
	TemplateTwoVertical:     2,
	TemplateThreePhotos:     3,
	TemplateThreeHorizontal: 3,
	TemplateThreeBookmarks:  3,
	TemplateThreeSideways:   3,
	TemplateFourQuarters:    4,
	TemplateSixGrid:         6,
}

// ParseTemplate maps the wire name to a Template; empty means single.
func ParseTemplate(s string) (Template, error) {
	t := Template(strings.ToLower(strings.TrimSpace(s)))
	if t == "" {
		return TemplateSingle, nil
	}
	if _, ok := templatePhotos[t]; !ok {
		return "", apperr.Invalid("template", fmt.Sprintf("unsupported template %q", s))
	}
	return t, nil
}

// Photos is the number of photos the template needs.
func (t Template) Photos() int {
	return templatePhotos[t]
}

// Gutter is the gap between photos on a print-resolution front.
const Gutter = 20

// cells splits a w×h front into the template's photo slots.
func cells(t Template, w, h int) []image.Rectangle {
	g := Gutter
	halfW, halfH := (w-g)/2, (h-g)/2
	thirdW, thirdH := (w-2*g)/3, (h-2*g)/3
	switch t {
	case TemplateTwoSideBySide:
		return []image.Rectangle{
			image.Rect(0, 0, halfW, h),
			image.Rect(halfW+g, 0, w, h),
		}
	case TemplateTwoVertical:
		return []image.Rectangle{
			image.Rect(0, 0, w, halfH),
			image.Rect(0, halfH+g, w, h),
		}
	case TemplateThreePhotos:
		return []image.Rectangle{
			image.Rect(0, 0, halfW, h),
			image.Rect(halfW+g, 0, w, halfH),
			image.Rect(halfW+g, halfH+g, w, h),
		}
	case TemplateThreeHorizontal:
		return []image.Rectangle{
			image.Rect(0, 0, thirdW, h),
			image.Rect(thirdW+g, 0, 2*thirdW+g, h),
			image.Rect(2*(thirdW+g), 0, w, h),
		}
	case TemplateThreeBookmarks:
		return []image.Rectangle{
			image.Rect(0, 0, w, thirdH),
			image.Rect(0, thirdH+g, w, 2*thirdH+g),
			image.Rect(0, 2*(thirdH+g), w, h),
		}
	case TemplateThreeSideways:
		top := h * 2 / 5
		return []image.Rectangle{
			image.Rect(0, 0, w, top),
			image.Rect(0, top+g, halfW, h),
			image.Rect(halfW+g, top+g, w, h),
		}
	case TemplateFourQuarters:
		return []image.Rectangle{
			image.Rect(0, 0, halfW, halfH),
			image.Rect(halfW+g, 0, w, halfH),
			image.Rect(0, halfH+g, halfW, h),
			image.Rect(halfW+g, halfH+g, w, h),
		}
	case TemplateSixGrid:
		out := make([]image.Rectangle, 0, 6)
		for row := 0; row < 2; row++ {
			y0 := row * (halfH + g)
			y1 := y0 + halfH
			if row == 1 {
				y1 = h
			}
			for col := 0; col < 3; col++ {
				x0 := col * (thirdW + g)
				x1 := x0 + thirdW
				if col == 2 {
					x1 = w
				}
				out = append(out, image.Rect(x0, y0, x1, y1))
			}
		}
		return out
	default:
		return []image.Rectangle{image.Rect(0, 0, w, h)}
	}
}

// ComposeFront fills each template slot with a centre-cropped photo on a
// canvas of the size class's bleed dimensions.
func (c *Composer) ComposeFront(size layout.SizeClass, t Template, photos []image.Image) (*image.RGBA, error) {
	if want := t.Photos(); want == 0 || len(photos) < want {
		return nil, apperr.Invalid("frontImages", fmt.Sprintf("template %s needs %d photo(s), got %d", t, max(want, 1), len(photos)))
	}
	w, h := layout.FrontSize(size)
	canvas, err := c.renderer.NewCanvas(w, h, render.Paper)
	if err != nil {
		return nil, err
	}
	for i, cell := range cells(t, w, h) {
		filled := imaging.Fill(photos[i], cell.Dx(), cell.Dy(), imaging.Center, imaging.Lanczos)
		draw.Draw(canvas, cell, filled, filled.Bounds().Min, draw.Src)
	}
	return canvas, nil
}

// MaxPhotoPixels bounds the decoded size of one caller photo.
const MaxPhotoPixels = 60_000_000

// DecodeImage decodes a base64 photo, with or without a data URI header.
// field names the request field in validation errors.
func DecodeImage(field, s string) (image.Image, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 || !strings.Contains(s[:i], ";base64") {
			return nil, apperr.Invalid(field, "data URI must be base64 encoded")
		}
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(s); err != nil {
			return nil, apperr.Invalid(field, "image is not valid base64")
		}
	}
	return DecodeBytes(field, data)
}

// DecodeBytes decodes an encoded photo, honouring EXIF orientation.
func DecodeBytes(field string, data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Invalid(field, "image format not recognised")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > MaxPhotoPixels/cfg.Height {
		return nil, apperr.Invalid(field, fmt.Sprintf("image %dx%d is too large", cfg.Width, cfg.Height))
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &apperr.Error{Code: apperr.CodeInvalidArgument, Message: "image could not be decoded", Field: field, Cause: errors.WithStack(err)}
	}
	return img, nil
}
