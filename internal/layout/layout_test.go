package layout

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/xlpostcards/postcard-service/internal/apperr"
	"github.com/xlpostcards/postcard-service/internal/models"
)

var jane = models.RecipientInfo{
	To:           "Jane Doe",
	AddressLine1: "1 Main St",
	City:         "Springfield",
	State:        "IL",
	Zipcode:      "62704",
}

func input(size SizeClass, w, h int) Input {
	return Input{Size: size, TargetWidth: w, TargetHeight: h, Message: "hello", Recipient: jane}
}

func TestComputeScalesLinearly(t *testing.T) {
	for _, size := range []SizeClass{Regular, XL} {
		bw, bh := BackSize(size)
		ref, err := Compute(input(size, bw, bh))
		if err != nil {
			t.Fatalf("%s base: %v", size, err)
		}
		for _, k := range []int{2, 3} {
			got, err := Compute(input(size, bw*k, bh*k))
			if err != nil {
				t.Fatalf("%s x%d: %v", size, k, err)
			}
			if got.Spec.Scale != float64(k) {
				t.Fatalf("%s x%d scale = %v", size, k, got.Spec.Scale)
			}
			boxes := []struct {
				name      string
				base, got Rect
			}{
				{"message", ref.Spec.Message.Rect, got.Spec.Message.Rect},
				{"address", ref.Spec.Address.Rect, got.Spec.Address.Rect},
				{"return", ref.Spec.ReturnAddress.Rect, got.Spec.ReturnAddress.Rect},
				{"indicia", ref.Spec.Indicia, got.Spec.Indicia},
				{"promo", ref.Spec.Promo, got.Spec.Promo},
				{"logo", ref.Spec.Logo, got.Spec.Logo},
			}
			for _, b := range boxes {
				want := Rect{b.base.Left * k, b.base.Top * k, b.base.Width * k, b.base.Height * k}
				if b.got != want {
					t.Fatalf("%s x%d %s = %+v, want %+v", size, k, b.name, b.got, want)
				}
			}
			if got.Spec.Message.FontSizePt != ref.Spec.Message.FontSizePt*float64(k) {
				t.Fatalf("%s x%d font = %v, want %v", size, k, got.Spec.Message.FontSizePt, ref.Spec.Message.FontSizePt*float64(k))
			}
		}
	}
}

func TestComputePreviewRoundTrip(t *testing.T) {
	// A one-third preview scales back to the print layout within rounding.
	ref, err := ForClass(input(Regular, 0, 0))
	if err != nil {
		t.Fatalf("base: %v", err)
	}
	preview, err := Compute(input(Regular, 600, 400))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	s := preview.Spec.Scale
	check := func(name string, got, want int) {
		t.Helper()
		if back := float64(got) / s; math.Abs(back-float64(want)) > 1/s {
			t.Fatalf("%s: %d/%.4f = %.2f, want %d", name, got, s, back, want)
		}
	}
	check("message.left", preview.Spec.Message.Left, ref.Spec.Message.Left)
	check("message.width", preview.Spec.Message.Width, ref.Spec.Message.Width)
	check("address.left", preview.Spec.Address.Left, ref.Spec.Address.Left)
	check("address.top", preview.Spec.Address.Top, ref.Spec.Address.Top)
	check("promo.top", preview.Spec.Promo.Top, ref.Spec.Promo.Top)
}

func TestAddressAnchoredBottomRight(t *testing.T) {
	tests := []struct {
		size         SizeClass
		w, h, margin int
	}{
		{Regular, 1800, 1200, 60},
		{Regular, 3600, 2400, 120},
		{XL, 2754, 1872, 80},
	}
	for _, tt := range tests {
		l, err := Compute(input(tt.size, tt.w, tt.h))
		if err != nil {
			t.Fatalf("compute: %v", err)
		}
		a := l.Spec.Address
		if a.Right() != tt.w-tt.margin || a.Bottom() != tt.h-tt.margin {
			t.Fatalf("%s %dx%d address ends at (%d,%d), want (%d,%d)", tt.size, tt.w, tt.h, a.Right(), a.Bottom(), tt.w-tt.margin, tt.h-tt.margin)
		}
	}
}

func TestComputeRejectsBadDimensions(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want error
	}{
		{"non-uniform", input(Regular, 1800, 1300), apperr.ErrDimensionMismatch},
		{"xl dims on regular", input(Regular, 2754, 1872), apperr.ErrDimensionMismatch},
		{"zero", input(XL, 0, 0), apperr.ErrDimensionMismatch},
		{"negative", input(XL, -2754, -1872), apperr.ErrDimensionMismatch},
		{"unknown size", input("a4", 1800, 1200), apperr.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	in := input(XL, 2754, 1872)
	in.Message = "Café ☕\r\nsee you 👋🏽"
	in.ReturnAddress = "Pat\n2 Oak Ave\nDenver, CO 80202"
	a, err := Compute(in)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	b, err := Compute(in)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("Compute is not deterministic:\n%+v\n%+v", a, b)
	}
}

func TestReturnAddressMovesMessage(t *testing.T) {
	plain, err := ForClass(input(Regular, 0, 0))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	in := input(Regular, 0, 0)
	in.ReturnAddress = "Pat Doe\n\n2 Oak Ave\nDenver, CO 80202\nUSA"
	with, err := ForClass(in)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	if !with.Spec.HasReturnAddress || plain.Spec.HasReturnAddress {
		t.Fatalf("HasReturnAddress = %v/%v, want true/false", with.Spec.HasReturnAddress, plain.Spec.HasReturnAddress)
	}
	want := []string{"Pat Doe", "2 Oak Ave", "Denver, CO 80202", "USA"}
	if !reflect.DeepEqual(with.ReturnAddressLines, want) {
		t.Fatalf("return lines = %q, want %q", with.ReturnAddressLines, want)
	}
	if with.Spec.ReturnAddress.MaxLines != 3 {
		t.Fatalf("return address MaxLines = %d, want 3", with.Spec.ReturnAddress.MaxLines)
	}
	if with.Spec.Message.Top <= with.Spec.Separator.Y {
		t.Fatalf("message top %d not below separator %d", with.Spec.Message.Top, with.Spec.Separator.Y)
	}
	if with.Spec.Message.Bottom() != plain.Spec.Message.Bottom() {
		t.Fatalf("message bottom moved: %d vs %d", with.Spec.Message.Bottom(), plain.Spec.Message.Bottom())
	}
}

func TestReturnAddressPlaceholderIsAbsent(t *testing.T) {
	in := input(Regular, 1800, 1200)
	in.ReturnAddress = "  " + ReturnAddressPlaceholder + "\n"
	l, err := Compute(in)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if l.Spec.HasReturnAddress || len(l.ReturnAddressLines) != 0 {
		t.Fatalf("placeholder produced a return address: %q", l.ReturnAddressLines)
	}
}

func TestComputeRequiresRecipientFields(t *testing.T) {
	in := input(Regular, 1800, 1200)
	in.Recipient.City = " "
	_, err := Compute(in)
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("err = %v, want invalid argument", err)
	}
	if got := apperr.FieldOf(err); got != "recipientInfo.city" {
		t.Fatalf("field = %q, want recipientInfo.city", got)
	}
}

func TestAddressLinesOmitEmptyLine2(t *testing.T) {
	l, err := Compute(input(Regular, 1800, 1200))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	want := []string{"Jane Doe", "1 Main St", "Springfield, IL 62704"}
	if !reflect.DeepEqual(l.AddressLines, want) {
		t.Fatalf("address lines = %q, want %q", l.AddressLines, want)
	}
}

func TestParseSizeClass(t *testing.T) {
	if got, err := ParseSizeClass(" XL "); err != nil || got != XL {
		t.Fatalf("ParseSizeClass(XL) = %v, %v", got, err)
	}
	if _, err := ParseSizeClass("jumbo"); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("ParseSizeClass(jumbo) err = %v", err)
	}
}

func TestFrontSizeIncludesBleed(t *testing.T) {
	if w, h := FrontSize(Regular); w != 1872 || h != 1272 {
		t.Fatalf("regular front = %dx%d, want 1872x1272", w, h)
	}
	if w, h := FrontSize(XL); w != 2772 || h != 1872 {
		t.Fatalf("xl front = %dx%d, want 2772x1872", w, h)
	}
}
