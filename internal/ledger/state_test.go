package ledger

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/xlpostcards/postcard-service/internal/models"
)

func TestStateOf(t *testing.T) {
	past := testNow.Add(-time.Minute)
	future := testNow.Add(time.Minute)

	tests := []struct {
		name string
		meta models.CouponMeta
		want State
	}{
		{"active", models.CouponMeta{CouponCode: models.CouponCode{MaxRedemptions: 2, IsActive: true}}, StateActive},
		{"active until expiry", models.CouponMeta{CouponCode: models.CouponCode{MaxRedemptions: 2, IsActive: true, ExpiresAt: &future}}, StateActive},
		{"expired", models.CouponMeta{CouponCode: models.CouponCode{MaxRedemptions: 2, IsActive: true, ExpiresAt: &past}}, StateExpired},
		{"expires exactly now", models.CouponMeta{CouponCode: models.CouponCode{MaxRedemptions: 2, IsActive: true, ExpiresAt: &testNow}}, StateExpired},
		{"deactivated", models.CouponMeta{CouponCode: models.CouponCode{MaxRedemptions: 2}}, StateDeactivated},
		{"exhausted beats deactivated", models.CouponMeta{CouponCode: models.CouponCode{MaxRedemptions: 2, TimesRedeemed: 2}}, StateExhausted},
		{"exhausted beats expired", models.CouponMeta{CouponCode: models.CouponCode{MaxRedemptions: 1, TimesRedeemed: 1, IsActive: true, ExpiresAt: &past}}, StateExhausted},
		{"zero capacity", models.CouponMeta{CouponCode: models.CouponCode{IsActive: true}}, StateExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StateOf(tt.meta, testNow); got != tt.want {
				t.Fatalf("StateOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMonthlyCode(t *testing.T) {
	tests := []struct {
		now  time.Time
		want string
	}{
		{time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC), "XLWelcomeNov"},
		{time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), "XLWelcomeFeb"},
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "XLWelcomeFeb"},
	}
	for _, tt := range tests {
		if got := MonthlyCode("XLWelcome", tt.now); got != tt.want {
			t.Fatalf("MonthlyCode(%s) = %s, want %s", tt.now.Format(time.DateOnly), got, tt.want)
		}
	}
}

func TestEnsureMonthlyCampaignIsIdempotent(t *testing.T) {
	l := New(testStores(t)["sqlite"], WithClock(func() time.Time { return testNow }))
	terms := MonthlyTerms{Prefix: "XLWelcome", MaxRedemptions: 500, DiscountPercent: 100, FirstTimeOnly: true}

	first, err := l.EnsureMonthlyCampaign(context.Background(), terms)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !first.Created || first.Code != "XLWelcomeNov" {
		t.Fatalf("first = %+v, want created XLWelcomeNov", first)
	}
	if want := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC); !first.ExpiresAt.Equal(want) {
		t.Fatalf("expiresAt = %s, want %s", first.ExpiresAt, want)
	}

	again, err := l.EnsureMonthlyCampaign(context.Background(), terms)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if again.Created {
		t.Fatalf("second call created a new code")
	}

	resp, err := l.Validate(context.Background(), "XLWelcomeNov")
	if err != nil || !resp.Valid || resp.Remaining != 500 {
		t.Fatalf("validate = %+v, %v; want valid with 500 remaining", resp, err)
	}
}

func TestParseSeed(t *testing.T) {
	doc := `
campaigns:
  - name: Launch
    type: first_postcard_free
    maxRedemptions: 500
    discountPercent: 100
    firstTimeOnly: true
    expiresAt: 2026-12-01T00:00:00Z
    codes:
      - code: XLWelcomeNov
      - code: PRESS
        maxRedemptions: 20
        active: false
`
	f, err := ParseSeed(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(f.Campaigns) != 1 || len(f.Campaigns[0].Codes) != 2 {
		t.Fatalf("parsed = %+v", f)
	}

	l := New(testStores(t)["sqlite"], WithClock(func() time.Time { return testNow }))
	res, err := l.Apply(context.Background(), f)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.CampaignsCreated != 1 || res.CodesCreated != 2 {
		t.Fatalf("result = %+v", res)
	}
	res, err = l.Apply(context.Background(), f)
	if err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if res.CampaignsCreated != 0 || res.CodesSkipped != 2 {
		t.Fatalf("re-apply result = %+v, want everything skipped", res)
	}

	st, err := l.CodeStatus(context.Background(), "PRESS")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.MaxRedemptions != 20 || st.State != string(StateDeactivated) {
		t.Fatalf("PRESS status = %+v", st)
	}
}

func TestParseSeedRejectsUnknownFields(t *testing.T) {
	_, err := ParseSeed(strings.NewReader("campaigns:\n  - name: X\n    bogus: 1\n"))
	if err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestExampleSeedParses(t *testing.T) {
	f, err := os.Open("../../configs/seed.example.yaml")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	seed, err := ParseSeed(f)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(seed.Campaigns) != 2 {
		t.Fatalf("campaigns = %d, want 2", len(seed.Campaigns))
	}
}
