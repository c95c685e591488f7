package ledger

import (
	"context"
	"fmt"
	"time"
)

// MonthlyTerms configures the rolling "first postcard free" campaign.
type MonthlyTerms struct {
	Prefix          string
	MaxRedemptions  int
	DiscountPercent int
	FirstTimeOnly   bool
}

// MonthlyCode is the code printed on postcards mailed at now: the prefix
// followed by the abbreviation of the month the card is likely to arrive in,
// e.g. XLWelcomeNov for a card sent in late October.
func MonthlyCode(prefix string, now time.Time) string {
	return prefix + now.AddDate(0, 0, 32).Format("Jan")
}

// monthlyWindow returns the first instant after the target month.
func monthlyWindow(now time.Time) (label string, expires time.Time) {
	target := now.AddDate(0, 0, 32)
	start := time.Date(target.Year(), target.Month(), 1, 0, 0, 0, 0, time.UTC)
	return target.Format("Jan 2006"), start.AddDate(0, 1, 0)
}

// MonthlyResult describes the campaign EnsureMonthlyCampaign settled on.
type MonthlyResult struct {
	Code      string    `json:"code"`
	Campaign  string    `json:"campaign"`
	ExpiresAt time.Time `json:"expiresAt"`
	Created   bool      `json:"created"`
}

// EnsureMonthlyCampaign creates next month's campaign and code if they do
// not exist yet. Calling it repeatedly is safe.
func (l *Ledger) EnsureMonthlyCampaign(ctx context.Context, terms MonthlyTerms) (MonthlyResult, error) {
	now := l.now()
	code := MonthlyCode(terms.Prefix, now)
	label, expires := monthlyWindow(now)
	name := fmt.Sprintf("%s %s", terms.Prefix, label)

	res, err := l.CreateCampaign(ctx, CampaignSpec{
		Name:            name,
		Type:            "first_postcard_free",
		Description:     "First postcard free for new customers, " + label,
		MaxRedemptions:  terms.MaxRedemptions,
		DiscountPercent: terms.DiscountPercent,
		FirstTimeOnly:   terms.FirstTimeOnly,
		ExpiresAt:       &expires,
		Codes:           []CodeSpec{{Code: code}},
	})
	if err != nil {
		return MonthlyResult{}, err
	}
	return MonthlyResult{
		Code:      code,
		Campaign:  name,
		ExpiresAt: expires,
		Created:   res.CodesCreated > 0,
	}, nil
}
