package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xlpostcards/postcard-service/internal/apperr"
	"github.com/xlpostcards/postcard-service/internal/models"
	"github.com/xlpostcards/postcard-service/internal/repository"
)

// SeedFile is the YAML document accepted by the seed command.
type SeedFile struct {
	Campaigns []CampaignSpec `yaml:"campaigns"`
}

type CampaignSpec struct {
	Name            string     `yaml:"name"`
	Type            string     `yaml:"type"`
	Description     string     `yaml:"description"`
	MaxRedemptions  int        `yaml:"maxRedemptions"`
	DiscountPercent int        `yaml:"discountPercent"`
	FirstTimeOnly   bool       `yaml:"firstTimeOnly"`
	ExpiresAt       *time.Time `yaml:"expiresAt"`
	Active          *bool      `yaml:"active"`
	Codes           []CodeSpec `yaml:"codes"`
}

// CodeSpec fields left zero inherit the campaign's values.
type CodeSpec struct {
	Code           string     `yaml:"code"`
	MaxRedemptions int        `yaml:"maxRedemptions"`
	TimesRedeemed  int        `yaml:"timesRedeemed"`
	ExpiresAt      *time.Time `yaml:"expiresAt"`
	Active         *bool      `yaml:"active"`
}

// SeedResult counts what Apply actually inserted.
type SeedResult struct {
	CampaignsCreated int `json:"campaignsCreated"`
	CodesCreated     int `json:"codesCreated"`
	CodesSkipped     int `json:"codesSkipped"`
}

func ParseSeed(r io.Reader) (SeedFile, error) {
	var f SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return SeedFile{}, fmt.Errorf("decode seed: %w", err)
	}
	for i, c := range f.Campaigns {
		if strings.TrimSpace(c.Name) == "" {
			return SeedFile{}, fmt.Errorf("campaign %d: name is required", i)
		}
		if c.MaxRedemptions < 0 {
			return SeedFile{}, fmt.Errorf("campaign %s: maxRedemptions must not be negative", c.Name)
		}
		if c.DiscountPercent < 0 || c.DiscountPercent > 100 {
			return SeedFile{}, fmt.Errorf("campaign %s: discountPercent must be within 0..100", c.Name)
		}
		for j, code := range c.Codes {
			if normalizeCode(code.Code) == "" {
				return SeedFile{}, fmt.Errorf("campaign %s code %d: code is required", c.Name, j)
			}
			if limit := code.MaxRedemptions; limit != 0 && code.TimesRedeemed > limit {
				return SeedFile{}, fmt.Errorf("code %s: timesRedeemed exceeds maxRedemptions", code.Code)
			}
		}
	}
	return f, nil
}

// Apply inserts every campaign and code that does not exist yet. Existing
// campaigns (by name) and codes are left untouched, so seeding is repeatable.
func (l *Ledger) Apply(ctx context.Context, f SeedFile) (SeedResult, error) {
	var res SeedResult
	for _, c := range f.Campaigns {
		r, err := l.CreateCampaign(ctx, c)
		if err != nil {
			return res, err
		}
		res.CampaignsCreated += r.CampaignsCreated
		res.CodesCreated += r.CodesCreated
		res.CodesSkipped += r.CodesSkipped
	}
	return res, nil
}

// CreateCampaign inserts one campaign with its codes in a single transaction.
func (l *Ledger) CreateCampaign(ctx context.Context, spec CampaignSpec) (SeedResult, error) {
	var res SeedResult
	now := l.now()
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		campaignID, err := l.coupons.CampaignIDByName(ctx, tx, spec.Name)
		if err != nil {
			return apperr.Wrap(apperr.CodeLedgerFailure, "look up campaign", err)
		}
		if campaignID == 0 {
			campaignID, err = l.coupons.CreateCampaign(ctx, tx, models.CouponCampaign{
				Name:            strings.TrimSpace(spec.Name),
				Type:            defaultString(spec.Type, "promotional"),
				Description:     spec.Description,
				MaxRedemptions:  spec.MaxRedemptions,
				DiscountPercent: spec.DiscountPercent,
				FirstTimeOnly:   spec.FirstTimeOnly,
				CreatedAt:       now,
				ExpiresAt:       spec.ExpiresAt,
				IsActive:        boolOr(spec.Active, true),
			})
			if err != nil {
				return apperr.Wrap(apperr.CodeLedgerFailure, "create campaign "+spec.Name, err)
			}
			res.CampaignsCreated++
		}

		for _, cs := range spec.Codes {
			expires := cs.ExpiresAt
			if expires == nil {
				expires = spec.ExpiresAt
			}
			limit := cs.MaxRedemptions
			if limit == 0 {
				limit = spec.MaxRedemptions
			}
			_, err := l.coupons.CreateCode(ctx, tx, models.CouponCode{
				CampaignID:     campaignID,
				Code:           normalizeCode(cs.Code),
				MaxRedemptions: limit,
				TimesRedeemed:  cs.TimesRedeemed,
				ExpiresAt:      expires,
				IsActive:       boolOr(cs.Active, true),
				CreatedAt:      now,
			})
			if errors.Is(err, repository.ErrDuplicate) {
				res.CodesSkipped++
				continue
			}
			if err != nil {
				return apperr.Wrap(apperr.CodeLedgerFailure, "create code "+cs.Code, err)
			}
			res.CodesCreated++
		}
		return nil
	})
	return res, err
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func defaultString(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
