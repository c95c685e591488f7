package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/xlpostcards/postcard-service/internal/models"
	"github.com/xlpostcards/postcard-service/pkg/db"
)

// ErrDuplicate is returned when a unique name or code already exists.
var ErrDuplicate = errors.New("duplicate")

type CouponRepo struct {
	db *db.DB
}

func NewCouponRepo(conn *db.DB) *CouponRepo {
	return &CouponRepo{db: conn}
}

const couponMetaQuery = `
	SELECT c.id, c.campaign_id, c.code, c.max_redemptions, c.times_redeemed,
	       c.expires_at, c.is_active, c.created_at,
	       cp.name, cp.discount_percent, cp.first_time_only,
	       cp.is_active, cp.expires_at
	FROM coupon_codes c
	JOIN coupon_campaigns cp ON cp.id = c.campaign_id
	WHERE c.code = ?
`

// GetCouponMeta loads a code and its campaign terms. It returns nil, nil
// when the code does not exist.
func (r *CouponRepo) GetCouponMeta(ctx context.Context, code string) (*models.CouponMeta, error) {
	return r.getCouponMeta(ctx, r.db, code)
}

// GetCouponMetaTx is GetCouponMeta inside a redemption transaction.
func (r *CouponRepo) GetCouponMetaTx(ctx context.Context, tx *sql.Tx, code string) (*models.CouponMeta, error) {
	return r.getCouponMeta(ctx, tx, code)
}

func (r *CouponRepo) getCouponMeta(ctx context.Context, q db.Querier, code string) (*models.CouponMeta, error) {
	var (
		m                 models.CouponMeta
		expiresAt         sql.NullInt64
		campaignExpiresAt sql.NullInt64
		createdAt         int64
		campaignActive    bool
	)
	err := q.QueryRowContext(ctx, r.db.Rebind(couponMetaQuery), code).Scan(
		&m.ID,
		&m.CampaignID,
		&m.Code,
		&m.MaxRedemptions,
		&m.TimesRedeemed,
		&expiresAt,
		&m.IsActive,
		&createdAt,
		&m.CampaignName,
		&m.DiscountPercent,
		&m.FirstTimeOnly,
		&campaignActive,
		&campaignExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	m.CreatedAt = db.FromMillis(createdAt)
	m.ExpiresAt = earliest(db.TimePtr(expiresAt), db.TimePtr(campaignExpiresAt))
	m.IsActive = m.IsActive && campaignActive
	return &m, nil
}

// IncrementIfRedeemable consumes one unit of capacity in a single guarded
// statement. It reports false when the guard rejected the update; the caller
// then reads the row to learn why.
func (r *CouponRepo) IncrementIfRedeemable(ctx context.Context, tx *sql.Tx, code string, now time.Time) (bool, error) {
	query := `
		UPDATE coupon_codes
		SET times_redeemed = times_redeemed + 1
		WHERE code = ?
		  AND is_active
		  AND times_redeemed < max_redemptions
		  AND (expires_at IS NULL OR expires_at > ?)
		  AND campaign_id IN (
		      SELECT id FROM coupon_campaigns
		      WHERE is_active AND (expires_at IS NULL OR expires_at > ?)
		  )
	`
	nowMs := db.ToMillis(now)
	res, err := tx.ExecContext(ctx, r.db.Rebind(query), code, nowMs, nowMs)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *CouponRepo) CreateCampaign(ctx context.Context, tx *sql.Tx, c models.CouponCampaign) (int64, error) {
	query := `
		INSERT INTO coupon_campaigns
		(name, type, description, max_redemptions, discount_percent, first_time_only, created_at, expires_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	var id int64
	err := tx.QueryRowContext(ctx, r.db.Rebind(query),
		c.Name,
		c.Type,
		c.Description,
		c.MaxRedemptions,
		c.DiscountPercent,
		c.FirstTimeOnly,
		db.ToMillis(c.CreatedAt),
		db.NullMillis(c.ExpiresAt),
		c.IsActive,
	).Scan(&id)
	if err != nil {
		if r.db.IsUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

func (r *CouponRepo) CreateCode(ctx context.Context, tx *sql.Tx, c models.CouponCode) (int64, error) {
	query := `
		INSERT INTO coupon_codes
		(campaign_id, code, max_redemptions, times_redeemed, expires_at, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	var id int64
	err := tx.QueryRowContext(ctx, r.db.Rebind(query),
		c.CampaignID,
		c.Code,
		c.MaxRedemptions,
		c.TimesRedeemed,
		db.NullMillis(c.ExpiresAt),
		c.IsActive,
		db.ToMillis(c.CreatedAt),
	).Scan(&id)
	if err != nil {
		if r.db.IsUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

// CampaignIDByName returns 0 when no campaign has that name.
func (r *CouponRepo) CampaignIDByName(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, r.db.Rebind(`SELECT id FROM coupon_campaigns WHERE name = ?`), name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

// SetCodeActive flips the administrative flag on a code.
func (r *CouponRepo) SetCodeActive(ctx context.Context, code string, active bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE coupon_codes SET is_active = ? WHERE code = ?`), active, code)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Analytics returns per-code distribution and redemption counts, newest first.
func (r *CouponRepo) Analytics(ctx context.Context) ([]models.CodeAnalytics, error) {
	query := `
		SELECT c.code, cp.name, c.max_redemptions, c.times_redeemed,
		       (SELECT COUNT(*) FROM coupon_distributions d WHERE d.coupon_code_id = c.id),
		       (SELECT COUNT(*) FROM coupon_redemptions rd WHERE rd.coupon_code_id = c.id),
		       (SELECT COALESCE(SUM(rd.redemption_value_cents), 0) FROM coupon_redemptions rd WHERE rd.coupon_code_id = c.id)
		FROM coupon_codes c
		JOIN coupon_campaigns cp ON cp.id = c.campaign_id
		ORDER BY c.created_at DESC, c.id DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CodeAnalytics
	for rows.Next() {
		var a models.CodeAnalytics
		if err := rows.Scan(
			&a.Code,
			&a.CampaignName,
			&a.MaxRedemptions,
			&a.TimesRedeemed,
			&a.Distributions,
			&a.Redemptions,
			&a.RedeemedValueCts,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func earliest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Before(*a):
		return b
	default:
		return a
	}
}
