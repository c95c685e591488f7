package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/xlpostcards/postcard-service/internal/models"
	"github.com/xlpostcards/postcard-service/pkg/db"
)

type RedemptionRepo struct {
	db *db.DB
}

func NewRedemptionRepo(conn *db.DB) *RedemptionRepo {
	return &RedemptionRepo{db: conn}
}

// ClaimFirstOrder inserts the customer row and reports false when the email
// already exists. The unique email index makes concurrent claims for the
// same address resolve to exactly one winner.
func (r *RedemptionRepo) ClaimFirstOrder(ctx context.Context, tx *sql.Tx, email string, now time.Time) (bool, error) {
	query := `
		INSERT INTO customers (email, created_at, first_order_at, last_order_at, total_orders)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT (email) DO NOTHING
	`
	nowMs := db.ToMillis(now)
	res, err := tx.ExecContext(ctx, r.db.Rebind(query), email, nowMs, nowMs, nowMs)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// TouchCustomer creates the customer or bumps its order counters.
func (r *RedemptionRepo) TouchCustomer(ctx context.Context, tx *sql.Tx, email string, now time.Time) error {
	query := `
		INSERT INTO customers (email, created_at, first_order_at, last_order_at, total_orders)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT (email) DO UPDATE
		SET last_order_at = excluded.last_order_at,
		    total_orders = customers.total_orders + 1
	`
	nowMs := db.ToMillis(now)
	_, err := tx.ExecContext(ctx, r.db.Rebind(query), email, nowMs, nowMs, nowMs)
	return err
}

func (r *RedemptionRepo) Insert(ctx context.Context, tx *sql.Tx, red models.CouponRedemption) (int64, error) {
	query := `
		INSERT INTO coupon_redemptions
		(coupon_code_id, transaction_id, customer_email, redeemed_at, redemption_value_cents, payment_reference)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	var id int64
	err := tx.QueryRowContext(ctx, r.db.Rebind(query),
		red.CouponCodeID,
		red.TransactionID,
		red.CustomerEmail,
		db.ToMillis(red.RedeemedAt),
		red.RedemptionValueCents,
		red.PaymentReference,
	).Scan(&id)
	return id, err
}

// GetByTransaction returns the redemption of codeID recorded for a
// transaction, or nil, nil when there is none.
func (r *RedemptionRepo) GetByTransaction(ctx context.Context, q db.Querier, codeID int64, transactionID string) (*models.CouponRedemption, error) {
	query := `
		SELECT id, coupon_code_id, transaction_id, customer_email, redeemed_at, redemption_value_cents, payment_reference
		FROM coupon_redemptions
		WHERE coupon_code_id = ? AND transaction_id = ?
	`
	var (
		red        models.CouponRedemption
		redeemedAt int64
	)
	err := q.QueryRowContext(ctx, r.db.Rebind(query), codeID, transactionID).Scan(
		&red.ID,
		&red.CouponCodeID,
		&red.TransactionID,
		&red.CustomerEmail,
		&redeemedAt,
		&red.RedemptionValueCents,
		&red.PaymentReference,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	red.RedeemedAt = db.FromMillis(redeemedAt)
	return &red, nil
}

// CountByCode returns how many redemption rows reference the code.
func (r *RedemptionRepo) CountByCode(ctx context.Context, code string) (int, error) {
	query := `
		SELECT COUNT(*) FROM coupon_redemptions rd
		JOIN coupon_codes c ON c.id = rd.coupon_code_id
		WHERE c.code = ?
	`
	var n int
	err := r.db.QueryRowContext(ctx, r.db.Rebind(query), code).Scan(&n)
	return n, err
}

// CustomerExists reports whether email has placed an order before.
func (r *RedemptionRepo) CustomerExists(ctx context.Context, email string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT COUNT(*) FROM customers WHERE email = ?`), email).Scan(&n)
	return n > 0, err
}
