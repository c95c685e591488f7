package repository

import (
	"context"

	"github.com/xlpostcards/postcard-service/internal/models"
	"github.com/xlpostcards/postcard-service/pkg/db"
)

type DistributionRepo struct {
	db *db.DB
}

func NewDistributionRepo(conn *db.DB) *DistributionRepo {
	return &DistributionRepo{db: conn}
}

// Insert appends a distribution row. Rows are never updated or deleted.
func (r *DistributionRepo) Insert(ctx context.Context, d models.CouponDistribution) (int64, error) {
	query := `
		INSERT INTO coupon_distributions
		(coupon_code_id, transaction_id, recipient_name, recipient_address, sent_at, postcard_size)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	var id int64
	err := r.db.QueryRowContext(ctx, r.db.Rebind(query),
		d.CouponCodeID,
		d.TransactionID,
		d.RecipientName,
		d.RecipientAddress,
		db.ToMillis(d.SentAt),
		d.PostcardSize,
	).Scan(&id)
	return id, err
}

func (r *DistributionRepo) ListByTransaction(ctx context.Context, transactionID string) ([]models.CouponDistribution, error) {
	query := `
		SELECT id, coupon_code_id, transaction_id, recipient_name, recipient_address, sent_at, postcard_size
		FROM coupon_distributions
		WHERE transaction_id = ?
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CouponDistribution
	for rows.Next() {
		var (
			d      models.CouponDistribution
			sentAt int64
		)
		if err := rows.Scan(&d.ID, &d.CouponCodeID, &d.TransactionID, &d.RecipientName, &d.RecipientAddress, &sentAt, &d.PostcardSize); err != nil {
			return nil, err
		}
		d.SentAt = db.FromMillis(sentAt)
		out = append(out, d)
	}
	return out, rows.Err()
}
