package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/xlpostcards/postcard-service/internal/models"
	"github.com/xlpostcards/postcard-service/pkg/db"
)

type SubmissionRepo struct {
	db *db.DB
}

func NewSubmissionRepo(conn *db.DB) *SubmissionRepo {
	return &SubmissionRepo{db: conn}
}

// Upsert stores the latest artifacts for a transaction. Regenerating a
// postcard replaces a submission only while it is still waiting for
// payment; it reports false when the stored one is already paid or redeemed.
func (r *SubmissionRepo) Upsert(ctx context.Context, s models.Submission) (bool, error) {
	query := `
		INSERT INTO postcard_submissions
		(transaction_id, postcard_size, front_url, back_url, status, user_email, promo_code, payment_reference, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_id) DO UPDATE
		SET postcard_size = excluded.postcard_size,
		    front_url = excluded.front_url,
		    back_url = excluded.back_url,
		    status = excluded.status,
		    user_email = excluded.user_email,
		    promo_code = excluded.promo_code,
		    payment_reference = excluded.payment_reference,
		    updated_at = excluded.updated_at
		WHERE postcard_submissions.status = ?
	`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		s.TransactionID,
		s.PostcardSize,
		s.FrontURL,
		s.BackURL,
		s.Status,
		s.UserEmail,
		s.PromoCode,
		s.PaymentReference,
		db.ToMillis(s.CreatedAt),
		db.ToMillis(s.UpdatedAt),
		models.StatusReadyForPayment,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Get returns nil, nil for an unknown transaction.
func (r *SubmissionRepo) Get(ctx context.Context, transactionID string) (*models.Submission, error) {
	query := `
		SELECT transaction_id, postcard_size, front_url, back_url, status, user_email, promo_code,
		       payment_reference, created_at, updated_at
		FROM postcard_submissions
		WHERE transaction_id = ?
	`
	var (
		s                    models.Submission
		createdAt, updatedAt int64
	)
	err := r.db.QueryRowContext(ctx, r.db.Rebind(query), transactionID).Scan(
		&s.TransactionID,
		&s.PostcardSize,
		&s.FrontURL,
		&s.BackURL,
		&s.Status,
		&s.UserEmail,
		&s.PromoCode,
		&s.PaymentReference,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.CreatedAt = db.FromMillis(createdAt)
	s.UpdatedAt = db.FromMillis(updatedAt)
	return &s, nil
}

// MarkPaid moves a submission waiting for payment to paid. It reports false
// for an unknown id or a submission that is no longer waiting.
func (r *SubmissionRepo) MarkPaid(ctx context.Context, transactionID, paymentRef, email string, now time.Time) (bool, error) {
	query := `
		UPDATE postcard_submissions
		SET status = ?, payment_reference = ?,
		    user_email = CASE WHEN ? <> '' THEN ? ELSE user_email END,
		    updated_at = ?
		WHERE transaction_id = ? AND status = ?
	`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		models.StatusPaid, paymentRef, email, email, db.ToMillis(now), transactionID, models.StatusReadyForPayment)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
