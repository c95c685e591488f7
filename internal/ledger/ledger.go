// Package ledger owns coupon campaigns, codes, distributions, redemptions and
// customers. Capacity is consumed only through a guarded UPDATE so concurrent
// redemptions can never push a code past its limit.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xlpostcards/postcard-service/internal/apperr"
	"github.com/xlpostcards/postcard-service/internal/metrics"
	"github.com/xlpostcards/postcard-service/internal/models"
	"github.com/xlpostcards/postcard-service/internal/repository"
	"github.com/xlpostcards/postcard-service/pkg/db"
)

var tracer = otel.Tracer("github.com/xlpostcards/postcard-service/internal/ledger")

type Ledger struct {
	db            *db.DB
	coupons       *repository.CouponRepo
	redemptions   *repository.RedemptionRepo
	distributions *repository.DistributionRepo
	now           func() time.Time
}

type Option func(*Ledger)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(conn *db.DB, opts ...Option) *Ledger {
	l := &Ledger{
		db:            conn,
		coupons:       repository.NewCouponRepo(conn),
		redemptions:   repository.NewRedemptionRepo(conn),
		distributions: repository.NewDistributionRepo(conn),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Validate reports whether code could be redeemed right now. It never
// mutates state and returns an error only when the store fails.
func (l *Ledger) Validate(ctx context.Context, code string) (models.ValidationResponse, error) {
	ctx, span := tracer.Start(ctx, "ledger.Validate")
	defer span.End()

	code = normalizeCode(code)
	span.SetAttributes(attribute.String("coupon.code", code))

	resp := models.ValidationResponse{Code: code}
	if code == "" {
		resp.Reason = apperr.CodeCouponNotFound.Reason()
		metrics.CouponValidations.WithLabelValues(resp.Reason).Inc()
		return resp, nil
	}

	meta, err := l.coupons.GetCouponMeta(ctx, code)
	if err != nil {
		recordSpanError(span, err)
		return resp, apperr.Wrap(apperr.CodeLedgerFailure, "load coupon", err)
	}
	if meta == nil {
		resp.Reason = apperr.CodeCouponNotFound.Reason()
		metrics.CouponValidations.WithLabelValues(resp.Reason).Inc()
		return resp, nil
	}

	if state := StateOf(*meta, l.now()); state != StateActive {
		resp.Reason = state.reason()
		metrics.CouponValidations.WithLabelValues(resp.Reason).Inc()
		return resp, nil
	}

	resp.Valid = true
	resp.DiscountPercent = meta.DiscountPercent
	resp.Remaining = meta.Remaining()
	metrics.CouponValidations.WithLabelValues("valid").Inc()
	return resp, nil
}

// errReplayed marks a redemption that lost a unique-index race to an
// identical (code, transaction) insert.
var errReplayed = errors.New("redemption already recorded for transaction")

// Redeem consumes one unit of the code's capacity for a customer order.
// The capacity check and increment are a single conditional UPDATE; the
// customer and redemption rows are written in the same transaction.
// Redeeming a code again under the same transaction id returns the original
// redemption without consuming capacity.
func (l *Ledger) Redeem(ctx context.Context, req models.RedeemRequest) (*models.CouponRedemption, error) {
	ctx, span := tracer.Start(ctx, "ledger.Redeem")
	defer span.End()

	code := normalizeCode(req.Code)
	email := normalizeEmail(req.CustomerEmail)
	span.SetAttributes(
		attribute.String("coupon.code", code),
		attribute.String("transaction.id", req.TransactionID),
	)
	if err := validateRedeem(code, req.TransactionID, email); err != nil {
		return nil, err
	}

	log := zerolog.Ctx(ctx).With().Str("code", code).Str("transaction_id", req.TransactionID).Logger()
	now := l.now()

	var (
		redemption *models.CouponRedemption
		codeID     int64
		replayed   bool
	)
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		meta, err := l.coupons.GetCouponMetaTx(ctx, tx, code)
		if err != nil {
			return apperr.Wrap(apperr.CodeLedgerFailure, "load coupon", err)
		}
		if meta == nil {
			return apperr.Wrap(apperr.CodeCouponNotFound, fmt.Sprintf("code %s does not exist", code), nil)
		}
		codeID = meta.ID

		prior, err := l.redemptions.GetByTransaction(ctx, tx, meta.ID, req.TransactionID)
		if err != nil {
			return apperr.Wrap(apperr.CodeLedgerFailure, "load redemption", err)
		}
		if prior != nil {
			redemption, replayed = prior, true
			return nil
		}

		if meta.FirstTimeOnly {
			first, err := l.redemptions.ClaimFirstOrder(ctx, tx, email, now)
			if err != nil {
				return apperr.Wrap(apperr.CodeLedgerFailure, "claim first order", err)
			}
			if !first {
				return apperr.Wrap(apperr.CodeCouponAlreadyRedeemed, fmt.Sprintf("%s has already redeemed a first-order code", email), nil)
			}
		} else if err := l.redemptions.TouchCustomer(ctx, tx, email, now); err != nil {
			return apperr.Wrap(apperr.CodeLedgerFailure, "record customer", err)
		}

		ok, err := l.coupons.IncrementIfRedeemable(ctx, tx, code, now)
		if err != nil {
			return apperr.Wrap(apperr.CodeLedgerFailure, "increment redemptions", err)
		}
		if !ok {
			current, err := l.coupons.GetCouponMetaTx(ctx, tx, code)
			if err != nil {
				return apperr.Wrap(apperr.CodeLedgerFailure, "reload coupon", err)
			}
			if current == nil {
				return apperr.Wrap(apperr.CodeCouponNotFound, fmt.Sprintf("code %s does not exist", code), nil)
			}
			if state := StateOf(*current, now); state != StateActive {
				return state.Err(code)
			}
			return apperr.Wrap(apperr.CodeLedgerFailure, "redemption guard rejected an active code", nil)
		}

		r := models.CouponRedemption{
			CouponCodeID:         meta.ID,
			TransactionID:        req.TransactionID,
			CustomerEmail:        email,
			RedeemedAt:           now,
			RedemptionValueCents: req.ValueCents,
			PaymentReference:     req.PaymentReference,
		}
		id, err := l.redemptions.Insert(ctx, tx, r)
		if err != nil {
			if l.db.IsUniqueViolation(err) {
				return errReplayed
			}
			return apperr.Wrap(apperr.CodeLedgerFailure, "insert redemption", err)
		}
		r.ID = id
		redemption = &r
		return nil
	})
	if errors.Is(err, errReplayed) {
		redemption, err = l.redemptions.GetByTransaction(ctx, l.db, codeID, req.TransactionID)
		if err == nil && redemption == nil {
			err = errReplayed
		}
		if err != nil {
			err = apperr.Wrap(apperr.CodeLedgerFailure, "load redemption", err)
		}
		replayed = true
	}
	if err == nil && redemption.CustomerEmail != email {
		err = apperr.Wrap(apperr.CodeCouponAlreadyRedeemed,
			fmt.Sprintf("transaction %s already redeemed %s for another customer", req.TransactionID, code), nil)
	}
	if err != nil {
		errCode := apperr.CodeOf(err)
		metrics.CouponRedemptions.WithLabelValues(errCode.Reason()).Inc()
		recordSpanError(span, err)
		if errCode == apperr.CodeLedgerFailure {
			log.Error().Err(err).Msg("redeem failed")
		} else {
			log.Info().Str("reason", errCode.Reason()).Msg("redeem rejected")
		}
		return nil, err
	}

	if replayed {
		metrics.CouponRedemptions.WithLabelValues("replayed").Inc()
		log.Info().Int64("redemption_id", redemption.ID).Msg("coupon redemption replayed")
		return redemption, nil
	}
	metrics.CouponRedemptions.WithLabelValues("redeemed").Inc()
	log.Info().Int64("redemption_id", redemption.ID).Msg("coupon redeemed")
	return redemption, nil
}

// CheckEligible reports, without changing anything, the error Redeem would
// return for this code, transaction and customer right now. Redeem still
// re-checks atomically; this only lets callers fail before doing expensive
// work. A transaction that already redeemed the code for this customer is
// eligible, since Redeem will replay it.
func (l *Ledger) CheckEligible(ctx context.Context, code, transactionID, customerEmail string) error {
	ctx, span := tracer.Start(ctx, "ledger.CheckEligible")
	defer span.End()

	code = normalizeCode(code)
	email := normalizeEmail(customerEmail)
	span.SetAttributes(attribute.String("coupon.code", code), attribute.String("transaction.id", transactionID))
	if code == "" {
		return apperr.Invalid("code", "code is required")
	}

	meta, err := l.coupons.GetCouponMeta(ctx, code)
	if err != nil {
		recordSpanError(span, err)
		return apperr.Wrap(apperr.CodeLedgerFailure, "load coupon", err)
	}
	if meta == nil {
		return apperr.Wrap(apperr.CodeCouponNotFound, fmt.Sprintf("code %s does not exist", code), nil)
	}
	if transactionID != "" {
		prior, err := l.redemptions.GetByTransaction(ctx, l.db, meta.ID, transactionID)
		if err != nil {
			recordSpanError(span, err)
			return apperr.Wrap(apperr.CodeLedgerFailure, "load redemption", err)
		}
		if prior != nil {
			if prior.CustomerEmail != email {
				return apperr.Wrap(apperr.CodeCouponAlreadyRedeemed,
					fmt.Sprintf("transaction %s already redeemed %s for another customer", transactionID, code), nil)
			}
			return nil
		}
	}
	if state := StateOf(*meta, l.now()); state != StateActive {
		return state.Err(code)
	}
	if meta.FirstTimeOnly && email != "" {
		seen, err := l.redemptions.CustomerExists(ctx, email)
		if err != nil {
			recordSpanError(span, err)
			return apperr.Wrap(apperr.CodeLedgerFailure, "load customer", err)
		}
		if seen {
			return apperr.Wrap(apperr.CodeCouponAlreadyRedeemed, fmt.Sprintf("%s has already redeemed a first-order code", email), nil)
		}
	}
	return nil
}

// RecordDistribution appends a row noting that code was printed on a
// postcard. It never changes the code's redemption count.
func (l *Ledger) RecordDistribution(ctx context.Context, code, transactionID string, recipient models.RecipientInfo, size string) error {
	ctx, span := tracer.Start(ctx, "ledger.RecordDistribution")
	defer span.End()

	code = normalizeCode(code)
	span.SetAttributes(attribute.String("coupon.code", code), attribute.String("transaction.id", transactionID))

	meta, err := l.coupons.GetCouponMeta(ctx, code)
	if err != nil {
		recordSpanError(span, err)
		return apperr.Wrap(apperr.CodeLedgerFailure, "load coupon", err)
	}
	if meta == nil {
		return apperr.Wrap(apperr.CodeCouponNotFound, fmt.Sprintf("code %s does not exist", code), nil)
	}

	_, err = l.distributions.Insert(ctx, models.CouponDistribution{
		CouponCodeID:     meta.ID,
		TransactionID:    transactionID,
		RecipientName:    strings.TrimSpace(recipient.To),
		RecipientAddress: recipient.OneLine(),
		SentAt:           l.now(),
		PostcardSize:     size,
	})
	if err != nil {
		recordSpanError(span, err)
		return apperr.Wrap(apperr.CodeLedgerFailure, "insert distribution", err)
	}
	return nil
}

// Distributions lists the codes printed for a transaction.
func (l *Ledger) Distributions(ctx context.Context, transactionID string) ([]models.CouponDistribution, error) {
	out, err := l.distributions.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeLedgerFailure, "list distributions", err)
	}
	return out, nil
}

// CodeStatus reports the lifecycle state and remaining capacity of a code.
func (l *Ledger) CodeStatus(ctx context.Context, code string) (models.CodeStatus, error) {
	code = normalizeCode(code)
	meta, err := l.coupons.GetCouponMeta(ctx, code)
	if err != nil {
		return models.CodeStatus{}, apperr.Wrap(apperr.CodeLedgerFailure, "load coupon", err)
	}
	if meta == nil {
		return models.CodeStatus{}, apperr.Wrap(apperr.CodeCouponNotFound, fmt.Sprintf("code %s does not exist", code), nil)
	}
	st := models.CodeStatus{
		Code:           meta.Code,
		State:          string(StateOf(*meta, l.now())),
		MaxRedemptions: meta.MaxRedemptions,
		TimesRedeemed:  meta.TimesRedeemed,
		Remaining:      meta.Remaining(),
	}
	if meta.ExpiresAt != nil {
		st.ExpiresAt = meta.ExpiresAt.Format(time.RFC3339)
	}
	return st, nil
}

func (l *Ledger) Analytics(ctx context.Context) ([]models.CodeAnalytics, error) {
	out, err := l.coupons.Analytics(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeLedgerFailure, "load analytics", err)
	}
	return out, nil
}

// SetActive deactivates or reactivates a code administratively.
func (l *Ledger) SetActive(ctx context.Context, code string, active bool) error {
	ok, err := l.coupons.SetCodeActive(ctx, normalizeCode(code), active)
	if err != nil {
		return apperr.Wrap(apperr.CodeLedgerFailure, "update code", err)
	}
	if !ok {
		return apperr.Wrap(apperr.CodeCouponNotFound, fmt.Sprintf("code %s does not exist", code), nil)
	}
	return nil
}

func (l *Ledger) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.CodeLedgerFailure, "begin tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.CodeLedgerFailure, "commit", err)
	}
	committed = true
	return nil
}

func validateRedeem(code, transactionID, email string) error {
	if code == "" {
		return apperr.Invalid("code", "code is required")
	}
	if strings.TrimSpace(transactionID) == "" {
		return apperr.Invalid("transactionId", "transaction id is required")
	}
	if email == "" {
		return apperr.Invalid("customerEmail", "customer email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return apperr.Invalid("customerEmail", "customer email is malformed")
	}
	return nil
}

// Codes are matched exactly after trimming; emails are case-insensitive.
func normalizeCode(code string) string {
	return strings.TrimSpace(code)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
