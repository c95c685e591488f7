// Package service orchestrates postcard generation: it validates requests,
// renders and uploads artifacts, and only then records ledger side effects.
package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xlpostcards/postcard-service/internal/apperr"
	"github.com/xlpostcards/postcard-service/internal/compose"
	"github.com/xlpostcards/postcard-service/internal/concurrency"
	"github.com/xlpostcards/postcard-service/internal/layout"
	"github.com/xlpostcards/postcard-service/internal/ledger"
	"github.com/xlpostcards/postcard-service/internal/metrics"
	"github.com/xlpostcards/postcard-service/internal/models"
	"github.com/xlpostcards/postcard-service/internal/storage/artifact"
)

var (
	tracer = otel.Tracer("github.com/xlpostcards/postcard-service/internal/service")

	transactionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,99}$`)
)

// Stages reported on failed results.
const (
	StageValidation = "validation"
	StageFetch      = "fetch"
	StageRender     = "render"
	StageUpload     = "upload"
	StageLedger     = "ledger"
)

const (
	flowPaid    = "paid"
	flowFree    = "free"
	flowPreview = "preview"

	maxPhotoBytes    = 40 << 20
	photoConcurrency = 4
)

// Ledger is the part of the coupon ledger the orchestrator drives.
type Ledger interface {
	Validate(ctx context.Context, code string) (models.ValidationResponse, error)
	CheckEligible(ctx context.Context, code, transactionID, customerEmail string) error
	Redeem(ctx context.Context, req models.RedeemRequest) (*models.CouponRedemption, error)
	RecordDistribution(ctx context.Context, code, transactionID string, recipient models.RecipientInfo, size string) error
}

// SubmissionStore persists generated postcards.
type SubmissionStore interface {
	Upsert(ctx context.Context, s models.Submission) (bool, error)
	Get(ctx context.Context, transactionID string) (*models.Submission, error)
	MarkPaid(ctx context.Context, transactionID, paymentRef, email string, now time.Time) (bool, error)
}

type Options struct {
	PromoEnabled   bool
	PromoPrefix    string
	FreeValueCents int64
	FetchTimeout   time.Duration
	// FetchHosts restricts remote front images to these hosts.
	FetchHosts []string
	HTTPClient *http.Client
	Now        func() time.Time
}

type PostcardService struct {
	composer    *compose.Composer
	ledger      Ledger
	submissions SubmissionStore
	uploader    artifact.Uploader
	fetchPolicy fetchPolicy
	httpClient  *http.Client
	opts        Options
}

func NewPostcardService(c *compose.Composer, l Ledger, subs SubmissionStore, up artifact.Uploader, opts Options) *PostcardService {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	policy := newFetchPolicy(opts.FetchHosts)
	return &PostcardService{
		composer:    c,
		ledger:      l,
		submissions: subs,
		uploader:    up,
		fetchPolicy: policy,
		httpClient:  policy.client(opts.HTTPClient),
		opts:        opts,
	}
}

// stageError tags an error with the pipeline stage that produced it.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func at(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *stageError
	if errors.As(err, &se) {
		return err
	}
	return &stageError{stage: stage, err: err}
}

// StageOf returns the stage an orchestrator error came from.
func StageOf(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return ""
}

type photoSource struct {
	field, value string
}

// job is a validated request ready to render.
type job struct {
	txID     string
	size     layout.SizeClass
	layout   layout.Layout
	template compose.Template
	sources  []photoSource
	email    string
}

type artifacts struct {
	front, back []byte
	truncated   bool
}

// Generate renders and uploads both sides for the paid flow and leaves the
// submission waiting for payment.
func (s *PostcardService) Generate(ctx context.Context, req models.PostcardRequest) (models.PostcardResult, error) {
	ctx, span := tracer.Start(ctx, "service.Generate")
	defer span.End()
	res := models.PostcardResult{TransactionID: req.TransactionID}

	j, err := s.prepare(req, 0, 0, true)
	if err != nil {
		return s.fail(ctx, span, res, flowPaid, req.PostcardSize, at(StageValidation, err))
	}
	span.SetAttributes(attribute.String("transaction.id", j.txID), attribute.String("postcard.size", string(j.size)))
	if err := s.ensureOpen(ctx, j.txID); err != nil {
		return s.fail(ctx, span, res, flowPaid, string(j.size), at(StageLedger, err))
	}

	promo := s.pickPromo(ctx)
	out, err := s.produce(ctx, j, promo, true)
	if err != nil {
		return s.fail(ctx, span, res, flowPaid, string(j.size), err)
	}
	res.FrontURL, res.BackURL, err = s.upload(ctx, j.txID, out)
	if err != nil {
		return s.fail(ctx, span, res, flowPaid, string(j.size), at(StageUpload, err))
	}

	if promo != nil {
		if err := s.ledger.RecordDistribution(ctx, promo.Code, j.txID, req.RecipientInfo, string(j.size)); err != nil {
			return s.fail(ctx, span, res, flowPaid, string(j.size), at(StageLedger, err))
		}
		res.PromoCode = promo.Code
	}
	if err := s.saveSubmission(ctx, j, res, models.StatusReadyForPayment, ""); err != nil {
		return s.fail(ctx, span, res, flowPaid, string(j.size), at(StageLedger, err))
	}

	res.Truncated = out.truncated
	return s.succeed(ctx, res, flowPaid, j.size), nil
}

// GenerateBack renders only the back for previews. Nothing is recorded.
func (s *PostcardService) GenerateBack(ctx context.Context, req models.BackPreviewRequest) (models.PostcardResult, error) {
	ctx, span := tracer.Start(ctx, "service.GenerateBack")
	defer span.End()
	res := models.PostcardResult{TransactionID: req.TransactionID}

	j, err := s.prepare(req.PostcardRequest, req.Width, req.Height, false)
	if err != nil {
		return s.fail(ctx, span, res, flowPreview, req.PostcardSize, at(StageValidation, err))
	}
	promo := s.pickPromo(ctx)
	out, err := s.produce(ctx, j, promo, false)
	if err != nil {
		return s.fail(ctx, span, res, flowPreview, string(j.size), err)
	}
	res.BackURL, err = s.uploader.Upload(ctx, artifact.Key(j.txID, "back-preview"), out.back, "image/jpeg")
	if err != nil {
		return s.fail(ctx, span, res, flowPreview, string(j.size), at(StageUpload, upstream(err)))
	}
	if promo != nil {
		res.PromoCode = promo.Code
	}
	res.Truncated = out.truncated
	return s.succeed(ctx, res, flowPreview, j.size), nil
}

// ProcessFree generates a postcard paid for with a promo code. Eligibility
// is checked before any rendering; the redemption itself happens only once
// both artifacts are uploaded. Once the redemption commits the result is a
// success: later bookkeeping failures are logged, not returned.
func (s *PostcardService) ProcessFree(ctx context.Context, req models.FreePostcardRequest) (models.PostcardResult, error) {
	ctx, span := tracer.Start(ctx, "service.ProcessFree")
	defer span.End()
	res := models.PostcardResult{TransactionID: req.TransactionID}

	j, err := s.prepare(req.PostcardRequest, 0, 0, true)
	if err != nil {
		return s.fail(ctx, span, res, flowFree, req.PostcardSize, at(StageValidation, err))
	}
	code := strings.TrimSpace(req.Code)
	email := strings.TrimSpace(req.CustomerEmail)
	if err := validateFree(code, email); err != nil {
		return s.fail(ctx, span, res, flowFree, string(j.size), at(StageValidation, err))
	}
	span.SetAttributes(attribute.String("transaction.id", j.txID), attribute.String("coupon.code", code))

	if err := s.ensureOpen(ctx, j.txID); err != nil {
		return s.fail(ctx, span, res, flowFree, string(j.size), at(StageLedger, err))
	}
	if err := s.ledger.CheckEligible(ctx, code, j.txID, email); err != nil {
		return s.fail(ctx, span, res, flowFree, string(j.size), at(StageLedger, err))
	}

	promo := s.pickPromo(ctx)
	out, err := s.produce(ctx, j, promo, true)
	if err != nil {
		return s.fail(ctx, span, res, flowFree, string(j.size), err)
	}
	res.FrontURL, res.BackURL, err = s.upload(ctx, j.txID, out)
	if err != nil {
		return s.fail(ctx, span, res, flowFree, string(j.size), at(StageUpload, err))
	}

	_, err = s.ledger.Redeem(ctx, models.RedeemRequest{
		Code:             code,
		TransactionID:    j.txID,
		CustomerEmail:    email,
		ValueCents:       s.opts.FreeValueCents,
		PaymentReference: "coupon:" + code,
	})
	if err != nil {
		return s.fail(ctx, span, res, flowFree, string(j.size), at(StageLedger, err))
	}
	res.Redeemed = true

	log := zerolog.Ctx(ctx).With().Str("transaction_id", j.txID).Str("code", code).Logger()
	if promo != nil {
		res.PromoCode = promo.Code
		if err := s.ledger.RecordDistribution(ctx, promo.Code, j.txID, req.RecipientInfo, string(j.size)); err != nil {
			span.RecordError(err)
			log.Error().Err(err).Str("promo_code", promo.Code).Msg("record distribution after redemption")
		}
	}
	j.email = email
	if err := s.saveSubmission(ctx, j, res, models.StatusRedeemedFree, "coupon:"+code); err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("save submission after redemption")
	}

	res.Truncated = out.truncated
	return s.succeed(ctx, res, flowFree, j.size), nil
}

// ConfirmPayment marks a generated postcard as paid. Repeating the call with
// the same payment reference returns the stored submission unchanged.
func (s *PostcardService) ConfirmPayment(ctx context.Context, req models.PaymentConfirmation) (*models.Submission, error) {
	ctx, span := tracer.Start(ctx, "service.ConfirmPayment")
	defer span.End()

	txID := strings.TrimSpace(req.TransactionID)
	ref := strings.TrimSpace(req.PaymentReference)
	if !transactionIDPattern.MatchString(txID) {
		return nil, invalidTransactionID()
	}
	if ref == "" {
		return nil, apperr.Invalid("paymentReference", "paymentReference is required")
	}
	span.SetAttributes(attribute.String("transaction.id", txID))

	sub, err := s.TransactionStatus(ctx, txID)
	if err != nil {
		return nil, err
	}
	switch sub.Status {
	case models.StatusPaid:
		if sub.PaymentReference == ref {
			return sub, nil
		}
		return nil, apperr.Invalid("paymentReference", "transaction was already paid with a different reference")
	case models.StatusRedeemedFree:
		return nil, apperr.Invalid("transactionId", "transaction was redeemed with a promo code")
	}

	ok, err := s.submissions.MarkPaid(ctx, txID, ref, strings.TrimSpace(req.UserEmail), s.opts.Now())
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeLedgerFailure, "mark submission paid", err)
	}
	sub, err = s.TransactionStatus(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !ok && (sub.Status != models.StatusPaid || sub.PaymentReference != ref) {
		return nil, apperr.Wrap(apperr.CodeTransactionClosed, fmt.Sprintf("transaction %s is already %s", txID, sub.Status), nil)
	}
	zerolog.Ctx(ctx).Info().Str("transaction_id", txID).Str("payment_reference", ref).Msg("payment confirmed")
	return sub, nil
}

// ensureOpen rejects a transaction whose submission is already paid or
// redeemed, before any rendering.
func (s *PostcardService) ensureOpen(ctx context.Context, txID string) error {
	sub, err := s.submissions.Get(ctx, txID)
	if err != nil {
		return apperr.Wrap(apperr.CodeLedgerFailure, "load submission", err)
	}
	if sub != nil && sub.Status != models.StatusReadyForPayment {
		return apperr.Wrap(apperr.CodeTransactionClosed, fmt.Sprintf("transaction %s is already %s", txID, sub.Status), nil)
	}
	return nil
}

// TransactionStatus returns the stored submission for a transaction.
func (s *PostcardService) TransactionStatus(ctx context.Context, transactionID string) (*models.Submission, error) {
	txID := strings.TrimSpace(transactionID)
	if !transactionIDPattern.MatchString(txID) {
		return nil, invalidTransactionID()
	}
	sub, err := s.submissions.Get(ctx, txID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeLedgerFailure, "load submission", err)
	}
	if sub == nil {
		return nil, apperr.Wrap(apperr.CodeNotFound, fmt.Sprintf("transaction %s not found", txID), nil)
	}
	return sub, nil
}

func (s *PostcardService) prepare(req models.PostcardRequest, width, height int, needFront bool) (job, error) {
	txID := strings.TrimSpace(req.TransactionID)
	if !transactionIDPattern.MatchString(txID) {
		return job{}, invalidTransactionID()
	}
	size, err := layout.ParseSizeClass(req.PostcardSize)
	if err != nil {
		return job{}, err
	}
	tmpl, err := compose.ParseTemplate(req.Template)
	if err != nil {
		return job{}, err
	}
	if email := strings.TrimSpace(req.UserEmail); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return job{}, apperr.Invalid("userEmail", "userEmail is malformed")
		}
	}

	in := layout.Input{
		Size:          size,
		TargetWidth:   width,
		TargetHeight:  height,
		Message:       req.Message,
		Recipient:     req.RecipientInfo,
		ReturnAddress: req.ReturnAddressText,
	}
	var l layout.Layout
	if width == 0 && height == 0 {
		l, err = layout.ForClass(in)
	} else {
		l, err = layout.Compute(in)
	}
	if err != nil {
		return job{}, err
	}

	j := job{txID: txID, size: size, layout: l, template: tmpl, email: strings.TrimSpace(req.UserEmail)}
	if needFront {
		j.sources = frontSources(req)
		if len(j.sources) == 0 {
			return job{}, apperr.Invalid("frontImageUri", "a front image is required")
		}
		if len(j.sources) < tmpl.Photos() {
			return job{}, apperr.Invalid("frontImages", fmt.Sprintf("template %s needs %d photos, got %d", tmpl, tmpl.Photos(), len(j.sources)))
		}
	}
	return j, nil
}

func frontSources(req models.PostcardRequest) []photoSource {
	var out []photoSource
	for i, v := range req.FrontImages {
		if strings.TrimSpace(v) != "" {
			out = append(out, photoSource{field: fmt.Sprintf("frontImages[%d]", i), value: v})
		}
	}
	if len(out) > 0 {
		return out
	}
	if strings.TrimSpace(req.FrontImageBase64) != "" {
		return []photoSource{{field: "frontImageBase64", value: req.FrontImageBase64}}
	}
	if strings.TrimSpace(req.FrontImageURI) != "" {
		return []photoSource{{field: "frontImageUri", value: req.FrontImageURI}}
	}
	return nil
}

func validateFree(code, email string) error {
	if code == "" {
		return apperr.Invalid("code", "code is required")
	}
	if email == "" {
		return apperr.Invalid("customerEmail", "customerEmail is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return apperr.Invalid("customerEmail", "customerEmail is malformed")
	}
	return nil
}

func invalidTransactionID() error {
	return apperr.Invalid("transactionId", "transactionId must be 1-100 letters, digits, '-' or '_' and start with a letter or digit")
}

// pickPromo returns this month's code when it can still be redeemed. A
// ledger problem only costs the promo panel, never the postcard.
func (s *PostcardService) pickPromo(ctx context.Context) *compose.Promo {
	if !s.opts.PromoEnabled {
		return nil
	}
	code := ledger.MonthlyCode(s.opts.PromoPrefix, s.opts.Now())
	resp, err := s.ledger.Validate(ctx, code)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("code", code).Msg("promo lookup failed, printing without promo")
		return nil
	}
	if !resp.Valid {
		zerolog.Ctx(ctx).Debug().Str("code", code).Str("reason", resp.Reason).Msg("promo code not redeemable, printing without promo")
		return nil
	}
	return &compose.Promo{Code: resp.Code}
}

// produce loads the photos and renders both sides in parallel.
func (s *PostcardService) produce(ctx context.Context, j job, promo *compose.Promo, withFront bool) (artifacts, error) {
	var photos []image.Image
	if withFront {
		var err error
		if photos, err = s.loadPhotos(ctx, j.sources); err != nil {
			return artifacts{}, err
		}
	}

	var out artifacts
	tasks := []concurrency.Task{func(ctx context.Context) error {
		start := time.Now()
		back, err := s.composer.ComposeBack(j.layout, promo)
		if err != nil {
			return err
		}
		out.truncated = back.Truncated()
		if out.back, err = s.composer.Encode(back.Canvas); err != nil {
			return err
		}
		metrics.ObserveRender("back", start)
		return nil
	}}
	if withFront {
		tasks = append(tasks, func(ctx context.Context) error {
			start := time.Now()
			front, err := s.composer.ComposeFront(j.size, j.template, photos)
			if err != nil {
				return err
			}
			if out.front, err = s.composer.Encode(front); err != nil {
				return err
			}
			metrics.ObserveRender("front", start)
			return nil
		})
	}
	if err := concurrency.Run(ctx, 0, tasks...); err != nil {
		return artifacts{}, at(StageRender, err)
	}
	return out, nil
}

func (s *PostcardService) loadPhotos(ctx context.Context, sources []photoSource) ([]image.Image, error) {
	photos := make([]image.Image, len(sources))
	err := concurrency.ForEach(ctx, photoConcurrency, len(sources), func(ctx context.Context, i int) error {
		img, err := s.loadPhoto(ctx, sources[i])
		photos[i] = img
		return err
	})
	if err != nil {
		return nil, at(StageValidation, err)
	}
	return photos, nil
}

func (s *PostcardService) loadPhoto(ctx context.Context, src photoSource) (image.Image, error) {
	v := strings.TrimSpace(src.value)
	if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
		img, err := compose.DecodeImage(src.field, v)
		return img, at(StageValidation, err)
	}
	data, err := s.fetch(ctx, src.field, v)
	if err != nil {
		return nil, at(StageFetch, err)
	}
	img, err := compose.DecodeBytes(src.field, data)
	return img, at(StageValidation, err)
}

// upload stores both sides concurrently.
func (s *PostcardService) upload(ctx context.Context, txID string, out artifacts) (frontURL, backURL string, err error) {
	err = concurrency.Run(ctx, 0,
		func(ctx context.Context) error {
			u, err := s.uploader.Upload(ctx, artifact.Key(txID, "front"), out.front, "image/jpeg")
			frontURL = u
			return upstream(err)
		},
		func(ctx context.Context) error {
			u, err := s.uploader.Upload(ctx, artifact.Key(txID, "back"), out.back, "image/jpeg")
			backURL = u
			return upstream(err)
		},
	)
	if err != nil {
		return "", "", err
	}
	return frontURL, backURL, nil
}

// upstream classifies storage errors that carry no code of their own.
func upstream(err error) error {
	if err == nil || apperr.CodeOf(err) != apperr.CodeUnknown {
		return err
	}
	return apperr.Wrap(apperr.CodeUpstreamFailure, "upload artifact", err)
}

func (s *PostcardService) saveSubmission(ctx context.Context, j job, res models.PostcardResult, status, paymentRef string) error {
	now := s.opts.Now()
	ok, err := s.submissions.Upsert(ctx, models.Submission{
		TransactionID:    j.txID,
		PostcardSize:     string(j.size),
		FrontURL:         res.FrontURL,
		BackURL:          res.BackURL,
		Status:           status,
		UserEmail:        j.email,
		PromoCode:        res.PromoCode,
		PaymentReference: paymentRef,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeLedgerFailure, "save submission", err)
	}
	if !ok {
		return apperr.Wrap(apperr.CodeTransactionClosed, fmt.Sprintf("transaction %s is no longer waiting for payment", j.txID), nil)
	}
	return nil
}

func (s *PostcardService) succeed(ctx context.Context, res models.PostcardResult, flow string, size layout.SizeClass) models.PostcardResult {
	res.Success = true
	metrics.PostcardsGenerated.WithLabelValues(string(size), flow, "success").Inc()
	if res.Truncated {
		metrics.TruncatedMessages.Inc()
	}
	zerolog.Ctx(ctx).Info().
		Str("transaction_id", res.TransactionID).
		Str("flow", flow).
		Str("promo_code", res.PromoCode).
		Bool("truncated", res.Truncated).
		Msg("postcard generated")
	return res
}

// fail fills the result's error fields from err and returns both.
func (s *PostcardService) fail(ctx context.Context, span trace.Span, res models.PostcardResult, flow, size string, err error) (models.PostcardResult, error) {
	code := apperr.CodeOf(err)
	res.Success = false
	res.Error = apperr.PublicMessage(err)
	res.Reason = code.Reason()
	res.Field = apperr.FieldOf(err)
	res.Stage = StageOf(err)

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	sizeLabel := "unknown"
	if sc, perr := layout.ParseSizeClass(size); perr == nil {
		sizeLabel = string(sc)
	}
	metrics.PostcardsGenerated.WithLabelValues(sizeLabel, flow, res.Reason).Inc()

	ev := zerolog.Ctx(ctx).Warn()
	if code.HTTPStatus() >= http.StatusInternalServerError {
		ev = zerolog.Ctx(ctx).Error()
	}
	ev.Err(err).
		Str("transaction_id", res.TransactionID).
		Str("flow", flow).
		Str("stage", res.Stage).
		Str("reason", res.Reason).
		Msg("postcard generation failed")
	return res, err
}
