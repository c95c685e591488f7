package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/xlpostcards/postcard-service/internal/apperr"
	"github.com/xlpostcards/postcard-service/internal/ledger"
	"github.com/xlpostcards/postcard-service/internal/models"
)

// Coupons is the ledger as seen by the HTTP layer.
type Coupons interface {
	Validate(ctx context.Context, code string) (models.ValidationResponse, error)
	CodeStatus(ctx context.Context, code string) (models.CodeStatus, error)
	Analytics(ctx context.Context) ([]models.CodeAnalytics, error)
	EnsureMonthlyCampaign(ctx context.Context, terms ledger.MonthlyTerms) (ledger.MonthlyResult, error)
	SetActive(ctx context.Context, code string, active bool) error
}

type ValidateRequestBody struct {
	Code string `json:"code"`
}

type AnalyticsResponse struct {
	Codes []models.CodeAnalytics `json:"codes"`
}

type CouponHandler struct {
	ledger  Coupons
	monthly ledger.MonthlyTerms
}

func NewCouponHandler(l Coupons, monthly ledger.MonthlyTerms) *CouponHandler {
	return &CouponHandler{ledger: l, monthly: monthly}
}

// ValidatePromoCode handles POST /coupons/validate-promo-code
// An unknown or spent code is a 200 with valid=false and a reason.
func (h *CouponHandler) ValidatePromoCode(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequestBody
	if status, err := decodeJSON(w, r, 1<<16, &req); err != nil {
		writeJSON(w, status, ErrorResponse{Error: apperr.PublicMessage(err), Reason: apperr.CodeOf(err).Reason(), Field: "body"})
		return
	}
	resp, err := h.ledger.Validate(r.Context(), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CouponStatus handles GET /coupons/coupon-status?code=
func (h *CouponHandler) CouponStatus(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		writeError(w, r, apperr.Invalid("code", "code query parameter is required"))
		return
	}
	st, err := h.ledger.CodeStatus(r.Context(), code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// CouponAnalytics handles GET /coupons/coupon-analytics
func (h *CouponHandler) CouponAnalytics(w http.ResponseWriter, r *http.Request) {
	codes, err := h.ledger.Analytics(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if codes == nil {
		codes = []models.CodeAnalytics{}
	}
	writeJSON(w, http.StatusOK, AnalyticsResponse{Codes: codes})
}

// EnsureMonthly handles POST /admin/coupons/monthly
func (h *CouponHandler) EnsureMonthly(w http.ResponseWriter, r *http.Request) {
	res, err := h.ledger.EnsureMonthlyCampaign(r.Context(), h.monthly)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
		zerolog.Ctx(r.Context()).Info().Str("code", res.Code).Time("expires_at", res.ExpiresAt).Msg("monthly campaign created")
	}
	writeJSON(w, status, res)
}

// Activate handles POST /admin/coupons/{code}/activate
func (h *CouponHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// Deactivate handles POST /admin/coupons/{code}/deactivate
func (h *CouponHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *CouponHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	code := chi.URLParam(r, "code")
	if err := h.ledger.SetActive(r.Context(), code, active); err != nil {
		writeError(w, r, err)
		return
	}
	zerolog.Ctx(r.Context()).Info().Str("code", code).Bool("active", active).Msg("coupon code updated")
	w.WriteHeader(http.StatusNoContent)
}
