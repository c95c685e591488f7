package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/xlpostcards/postcard-service/internal/api/handlers"
	"github.com/xlpostcards/postcard-service/internal/api/middleware"
	"github.com/xlpostcards/postcard-service/internal/ledger"
)

// Pinger reports whether the ledger database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	Postcards    handlers.Postcards
	Coupons      handlers.Coupons
	DB           Pinger
	Monthly      ledger.MonthlyTerms
	AdminToken   string
	MaxBodyBytes int64
	// Artifacts serves locally stored images under /artifacts when set.
	Artifacts http.Handler
	Logger    zerolog.Logger
}

// NewRouter builds the HTTP router for the postcard-service
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimw.Recoverer)

	postcards := handlers.NewPostcardHandler(d.Postcards, d.MaxBodyBytes)
	coupons := handlers.NewCouponHandler(d.Coupons, d.Monthly)

	r.Route("/postcards", func(r chi.Router) {
		r.Post("/generate-complete-postcard", postcards.GenerateComplete)
		r.Post("/generate-postcard-back", postcards.GenerateBack)
		r.Post("/process-free-postcard", postcards.ProcessFree)
		r.Get("/transaction-status/{transactionId}", postcards.TransactionStatus)
	})
	r.Post("/payments/payment-confirmed", postcards.PaymentConfirmed)

	// Public coupon endpoints
	r.Route("/coupons", func(r chi.Router) {
		r.Post("/validate-promo-code", coupons.ValidatePromoCode)
		r.Get("/coupon-status", coupons.CouponStatus)
		r.Get("/coupon-analytics", coupons.CouponAnalytics)
	})

	// Paths older mobile clients call directly.
	r.Post("/validate-promo-code", coupons.ValidatePromoCode)
	r.Post("/process-free-postcard", postcards.ProcessFree)

	// Admin endpoints
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AdminToken(d.AdminToken))
		r.Post("/coupons/monthly", coupons.EnsureMonthly)
		r.Post("/coupons/{code}/activate", coupons.Activate)
		r.Post("/coupons/{code}/deactivate", coupons.Deactivate)
	})

	if d.Artifacts != nil {
		r.Handle("/artifacts/*", http.StripPrefix("/artifacts", d.Artifacts))
	}

	r.Handle("/metrics", promhttp.Handler())

	// health
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.DB.PingContext(ctx); err != nil {
				zerolog.Ctx(r.Context()).Error().Err(err).Msg("health check: database unreachable")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("database unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
