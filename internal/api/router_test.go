package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/xlpostcards/postcard-service/internal/apperr"
	"github.com/xlpostcards/postcard-service/internal/ledger"
	"github.com/xlpostcards/postcard-service/internal/models"
	"github.com/xlpostcards/postcard-service/internal/service"
)

type fakePostcards struct {
	lastFree models.FreePostcardRequest
	freeErr  error
}

func (f *fakePostcards) Generate(ctx context.Context, req models.PostcardRequest) (models.PostcardResult, error) {
	if req.PostcardSize == "jumbo" {
		err := apperr.Invalid("postcardSize", `unsupported postcard size "jumbo"`)
		return models.PostcardResult{Error: err.Message, Reason: "invalid_argument", Field: "postcardSize", Stage: service.StageValidation}, err
	}
	return models.PostcardResult{Success: true, TransactionID: req.TransactionID, FrontURL: "f", BackURL: "b"}, nil
}

func (f *fakePostcards) GenerateBack(ctx context.Context, req models.BackPreviewRequest) (models.PostcardResult, error) {
	return models.PostcardResult{Success: true, BackURL: "b"}, nil
}

func (f *fakePostcards) ProcessFree(ctx context.Context, req models.FreePostcardRequest) (models.PostcardResult, error) {
	f.lastFree = req
	if f.freeErr != nil {
		code := apperr.CodeOf(f.freeErr)
		return models.PostcardResult{Error: apperr.PublicMessage(f.freeErr), Reason: code.Reason(), Stage: service.StageLedger}, f.freeErr
	}
	return models.PostcardResult{Success: true, Redeemed: true}, nil
}

func (f *fakePostcards) ConfirmPayment(ctx context.Context, req models.PaymentConfirmation) (*models.Submission, error) {
	return &models.Submission{TransactionID: req.TransactionID, Status: models.StatusPaid, PaymentReference: req.PaymentReference}, nil
}

func (f *fakePostcards) TransactionStatus(ctx context.Context, id string) (*models.Submission, error) {
	if id != "tx-1" {
		return nil, apperr.Wrap(apperr.CodeNotFound, "transaction "+id+" not found", nil)
	}
	return &models.Submission{TransactionID: id, Status: models.StatusReadyForPayment}, nil
}

type fakeCoupons struct {
	monthlyCalls int
	active       map[string]bool
}

func (f *fakeCoupons) Validate(ctx context.Context, code string) (models.ValidationResponse, error) {
	if code == "GOOD" {
		return models.ValidationResponse{Valid: true, Code: code, DiscountPercent: 100, Remaining: 3}, nil
	}
	return models.ValidationResponse{Code: code, Reason: "exhausted"}, nil
}

func (f *fakeCoupons) CodeStatus(ctx context.Context, code string) (models.CodeStatus, error) {
	if code != "GOOD" {
		return models.CodeStatus{}, apperr.Wrap(apperr.CodeCouponNotFound, "code "+code+" does not exist", nil)
	}
	return models.CodeStatus{Code: code, State: "active", Remaining: 3}, nil
}

func (f *fakeCoupons) Analytics(ctx context.Context) ([]models.CodeAnalytics, error) {
	return nil, nil
}

func (f *fakeCoupons) EnsureMonthlyCampaign(ctx context.Context, terms ledger.MonthlyTerms) (ledger.MonthlyResult, error) {
	f.monthlyCalls++
	return ledger.MonthlyResult{Code: terms.Prefix + "Nov", Created: f.monthlyCalls == 1}, nil
}

func (f *fakeCoupons) SetActive(ctx context.Context, code string, active bool) error {
	if f.active == nil {
		f.active = map[string]bool{}
	}
	f.active[code] = active
	return nil
}

type pinger struct{ err error }

func (p pinger) PingContext(ctx context.Context) error { return p.err }

func newServer(t *testing.T, db Pinger) (*httptest.Server, *fakePostcards, *fakeCoupons) {
	t.Helper()
	pc, cp := &fakePostcards{}, &fakeCoupons{}
	srv := httptest.NewServer(NewRouter(Deps{
		Postcards:    pc,
		Coupons:      cp,
		DB:           db,
		Monthly:      ledger.MonthlyTerms{Prefix: "XLWelcome", MaxRedemptions: 500, DiscountPercent: 100},
		AdminToken:   "s3cret",
		MaxBodyBytes: 1 << 10,
		Logger:       zerolog.Nop(),
	}))
	t.Cleanup(srv.Close)
	return srv, pc, cp
}

func do(t *testing.T, method, url, body string, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestHealth(t *testing.T) {
	srv, _, _ := newServer(t, pinger{})
	if resp, body := do(t, http.MethodGet, srv.URL+"/health", "", nil); resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("health = %d %q, want 200 ok", resp.StatusCode, body)
	}

	down, _, _ := newServer(t, pinger{err: errors.New("connection refused")})
	if resp, _ := do(t, http.MethodGet, down.URL+"/health", "", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("health with db down = %d, want 503", resp.StatusCode)
	}
}

func TestGenerateCompletePostcard(t *testing.T) {
	srv, _, _ := newServer(t, nil)
	resp, body := do(t, http.MethodPost, srv.URL+"/postcards/generate-complete-postcard", `{"transactionId":"tx-1","postcardSize":"regular"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", resp.StatusCode, body)
	}
	var res models.PostcardResult
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Success || res.FrontURL != "f" || res.BackURL != "b" {
		t.Fatalf("result = %+v", res)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestGenerationErrorsKeepResultShape(t *testing.T) {
	srv, _, _ := newServer(t, nil)
	resp, body := do(t, http.MethodPost, srv.URL+"/postcards/generate-complete-postcard", `{"transactionId":"tx-1","postcardSize":"jumbo"}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var res models.PostcardResult
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Success || res.Field != "postcardSize" || res.Stage != "validation" {
		t.Fatalf("result = %+v", res)
	}

	resp, body = do(t, http.MethodPost, srv.URL+"/postcards/generate-complete-postcard", `{not json`, nil)
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(string(body), `"field":"body"`) {
		t.Fatalf("bad json = %d %s", resp.StatusCode, body)
	}

	big := `{"message":"` + strings.Repeat("x", 2048) + `"}`
	if resp, _ := do(t, http.MethodPost, srv.URL+"/postcards/generate-complete-postcard", big, nil); resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body = %d, want 413", resp.StatusCode)
	}
}

func TestProcessFreeReasonsAreDistinct(t *testing.T) {
	tests := []struct {
		err    error
		status int
		reason string
	}{
		{apperr.Wrap(apperr.CodeCouponNotFound, "code X does not exist", nil), http.StatusNotFound, "not_found"},
		{apperr.Wrap(apperr.CodeCouponExhausted, "code X is exhausted", nil), http.StatusGone, "exhausted"},
		{apperr.Wrap(apperr.CodeCouponExpired, "code X has expired", nil), http.StatusGone, "expired"},
		{apperr.Wrap(apperr.CodeCouponDeactivated, "code X is deactivated", nil), http.StatusGone, "deactivated"},
		{apperr.Wrap(apperr.CodeCouponAlreadyRedeemed, "already redeemed", nil), http.StatusConflict, "already_redeemed"},
	}
	srv, pc, _ := newServer(t, nil)
	for _, path := range []string{"/postcards/process-free-postcard", "/process-free-postcard"} {
		for _, tt := range tests {
			pc.freeErr = tt.err
			resp, body := do(t, http.MethodPost, srv.URL+path, `{"code":"X","transactionId":"tx-9","customerEmail":"a@b.co"}`, nil)
			var res models.PostcardResult
			_ = json.Unmarshal(body, &res)
			if resp.StatusCode != tt.status || res.Reason != tt.reason {
				t.Fatalf("%s %s = %d %q, want %d %q", path, tt.reason, resp.StatusCode, res.Reason, tt.status, tt.reason)
			}
		}
	}
	if pc.lastFree.Code != "X" || pc.lastFree.CustomerEmail != "a@b.co" || pc.lastFree.TransactionID != "tx-9" {
		t.Fatalf("decoded request = %+v", pc.lastFree)
	}
}

func TestValidatePromoCode(t *testing.T) {
	srv, _, _ := newServer(t, nil)
	for _, path := range []string{"/coupons/validate-promo-code", "/validate-promo-code"} {
		resp, body := do(t, http.MethodPost, srv.URL+path, `{"code":"GOOD"}`, nil)
		var v models.ValidationResponse
		if err := json.Unmarshal(body, &v); err != nil || resp.StatusCode != http.StatusOK || !v.Valid || v.DiscountPercent != 100 {
			t.Fatalf("%s GOOD = %d %s", path, resp.StatusCode, body)
		}
		resp, body = do(t, http.MethodPost, srv.URL+path, `{"code":"SPENT"}`, nil)
		v = models.ValidationResponse{}
		if err := json.Unmarshal(body, &v); err != nil || resp.StatusCode != http.StatusOK || v.Valid || v.Reason != "exhausted" {
			t.Fatalf("%s SPENT = %d %s", path, resp.StatusCode, body)
		}
	}
}

func TestCouponStatusAndAnalytics(t *testing.T) {
	srv, _, _ := newServer(t, nil)
	if resp, _ := do(t, http.MethodGet, srv.URL+"/coupons/coupon-status?code=GOOD", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("status GOOD = %d", resp.StatusCode)
	}
	if resp, body := do(t, http.MethodGet, srv.URL+"/coupons/coupon-status?code=NOPE", "", nil); resp.StatusCode != http.StatusNotFound || !strings.Contains(string(body), "not_found") {
		t.Fatalf("status NOPE = %d %s", resp.StatusCode, body)
	}
	if resp, body := do(t, http.MethodGet, srv.URL+"/coupons/coupon-status", "", nil); resp.StatusCode != http.StatusBadRequest || !strings.Contains(string(body), `"field":"code"`) {
		t.Fatalf("status without code = %d %s", resp.StatusCode, body)
	}
	resp, body := do(t, http.MethodGet, srv.URL+"/coupons/coupon-analytics", "", nil)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != `{"codes":[]}` {
		t.Fatalf("analytics = %d %s", resp.StatusCode, body)
	}
}

func TestTransactionStatusAndPayment(t *testing.T) {
	srv, _, _ := newServer(t, nil)
	if resp, _ := do(t, http.MethodGet, srv.URL+"/postcards/transaction-status/tx-1", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("status tx-1 = %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodGet, srv.URL+"/postcards/transaction-status/tx-2", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status tx-2 = %d, want 404", resp.StatusCode)
	}
	resp, body := do(t, http.MethodPost, srv.URL+"/payments/payment-confirmed", `{"transactionId":"tx-1","paymentReference":"pi_1"}`, nil)
	var sub models.Submission
	if err := json.Unmarshal(body, &sub); err != nil || resp.StatusCode != http.StatusOK || sub.Status != models.StatusPaid {
		t.Fatalf("payment confirmed = %d %s", resp.StatusCode, body)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	srv, _, cp := newServer(t, nil)
	if resp, _ := do(t, http.MethodPost, srv.URL+"/admin/coupons/monthly", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodPost, srv.URL+"/admin/coupons/monthly", "", map[string]string{"Authorization": "Bearer wrong"}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d, want 401", resp.StatusCode)
	}
	if cp.monthlyCalls != 0 {
		t.Fatalf("unauthorised request reached the ledger")
	}

	auth := map[string]string{"Authorization": "Bearer s3cret"}
	resp, body := do(t, http.MethodPost, srv.URL+"/admin/coupons/monthly", "", auth)
	if resp.StatusCode != http.StatusCreated || !strings.Contains(string(body), "XLWelcomeNov") {
		t.Fatalf("monthly = %d %s", resp.StatusCode, body)
	}
	if resp, _ := do(t, http.MethodPost, srv.URL+"/admin/coupons/monthly", "", auth); resp.StatusCode != http.StatusOK {
		t.Fatalf("repeat monthly = %d, want 200", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodPost, srv.URL+"/admin/coupons/PRESS/deactivate", "", auth); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("deactivate = %d, want 204", resp.StatusCode)
	}
	if active, ok := cp.active["PRESS"]; !ok || active {
		t.Fatalf("PRESS active = %v, %v; want deactivated", active, ok)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newServer(t, nil)
	do(t, http.MethodGet, srv.URL+"/postcards/transaction-status/tx-1", "", nil)
	resp, body := do(t, http.MethodGet, srv.URL+"/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `route="/postcards/transaction-status/{transactionId}"`) {
		t.Fatalf("metrics missing route pattern label")
	}
}

func TestMetricsCollapseUnmatchedPaths(t *testing.T) {
	srv, _, _ := newServer(t, nil)
	for _, path := range []string{"/wp-login.php", "/no-such-page-7f3a", "/postcards/nope/deeper"} {
		if resp, _ := do(t, http.MethodGet, srv.URL+path, "", nil); resp.StatusCode != http.StatusNotFound {
			t.Fatalf("GET %s = %d, want 404", path, resp.StatusCode)
		}
	}
	_, body := do(t, http.MethodGet, srv.URL+"/metrics", "", nil)
	if strings.Contains(string(body), "no-such-page-7f3a") || strings.Contains(string(body), "wp-login") {
		t.Fatalf("metrics carry a raw request path as a label")
	}
	if !strings.Contains(string(body), `route="unmatched"`) {
		t.Fatalf("metrics missing unmatched route label")
	}
}

func TestArtifactsMount(t *testing.T) {
	files := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	})
	srv := httptest.NewServer(NewRouter(Deps{Artifacts: files, Logger: zerolog.Nop(), Postcards: &fakePostcards{}, Coupons: &fakeCoupons{}}))
	defer srv.Close()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(srv.URL + "/artifacts/tx-1/back-abc.jpg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "/tx-1/back-abc.jpg" {
		t.Fatalf("artifact path = %q", body)
	}
}
