package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xlpostcards/postcard-service/internal/apperr"
	"github.com/xlpostcards/postcard-service/internal/models"
	"github.com/xlpostcards/postcard-service/internal/service"
)

// Postcards is the orchestrator as seen by the HTTP layer.
type Postcards interface {
	Generate(ctx context.Context, req models.PostcardRequest) (models.PostcardResult, error)
	GenerateBack(ctx context.Context, req models.BackPreviewRequest) (models.PostcardResult, error)
	ProcessFree(ctx context.Context, req models.FreePostcardRequest) (models.PostcardResult, error)
	ConfirmPayment(ctx context.Context, req models.PaymentConfirmation) (*models.Submission, error)
	TransactionStatus(ctx context.Context, transactionID string) (*models.Submission, error)
}

type PostcardHandler struct {
	svc          Postcards
	maxBodyBytes int64
}

func NewPostcardHandler(svc Postcards, maxBodyBytes int64) *PostcardHandler {
	return &PostcardHandler{svc: svc, maxBodyBytes: maxBodyBytes}
}

// GenerateComplete handles POST /postcards/generate-complete-postcard
func (h *PostcardHandler) GenerateComplete(w http.ResponseWriter, r *http.Request) {
	var req models.PostcardRequest
	if status, err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeBodyError(w, status, err)
		return
	}
	res, err := h.svc.Generate(r.Context(), req)
	writeResult(w, res, err)
}

// GenerateBack handles POST /postcards/generate-postcard-back
func (h *PostcardHandler) GenerateBack(w http.ResponseWriter, r *http.Request) {
	var req models.BackPreviewRequest
	if status, err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeBodyError(w, status, err)
		return
	}
	res, err := h.svc.GenerateBack(r.Context(), req)
	writeResult(w, res, err)
}

// ProcessFree handles POST /postcards/process-free-postcard
func (h *PostcardHandler) ProcessFree(w http.ResponseWriter, r *http.Request) {
	var req models.FreePostcardRequest
	if status, err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeBodyError(w, status, err)
		return
	}
	res, err := h.svc.ProcessFree(r.Context(), req)
	writeResult(w, res, err)
}

// TransactionStatus handles GET /postcards/transaction-status/{transactionId}
func (h *PostcardHandler) TransactionStatus(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.TransactionStatus(r.Context(), chi.URLParam(r, "transactionId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// PaymentConfirmed handles POST /payments/payment-confirmed
func (h *PostcardHandler) PaymentConfirmed(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentConfirmation
	if status, err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeJSON(w, status, ErrorResponse{Error: apperr.PublicMessage(err), Reason: apperr.CodeOf(err).Reason(), Field: "body"})
		return
	}
	sub, err := h.svc.ConfirmPayment(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// writeResult sends the generation result; failures keep the same shape.
func writeResult(w http.ResponseWriter, res models.PostcardResult, err error) {
	status := http.StatusOK
	if err != nil {
		status = apperr.CodeOf(err).HTTPStatus()
	}
	writeJSON(w, status, res)
}

func writeBodyError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, models.PostcardResult{
		Error:  apperr.PublicMessage(err),
		Reason: apperr.CodeOf(err).Reason(),
		Field:  apperr.FieldOf(err),
		Stage:  service.StageValidation,
	})
}
