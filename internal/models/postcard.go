package models

import (
	"strings"
	"time"

	"github.com/xlpostcards/postcard-service/internal/apperr"
)

// RecipientInfo is the mailing address printed on the back.
type RecipientInfo struct {
	To           string `json:"to"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	Zipcode      string `json:"zipcode"`
}

// Validate requires every field except AddressLine2.
func (r RecipientInfo) Validate() error {
	required := []struct{ field, value string }{
		{"recipientInfo.to", r.To},
		{"recipientInfo.addressLine1", r.AddressLine1},
		{"recipientInfo.city", r.City},
		{"recipientInfo.state", r.State},
		{"recipientInfo.zipcode", r.Zipcode},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return apperr.Invalid(f.field, f.field+" is required")
		}
	}
	return nil
}

// Lines returns the address block lines; an empty line2 is omitted.
func (r RecipientInfo) Lines() []string {
	lines := []string{strings.TrimSpace(r.To), strings.TrimSpace(r.AddressLine1)}
	if l2 := strings.TrimSpace(r.AddressLine2); l2 != "" {
		lines = append(lines, l2)
	}
	lines = append(lines, strings.TrimSpace(r.City)+", "+strings.TrimSpace(r.State)+" "+strings.TrimSpace(r.Zipcode))
	return lines
}

// OneLine is the form stored on distribution rows.
func (r RecipientInfo) OneLine() string {
	return strings.Join(r.Lines()[1:], ", ")
}

// PostcardRequest is the inbound generation payload. FrontImages feeds
// multi-photo templates; each entry is a URL or data URI.
type PostcardRequest struct {
	Message           string        `json:"message"`
	RecipientInfo     RecipientInfo `json:"recipientInfo"`
	PostcardSize      string        `json:"postcardSize"`
	TransactionID     string        `json:"transactionId"`
	ReturnAddressText string        `json:"returnAddressText,omitempty"`
	FrontImageURI     string        `json:"frontImageUri,omitempty"`
	FrontImageBase64  string        `json:"frontImageBase64,omitempty"`
	FrontImages       []string      `json:"frontImages,omitempty"`
	Template          string        `json:"template,omitempty"`
	UserEmail         string        `json:"userEmail,omitempty"`
}

// FreePostcardRequest is a generation request paid for with a promo code.
type FreePostcardRequest struct {
	PostcardRequest
	Code          string `json:"code"`
	CustomerEmail string `json:"customerEmail"`
}

// BackPreviewRequest renders only the back, optionally at a preview
// resolution that is a uniform scale of the print canvas.
type BackPreviewRequest struct {
	PostcardRequest
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// PaymentConfirmation is sent once the client's payment has cleared.
type PaymentConfirmation struct {
	TransactionID    string `json:"transactionId"`
	PaymentReference string `json:"paymentReference"`
	UserEmail        string `json:"userEmail,omitempty"`
}

// PostcardResult is returned for every generation attempt.
type PostcardResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId,omitempty"`
	FrontURL      string `json:"frontUrl,omitempty"`
	BackURL       string `json:"backUrl,omitempty"`
	PromoCode     string `json:"promoCode,omitempty"`
	Truncated     bool   `json:"truncated,omitempty"`
	Redeemed      bool   `json:"redeemed,omitempty"`
	Error         string `json:"error,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Field         string `json:"field,omitempty"`
	Stage         string `json:"stage,omitempty"`
}

// Submission statuses.
const (
	StatusReadyForPayment = "ready_for_payment"
	StatusPaid            = "paid"
	StatusRedeemedFree    = "redeemed_free"
)

// Submission is the orchestrator's record of a generated postcard.
type Submission struct {
	TransactionID    string    `json:"transactionId"`
	PostcardSize     string    `json:"postcardSize"`
	FrontURL         string    `json:"frontUrl,omitempty"`
	BackURL          string    `json:"backUrl"`
	Status           string    `json:"status"`
	UserEmail        string    `json:"userEmail,omitempty"`
	PromoCode        string    `json:"promoCode,omitempty"`
	PaymentReference string    `json:"paymentReference,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
