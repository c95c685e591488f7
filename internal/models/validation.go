package models

// ValidationResponse answers "may this code be redeemed right now".
type ValidationResponse struct {
	Valid           bool   `json:"valid"`
	Code            string `json:"code,omitempty"`
	DiscountPercent int    `json:"discountPercent,omitempty"`
	Remaining       int    `json:"remaining,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// RedeemRequest consumes one unit of a code's capacity.
type RedeemRequest struct {
	Code             string
	TransactionID    string
	CustomerEmail    string
	ValueCents       int64
	PaymentReference string
}

// CodeStatus reports the state machine position of a code.
type CodeStatus struct {
	Code           string `json:"code"`
	State          string `json:"state"`
	MaxRedemptions int    `json:"maxRedemptions"`
	TimesRedeemed  int    `json:"timesRedeemed"`
	Remaining      int    `json:"remaining"`
	ExpiresAt      string `json:"expiresAt,omitempty"`
}
