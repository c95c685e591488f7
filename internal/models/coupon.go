package models

import "time"

// CouponCampaign groups codes that share discount terms and a redemption cap.
type CouponCampaign struct {
	ID              int64
	Name            string
	Type            string
	Description     string
	MaxRedemptions  int
	DiscountPercent int
	FirstTimeOnly   bool
	CreatedAt       time.Time
	ExpiresAt       *time.Time
	IsActive        bool
}

type CouponCode struct {
	ID             int64
	CampaignID     int64
	Code           string
	MaxRedemptions int
	TimesRedeemed  int
	ExpiresAt      *time.Time
	IsActive       bool
	CreatedAt      time.Time
}

// CouponMeta is the read model used by validation: the code joined with the
// campaign terms that apply to it.
type CouponMeta struct {
	CouponCode
	CampaignName    string
	DiscountPercent int
	FirstTimeOnly   bool
}

// Remaining is the redemption capacity left on the code.
func (m CouponMeta) Remaining() int {
	if n := m.MaxRedemptions - m.TimesRedeemed; n > 0 {
		return n
	}
	return 0
}

// CouponDistribution records that a code was printed on a postcard.
type CouponDistribution struct {
	ID               int64
	CouponCodeID     int64
	TransactionID    string
	RecipientName    string
	RecipientAddress string
	SentAt           time.Time
	PostcardSize     string
}

// CouponRedemption records that a code was consumed against an order.
type CouponRedemption struct {
	ID                   int64
	CouponCodeID         int64
	TransactionID        string
	CustomerEmail        string
	RedeemedAt           time.Time
	RedemptionValueCents int64
	PaymentReference     string
}

type Customer struct {
	ID           int64
	Email        string
	CreatedAt    time.Time
	FirstOrderAt time.Time
	LastOrderAt  time.Time
	TotalOrders  int
}

// CodeAnalytics summarises one code for the analytics endpoint.
type CodeAnalytics struct {
	Code             string `json:"code"`
	CampaignName     string `json:"campaignName"`
	MaxRedemptions   int    `json:"maxRedemptions"`
	TimesRedeemed    int    `json:"timesRedeemed"`
	Distributions    int    `json:"distributions"`
	Redemptions      int    `json:"redemptions"`
	RedeemedValueCts int64  `json:"redeemedValueCents"`
}
