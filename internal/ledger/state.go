package ledger

import (
	"fmt"
	"time"

	"github.com/xlpostcards/postcard-service/internal/apperr"
	"github.com/xlpostcards/postcard-service/internal/models"
)

// State is the position of a code in its lifecycle. Every state other than
// StateActive is terminal.
type State string

const (
	StateActive      State = "active"
	StateExhausted   State = "exhausted"
	StateExpired     State = "expired"
	StateDeactivated State = "deactivated"
)

// StateOf classifies a code at the given instant. Exhaustion wins over the
// other terminal states so a full code always reports exhausted.
func StateOf(m models.CouponMeta, now time.Time) State {
	switch {
	case m.TimesRedeemed >= m.MaxRedemptions:
		return StateExhausted
	case m.ExpiresAt != nil && !now.Before(*m.ExpiresAt):
		return StateExpired
	case !m.IsActive:
		return StateDeactivated
	default:
		return StateActive
	}
}

// Err returns the redemption error for a non-active state.
func (s State) Err(code string) error {
	switch s {
	case StateExhausted:
		return apperr.Wrap(apperr.CodeCouponExhausted, fmt.Sprintf("code %s has no redemptions left", code), nil)
	case StateExpired:
		return apperr.Wrap(apperr.CodeCouponExpired, fmt.Sprintf("code %s has expired", code), nil)
	case StateDeactivated:
		return apperr.Wrap(apperr.CodeCouponDeactivated, fmt.Sprintf("code %s is deactivated", code), nil)
	default:
		return nil
	}
}

func (s State) reason() string {
	return apperr.CodeOf(s.Err("")).Reason()
}
