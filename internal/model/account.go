package model

import "github.com/shopspring/decimal"

// AccountSnapshot is the margin state of one broker account at a point in time.
type AccountSnapshot struct {
	AccountID       string          `json:"account_id"`
	Equity          decimal.Decimal `json:"equity"`
	MarginUsed      decimal.Decimal `json:"margin_used"`
	MarginAvailable decimal.Decimal `json:"margin_available"`
}

// MarginUtilizationPct returns margin_used / equity as a percentage, the
// primary risk throttle of the decision engine. Zero equity maps to zero.
func (a AccountSnapshot) MarginUtilizationPct() decimal.Decimal {
	if a.Equity.IsZero() {
		return decimal.Zero
	}
	return a.MarginUsed.Div(a.Equity).Mul(decimal.NewFromInt(100))
}
