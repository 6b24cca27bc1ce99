package models

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceQuote is the USD price of the native currency. Fallback is true when
// the feed failed and the zero price is in effect, so monitoring can tell an
// authoritative zero from a degraded feed.
type PriceQuote struct {
	USD      decimal.Decimal
	Fallback bool
}

// PriceSource returns the current USD price of the native currency.
// A failed lookup degrades to a zero-price fallback quote, never an error.
type PriceSource interface {
	NativeUSD(ctx context.Context) PriceQuote
}
