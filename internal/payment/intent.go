package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned for negative prices.
var ErrInvalidAmount = errors.New("price must not be negative")

const defaultCurrency = "usd"

// Intent is the client-facing handle of a payment intent.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"clientSecret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// Gateway creates payment intents for an amount derived from a price.
type Gateway interface {
	CreateIntent(ctx context.Context, price decimal.Decimal) (Intent, error)
}

// StubGateway fabricates intents without contacting any payment provider.
type StubGateway struct {
	Currency string
}

// CreateIntent converts price to minor units (cents, half-up) and returns a stub intent.
func (g StubGateway) CreateIntent(_ context.Context, price decimal.Decimal) (Intent, error) {
	if price.IsNegative() {
		return Intent{}, ErrInvalidAmount
	}

	currency := g.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	id := "pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	return Intent{
		ID:           id,
		ClientSecret: id + "_secret_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Amount:       MinorUnits(price),
		Currency:     currency,
	}, nil
}

// MinorUnits converts a major-unit price to an integer count of cents.
func MinorUnits(price decimal.Decimal) int64 {
	return price.Shift(2).Round(0).IntPart()
}
