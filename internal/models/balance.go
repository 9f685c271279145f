package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset describes a currency known to the internal ledger
type Asset struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Decimals  int32           `json:"decimals"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
	IsNative  bool            `json:"is_native"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// InternalBalanceRecord is a user's application-level balance for one asset
type InternalBalanceRecord struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	AssetID   string          `json:"asset_id"`
	Amount    decimal.Decimal `json:"amount"`
	Valuation decimal.Decimal `json:"valuation"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Valuate returns the value of amount at the asset's price
func (a *Asset) Valuate(amount decimal.Decimal) decimal.Decimal {
	return a.PriceUSD.Mul(amount)
}
