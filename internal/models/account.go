package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrackedAccount is an on-chain address whose balance is mirrored internally
type TrackedAccount struct {
	Address         string          `json:"address"`
	OwningUserID    *string         `json:"owning_user_id,omitempty"` // nil for system accounts
	RecordedBalance decimal.Decimal `json:"recorded_balance"`
	AssetSnapshot   []AssetBalance  `json:"asset_snapshot"`
	IsActive        bool            `json:"is_active"`
	LastSyncedAt    *time.Time      `json:"last_synced_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// AssetBalance is one asset amount of an account snapshot
type AssetBalance struct {
	Asset    string          `json:"asset"`
	Contract string          `json:"contract,omitempty"` // empty for the native asset
	Amount   decimal.Decimal `json:"amount"`
}

// ChainBalance is the ledger's view of an address at the latest block
type ChainBalance struct {
	Native      decimal.Decimal `json:"native"`
	Assets      []AssetBalance  `json:"assets"`
	BlockNumber uint64          `json:"block_number"`
}
