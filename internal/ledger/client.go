package ledger

import (
	"context"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
)

// Kind tells which variant a Lookup holds
type Kind int

const (
	KindFound Kind = iota + 1
	KindNotFound
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindFound:
		return "found"
	case KindNotFound:
		return "not_found"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Lookup is the result of a balance query. Exactly one of the variants is set:
// Found carries Balance, NotFound carries nothing, Failed carries Err.
type Lookup struct {
	Kind    Kind
	Balance *models.ChainBalance
	Err     error
}

// Found returns a lookup holding balance
func Found(balance *models.ChainBalance) Lookup {
	return Lookup{Kind: KindFound, Balance: balance}
}

// NotFound returns a lookup for an address the ledger has never seen
func NotFound() Lookup {
	return Lookup{Kind: KindNotFound}
}

// Failed returns a lookup for any failure other than not-found
func Failed(err error) Lookup {
	return Lookup{Kind: KindFailed, Err: err}
}

// Client queries the authoritative ledger for account balances
type Client interface {
	GetBalance(ctx context.Context, address string) Lookup
}
