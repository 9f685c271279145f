package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/config"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/metrics"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
	"github.com/smartdevs17/rsk-balance-reconciler/pkg/utils"
)

// weiExponent converts wei to RBTC
const weiExponent = -18

// ChainReader is the subset of node RPCs used to read account state
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, block *big.Int) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, block *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error)
}

// RSKLedger reads balances from an RSK node behind a circuit breaker and a rate limiter
type RSKLedger struct {
	reader         ChainReader
	breaker        *gobreaker.CircuitBreaker
	limiter        *rate.Limiter
	nativeAsset    string
	tokens         []Token
	metricsManager *metrics.Manager
	logger         *logrus.Entry
}

// Option configures an RSKLedger
type Option func(*RSKLedger)

// WithTokens adds ERC-20 contracts to every snapshot
func WithTokens(tokens ...Token) Option {
	return func(l *RSKLedger) {
		l.tokens = append(l.tokens, tokens...)
	}
}

// WithMetrics records lookups in metricsManager
func WithMetrics(metricsManager *metrics.Manager) Option {
	return func(l *RSKLedger) {
		l.metricsManager = metricsManager
	}
}

// TokensFromConfig converts configured token entries
func TokensFromConfig(entries []config.TokenConfig) []Token {
	tokens := make([]Token, 0, len(entries))
	for _, entry := range entries {
		tokens = append(tokens, Token{
			Symbol:   entry.Symbol,
			Contract: utils.ToCommonAddress(entry.Address),
			Decimals: entry.Decimals,
		})
	}
	return tokens
}

// NewRSKLedger creates a ledger client over reader
func NewRSKLedger(reader ChainReader, rskCfg *config.RSKConfig, nativeAsset string, opts ...Option) *RSKLedger {
	l := &RSKLedger{
		reader:      reader,
		nativeAsset: nativeAsset,
		logger:      utils.ComponentLogger("ledger"),
	}

	limit := rate.Inf
	if rskCfg.RateLimit > 0 {
		limit = rate.Limit(rskCfg.RateLimit)
	}
	burst := rskCfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	l.limiter = rate.NewLimiter(limit, burst)

	threshold := rskCfg.Breaker.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rsk-ledger",
		MaxRequests: rskCfg.Breaker.MaxRequests,
		Interval:    rskCfg.Breaker.Interval,
		Timeout:     rskCfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Ledger circuit breaker changed state")
			if l.metricsManager != nil {
				l.metricsManager.GetPrometheusMetrics().UpdateBreakerState(int(to))
			}
		},
	})

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// accountState is the breaker's result; a nil balance means the address is unknown
type accountState struct {
	balance *models.ChainBalance
}

// GetBalance returns the native balance and token snapshot of address
func (l *RSKLedger) GetBalance(ctx context.Context, address string) Lookup {
	start := time.Now()
	lookup := l.getBalance(ctx, address)
	if l.metricsManager != nil {
		l.metricsManager.GetPrometheusMetrics().RecordLedgerLookup(lookup.Kind.String(), time.Since(start))
	}
	return lookup
}

func (l *RSKLedger) getBalance(ctx context.Context, address string) Lookup {
	if !utils.IsValidAddress(address) {
		return Failed(utils.NewAppError(utils.ErrCodeValidation, "Invalid address", address))
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return Failed(utils.WrapAppError(utils.ErrCodeLedger, "Rate limiter wait aborted", err))
	}

	result, err := l.breaker.Execute(func() (interface{}, error) {
		balance, err := l.readAccount(ctx, utils.ToCommonAddress(address))
		if err != nil {
			return nil, err
		}
		return accountState{balance: balance}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Failed(utils.WrapAppError(utils.ErrCodeLedger, "Ledger circuit breaker open", err))
		}
		return Failed(err)
	}

	state := result.(accountState)
	if state.balance == nil {
		return NotFound()
	}
	return Found(state.balance)
}

// readAccount reads the account at one block so the snapshot is consistent.
// It returns a nil balance when the address has no balance, nonce, code or tokens.
func (l *RSKLedger) readAccount(ctx context.Context, account common.Address) (*models.ChainBalance, error) {
	blockNumber, err := l.reader.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	block := new(big.Int).SetUint64(blockNumber)

	wei, err := l.reader.BalanceAt(ctx, account, block)
	if err != nil {
		return nil, err
	}

	empty := wei.Sign() == 0
	if empty {
		nonce, err := l.reader.NonceAt(ctx, account, block)
		if err != nil {
			return nil, err
		}
		code, err := l.reader.CodeAt(ctx, account, block)
		if err != nil {
			return nil, err
		}
		empty = nonce == 0 && len(code) == 0
	}

	native := decimal.NewFromBigInt(wei, weiExponent)
	balance := &models.ChainBalance{
		Native:      native,
		Assets:      []models.AssetBalance{{Asset: l.nativeAsset, Amount: native}},
		BlockNumber: blockNumber,
	}

	for _, token := range l.tokens {
		amount, err := tokenBalance(ctx, l.reader, token, account, block)
		if err != nil {
			return nil, err
		}
		if !amount.IsZero() {
			empty = false
		}
		balance.Assets = append(balance.Assets, models.AssetBalance{
			Asset:    token.Symbol,
			Contract: utils.NormalizeAddress(token.Contract.Hex()),
			Amount:   amount,
		})
	}

	if empty {
		l.logger.WithFields(logrus.Fields{
			"address": utils.NormalizeAddress(account.Hex()),
			"block":   blockNumber,
		}).Debug("Address has no state on chain")
		return nil, nil
	}

	return balance, nil
}
