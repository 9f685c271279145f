package connection

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/metrics"
	"github.com/smartdevs17/rsk-balance-reconciler/pkg/utils"
)

// RSKClient issues the account-state RPCs the ledger needs through the pool
type RSKClient struct {
	pool           *ConnectionPool
	metricsManager *metrics.Manager
}

// NewRSKClient creates a new RSK client wrapper
func NewRSKClient(pool *ConnectionPool, metricsManager *metrics.Manager) *RSKClient {
	return &RSKClient{
		pool:           pool,
		metricsManager: metricsManager,
	}
}

// BlockNumber returns the latest block number
func (rc *RSKClient) BlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := rc.call(ctx, "eth_blockNumber", func(client *ethclient.Client) error {
		var err error
		number, err = client.BlockNumber(ctx)
		return err
	})
	return number, err
}

// BalanceAt returns the wei balance of account at block (nil for latest)
func (rc *RSKClient) BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	var balance *big.Int
	err := rc.call(ctx, "eth_getBalance", func(client *ethclient.Client) error {
		var err error
		balance, err = client.BalanceAt(ctx, account, block)
		return err
	})
	return balance, err
}

// NonceAt returns the transaction count of account at block
func (rc *RSKClient) NonceAt(ctx context.Context, account common.Address, block *big.Int) (uint64, error) {
	var nonce uint64
	err := rc.call(ctx, "eth_getTransactionCount", func(client *ethclient.Client) error {
		var err error
		nonce, err = client.NonceAt(ctx, account, block)
		return err
	})
	return nonce, err
}

// CodeAt returns the contract code of account at block
func (rc *RSKClient) CodeAt(ctx context.Context, account common.Address, block *big.Int) ([]byte, error) {
	var code []byte
	err := rc.call(ctx, "eth_getCode", func(client *ethclient.Client) error {
		var err error
		code, err = client.CodeAt(ctx, account, block)
		return err
	})
	return code, err
}

// CallContract executes a read-only contract call
func (rc *RSKClient) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	var out []byte
	err := rc.call(ctx, "eth_call", func(client *ethclient.Client) error {
		var err error
		out, err = client.CallContract(ctx, msg, block)
		return err
	})
	return out, err
}

// HealthCheck checks every connection in the pool
func (rc *RSKClient) HealthCheck(ctx context.Context) error {
	_, err := rc.pool.GetHealthyManager(ctx)
	return err
}

// call picks a manager, runs fn and records the request
func (rc *RSKClient) call(ctx context.Context, method string, fn func(*ethclient.Client) error) error {
	start := time.Now()

	manager := rc.pool.GetManager()
	if manager == nil {
		return utils.NewAppError(utils.ErrCodeConnection, "Connection pool is closed", method)
	}

	endpoint := manager.CurrentURL()
	client, err := manager.GetClientWithContext(ctx)
	if err != nil {
		rc.record(endpoint, method, "error", start)
		return err
	}

	if err := fn(client); err != nil {
		// A cancelled caller says nothing about the node
		if ctx.Err() == nil {
			manager.MarkUnhealthy(err)
		}
		rc.record(endpoint, method, "error", start)
		return utils.WrapAppError(utils.ErrCodeLedger, "RPC "+method+" failed", err)
	}

	rc.record(endpoint, method, "success", start)
	return nil
}

func (rc *RSKClient) record(endpoint, method, status string, start time.Time) {
	if rc.metricsManager != nil {
		rc.metricsManager.GetPrometheusMetrics().RecordRPCRequest(endpoint, method, status, time.Since(start))
	}
}
