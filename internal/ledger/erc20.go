package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var erc20ABI = mustParseABI(erc20BalanceOfABI)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("invalid ERC-20 ABI: %v", err))
	}
	return parsed
}

// Token is an ERC-20 contract included in balance snapshots
type Token struct {
	Symbol   string
	Contract common.Address
	Decimals int32
}

// tokenBalance reads owner's balanceOf on token at block
func tokenBalance(ctx context.Context, reader ChainReader, token Token, owner common.Address, block *big.Int) (decimal.Decimal, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pack balanceOf: %w", err)
	}

	contract := token.Contract
	out, err := reader.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, block)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balanceOf %s: %w", token.Symbol, err)
	}

	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unpack balanceOf %s: %w", token.Symbol, err)
	}
	if len(values) != 1 {
		return decimal.Zero, fmt.Errorf("balanceOf %s returned %d values", token.Symbol, len(values))
	}

	raw, ok := values[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("balanceOf %s returned %T", token.Symbol, values[0])
	}

	return decimal.NewFromBigInt(raw, -token.Decimals), nil
}
