package models

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// FeeQuote carries the fee fields resolved from the active endpoint.
// Either the fee-market pair or the legacy GasPrice is populated, never both.
// Callers must branch on Dynamic().
type FeeQuote struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	GasPrice             *big.Int
}

// Dynamic reports whether the quote carries fee-market fields.
func (q *FeeQuote) Dynamic() bool {
	return q.MaxFeePerGas != nil
}

// EffectiveGasPrice returns the per-gas price usable for reserve arithmetic
// regardless of which fee fields are populated.
func (q *FeeQuote) EffectiveGasPrice() *big.Int {
	if q.Dynamic() {
		return q.MaxFeePerGas
	}
	if q.GasPrice != nil {
		return q.GasPrice
	}
	return big.NewInt(0)
}

// ChainGateway represents a service that interacts with the blockchain
// through one or more interchangeable RPC endpoints.
type ChainGateway interface {
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, addr common.Address) (*big.Int, error)

	// TokenDecimals returns the tracked token's decimal precision, cached
	// after the first successful read. The second return is false when the
	// value is the fixed fallback rather than read from the contract.
	TokenDecimals(ctx context.Context) (uint8, bool)

	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)

	SuggestFees(ctx context.Context) (*FeeQuote, error)

	// EstimateTokenTransfer and EstimateApproveZero are best-effort; ok is
	// false when estimation failed and the caller should proceed without a
	// precomputed limit.
	EstimateTokenTransfer(ctx context.Context, to common.Address, amount *big.Int) (uint64, bool)
	EstimateApproveZero(ctx context.Context, spender common.Address) (uint64, bool)

	TransferNative(ctx context.Context, to common.Address, amount *big.Int, fees *FeeQuote) (common.Hash, error)
	TransferToken(ctx context.Context, to common.Address, amount *big.Int, gasLimit uint64, fees *FeeQuote) (common.Hash, error)
	ApproveZero(ctx context.Context, spender common.Address, gasLimit uint64, fees *FeeQuote) (common.Hash, error)

	// WaitMined blocks until the transaction has one confirmation.
	WaitMined(ctx context.Context, hash common.Hash) error

	// SubscribeTransferLogs blocks, invoking handler once per token Transfer
	// log whose recipient is the given address, until the subscription dies.
	SubscribeTransferLogs(ctx context.Context, recipient common.Address, handler func(types.Log)) error

	// SubscribePendingTransactions blocks, invoking handler once per newly
	// observed pending transaction, until the subscription dies.
	SubscribePendingTransactions(ctx context.Context, handler func(*types.Transaction)) error
}
