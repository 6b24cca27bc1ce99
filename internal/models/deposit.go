package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// AssetKind distinguishes the two tracked asset classes.
type AssetKind string

const (
	AssetNative AssetKind = "native"
	AssetToken  AssetKind = "token"
)

// TriggerSource identifies which driver produced a detection.
type TriggerSource string

const (
	SourceWebsocket TriggerSource = "websocket"
	SourcePoll      TriggerSource = "poll"
)

// BalanceSnapshot is the last-observed balance pair, in atomic units.
// Owned exclusively by the balance tracker.
type BalanceSnapshot struct {
	Native *big.Int
	Token  *big.Int
}

// DepositEvent is constructed per detection and consumed immediately by the
// emergency handler.
type DepositEvent struct {
	Kind     AssetKind
	Amount   *big.Int
	USDValue decimal.Decimal
	Source   TriggerSource
	Reason   string
}

// SweepResult is the per-asset outcome of an emergency sweep.
type SweepResult struct {
	TxHash *common.Hash
}

func (r SweepResult) String() string {
	if r.TxHash == nil {
		return "none"
	}
	return r.TxHash.Hex()
}
