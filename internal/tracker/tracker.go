package tracker

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/custos-labs/everro/internal/models"
	"github.com/custos-labs/everro/pkg/logger"
)

// nativeDecimals scales wei to native units for USD pricing.
const nativeDecimals = 18

// Tracker owns the last-observed balance snapshot and decides whether an
// observed change has grown enough to trigger the emergency handler.
type Tracker struct {
	logger    *logger.Logger
	gateway   models.ChainGateway
	account   common.Address
	threshold decimal.Decimal

	mu   sync.Mutex
	last models.BalanceSnapshot
}

func New(logger *logger.Logger, gateway models.ChainGateway, account common.Address, threshold decimal.Decimal) *Tracker {
	return &Tracker{
		logger:    logger,
		gateway:   gateway,
		account:   account,
		threshold: threshold,
		last: models.BalanceSnapshot{
			Native: big.NewInt(0),
			Token:  big.NewInt(0),
		},
	}
}

// Init seeds the last-observed snapshot without classifying, so startup
// balances do not count as deposits.
func (t *Tracker) Init(ctx context.Context) {
	snap := t.Refresh(ctx)
	t.commit(snap)
	t.logger.Infow("initial balances observed",
		"native", snap.Native.String(),
		"token", snap.Token.String())
}

// Refresh re-reads both balances. The reads are independent: one asset's
// failure degrades that side to zero instead of aborting the whole refresh.
func (t *Tracker) Refresh(ctx context.Context) models.BalanceSnapshot {
	snap := models.BalanceSnapshot{
		Native: big.NewInt(0),
		Token:  big.NewInt(0),
	}

	if native, err := t.gateway.NativeBalance(ctx, t.account); err != nil {
		t.logger.Warnw("native balance read failed, treating as zero", "error", err)
	} else {
		snap.Native = native
	}

	if token, err := t.gateway.TokenBalance(ctx, t.account); err != nil {
		t.logger.Warnw("token balance read failed, treating as zero", "error", err)
	} else {
		snap.Token = token
	}

	return snap
}

// Last returns the last committed snapshot.
func (t *Tracker) Last() models.BalanceSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return models.BalanceSnapshot{
		Native: new(big.Int).Set(t.last.Native),
		Token:  new(big.Int).Set(t.last.Token),
	}
}

func (t *Tracker) commit(snap models.BalanceSnapshot) {
	t.mu.Lock()
	t.last = models.BalanceSnapshot{
		Native: new(big.Int).Set(snap.Native),
		Token:  new(big.Int).Set(snap.Token),
	}
	t.mu.Unlock()
}

// Observe re-reads both balances, commits them as last observed (both reads
// complete before either is committed), and returns the deposit events the
// deltas produced, if any.
func (t *Tracker) Observe(ctx context.Context, quote models.PriceQuote, source models.TriggerSource) []*models.DepositEvent {
	current := t.Refresh(ctx)

	t.mu.Lock()
	previous := t.last
	t.last = models.BalanceSnapshot{
		Native: new(big.Int).Set(current.Native),
		Token:  new(big.Int).Set(current.Token),
	}
	t.mu.Unlock()

	var events []*models.DepositEvent
	if ev := ClassifyNativeDelta(previous.Native, current.Native, quote, t.threshold, source); ev != nil {
		events = append(events, ev)
	}

	decimals, _ := t.gateway.TokenDecimals(ctx)
	if ev := ClassifyTokenDelta(previous.Token, current.Token, decimals, t.threshold, source); ev != nil {
		events = append(events, ev)
	}
	return events
}

// ClassifyNativeDelta fires only on a strictly positive delta whose USD value
// (priced by the oracle quote) meets the threshold. A zero fallback price
// combined with a positive threshold suppresses triggering by construction.
func ClassifyNativeDelta(previous, current *big.Int, quote models.PriceQuote, threshold decimal.Decimal, source models.TriggerSource) *models.DepositEvent {
	if current.Cmp(previous) <= 0 {
		return nil
	}
	delta := new(big.Int).Sub(current, previous)
	usd := decimal.NewFromBigInt(delta, -nativeDecimals).Mul(quote.USD)
	if usd.LessThan(threshold) {
		return nil
	}
	return &models.DepositEvent{
		Kind:     models.AssetNative,
		Amount:   delta,
		USDValue: usd,
		Source:   source,
		Reason: fmt.Sprintf("native deposit of %s units detected ($%s)",
			decimal.NewFromBigInt(delta, -nativeDecimals), usd.StringFixed(2)),
	}
}

// ClassifyTokenDelta prices the delta at a fixed 1:1 USD ratio; the tracked
// token is a USD-pegged stable asset.
func ClassifyTokenDelta(previous, current *big.Int, decimals uint8, threshold decimal.Decimal, source models.TriggerSource) *models.DepositEvent {
	if current.Cmp(previous) <= 0 {
		return nil
	}
	delta := new(big.Int).Sub(current, previous)
	usd := decimal.NewFromBigInt(delta, -int32(decimals))
	if usd.LessThan(threshold) {
		return nil
	}
	return &models.DepositEvent{
		Kind:     models.AssetToken,
		Amount:   delta,
		USDValue: usd,
		Source:   source,
		Reason: fmt.Sprintf("token deposit of %s detected ($%s)",
			usd, usd.StringFixed(2)),
	}
}
