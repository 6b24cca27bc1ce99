package responder

import (
	"context"
	"fmt"
	"math/big"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"

	"github.com/custos-labs/everro/internal/metrics"
	"github.com/custos-labs/everro/internal/models"
	"github.com/custos-labs/everro/pkg/logger"
)

const (
	// nativeTransferGas is the fixed gas limit of the native sweep transfer;
	// the gas reserve is sized against it as well.
	nativeTransferGas = 21000

	// gasHeadroomPercent is added on top of a successful gas estimate
	gasHeadroomPercent = 20

	// defaultSettleDelay separates the sequence stages so token-side effects
	// can settle before the next balance read
	defaultSettleDelay = 2 * time.Second
)

type Config struct {
	Account     common.Address
	Destination common.Address
	Spenders    []common.Address
	// GasReserveGwei prices the native reserve withheld from the sweep
	GasReserveGwei int64
	// KeepWei is the minimum native balance retained post-sweep
	KeepWei *big.Int
	// SettleDelay overrides the stage pause; zero means the default
	SettleDelay time.Duration
}

// Responder executes the emergency sequence: revoke stale approvals, sweep
// the token, sweep the native currency. The sequence always runs to
// completion; per-stage failures are contained so one asset's failure cannot
// strand the other.
type Responder struct {
	logger   *logger.Logger
	gateway  models.ChainGateway
	notifier models.NotificationService
	metrics  *metrics.Metrics
	cfg      Config

	// reserve = GasReserveGwei x nativeTransferGas, in wei
	reserve *big.Int

	// inFlight is the single-slot guard: at most one active emergency
	// sequence per account. Triggers arriving while locked are coalesced.
	inFlight sync.Mutex
}

func New(logger *logger.Logger, gateway models.ChainGateway, notifier models.NotificationService, metrics *metrics.Metrics, cfg Config) *Responder {
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.KeepWei == nil {
		cfg.KeepWei = big.NewInt(0)
	}
	reserve := new(big.Int).Mul(big.NewInt(cfg.GasReserveGwei), big.NewInt(params.GWei))
	reserve.Mul(reserve, big.NewInt(nativeTransferGas))

	return &Responder{
		logger:   logger,
		gateway:  gateway,
		notifier: notifier,
		metrics:  metrics,
		cfg:      cfg,
		reserve:  reserve,
	}
}

// Handle runs the full emergency sequence for one trigger. Concurrent
// triggers while a sequence is active are dropped, not queued; the next
// poll cycle re-derives anything a dropped trigger would have caught.
func (r *Responder) Handle(ctx context.Context, reason string) {
	if !r.inFlight.TryLock() {
		r.logger.Infow("emergency sequence already running, coalescing trigger", "reason", reason)
		r.metrics.TriggersCoalesced.Inc()
		return
	}
	defer r.inFlight.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorw("emergency sequence panicked",
				"panic", rec,
				"stack", string(debug.Stack()))
			r.notifier.Notify(fmt.Sprintf("Emergency sequence aborted by unexpected fault: %v", rec))
		}
	}()

	r.logger.Warnw("emergency sequence starting", "reason", reason)
	r.notifier.Notify("EMERGENCY: " + reason + " - starting revoke and sweep sequence")

	r.revokeApprovals(ctx)
	r.pause(ctx)
	tokenResult := r.sweepToken(ctx)
	r.pause(ctx)
	nativeResult := r.sweepNative(ctx)

	r.logger.Infow("emergency sequence finished",
		"tokenTx", tokenResult.String(),
		"nativeTx", nativeResult.String())
	r.notifier.Notify(fmt.Sprintf("Sweep sequence finished. token tx: %s, native tx: %s",
		tokenResult, nativeResult))
}

// revokeApprovals zeroes the allowance of every configured spender. One
// spender failing is logged and alerted but never stops the remaining
// spenders or the sweeps that follow.
func (r *Responder) revokeApprovals(ctx context.Context) {
	for _, spender := range r.cfg.Spenders {
		if err := r.revokeOne(ctx, spender); err != nil {
			r.logger.Errorw("approval revoke failed", "spender", spender.Hex(), "error", err)
			r.notifier.Notify(fmt.Sprintf("Revoke failed for spender %s: %v", spender.Hex(), err))
			r.metrics.RevokesTotal.WithLabelValues("failure").Inc()
		}
	}
}

func (r *Responder) revokeOne(ctx context.Context, spender common.Address) error {
	allowance, err := r.gateway.Allowance(ctx, r.cfg.Account, spender)
	if err == nil && allowance.Sign() == 0 {
		r.logger.Debugw("allowance already zero, skipping revoke", "spender", spender.Hex())
		r.metrics.RevokesTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	// an unreadable allowance is revoked anyway

	limit, ok := r.gateway.EstimateApproveZero(ctx, spender)
	if ok {
		limit = addHeadroom(limit)
	}
	fees, err := r.gateway.SuggestFees(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve fees: %w", err)
	}

	hash, err := r.gateway.ApproveZero(ctx, spender, limit, fees)
	if err != nil {
		return err
	}
	if err := r.gateway.WaitMined(ctx, hash); err != nil {
		return err
	}

	r.metrics.RevokesTotal.WithLabelValues("success").Inc()
	r.logger.Infow("approval revoked", "spender", spender.Hex(), "tx", hash.Hex())
	r.notifier.Notify(fmt.Sprintf("Approval revoked for spender %s (tx %s)", spender.Hex(), hash.Hex()))
	return nil
}

// sweepToken transfers the full token balance to the destination. Failures
// are converted to a "none" result so the native sweep still runs.
func (r *Responder) sweepToken(ctx context.Context) models.SweepResult {
	result, err := r.trySweepToken(ctx)
	if err != nil {
		r.logger.Errorw("token sweep failed", "error", err)
		r.notifier.Notify(fmt.Sprintf("Token sweep failed: %v", err))
		r.metrics.SweepsTotal.WithLabelValues("token", "failure").Inc()
		return models.SweepResult{}
	}
	return result
}

func (r *Responder) trySweepToken(ctx context.Context) (models.SweepResult, error) {
	balance, err := r.gateway.TokenBalance(ctx, r.cfg.Account)
	if err != nil {
		return models.SweepResult{}, fmt.Errorf("failed to read token balance: %w", err)
	}
	if balance.Sign() == 0 {
		r.logger.Info("token balance is zero, nothing to sweep")
		r.metrics.SweepsTotal.WithLabelValues("token", "skipped").Inc()
		return models.SweepResult{}, nil
	}

	limit, ok := r.gateway.EstimateTokenTransfer(ctx, r.cfg.Destination, balance)
	if ok {
		limit = addHeadroom(limit)
	}
	fees, err := r.gateway.SuggestFees(ctx)
	if err != nil {
		return models.SweepResult{}, fmt.Errorf("failed to resolve fees: %w", err)
	}

	hash, err := r.gateway.TransferToken(ctx, r.cfg.Destination, balance, limit, fees)
	if err != nil {
		return models.SweepResult{}, err
	}
	if err := r.gateway.WaitMined(ctx, hash); err != nil {
		return models.SweepResult{}, err
	}

	decimals, _ := r.gateway.TokenDecimals(ctx)
	amount := decimal.NewFromBigInt(balance, -int32(decimals))
	r.metrics.SweepsTotal.WithLabelValues("token", "success").Inc()
	r.logger.Infow("token balance swept", "amount", amount.String(), "tx", hash.Hex())
	r.notifier.Notify(fmt.Sprintf("Swept %s tokens to %s (tx %s)",
		amount, r.cfg.Destination.Hex(), hash.Hex()))
	return models.SweepResult{TxHash: &hash}, nil
}

// sweepNative sends balance - reserve - keep to the destination at the fixed
// 21000 gas limit. When the balance does not exceed reserve + keep, nothing
// is sent.
func (r *Responder) sweepNative(ctx context.Context) models.SweepResult {
	result, err := r.trySweepNative(ctx)
	if err != nil {
		r.logger.Errorw("native sweep failed", "error", err)
		r.notifier.Notify(fmt.Sprintf("Native sweep failed: %v", err))
		r.metrics.SweepsTotal.WithLabelValues("native", "failure").Inc()
		return models.SweepResult{}
	}
	return result
}

func (r *Responder) trySweepNative(ctx context.Context) (models.SweepResult, error) {
	balance, err := r.gateway.NativeBalance(ctx, r.cfg.Account)
	if err != nil {
		return models.SweepResult{}, fmt.Errorf("failed to read native balance: %w", err)
	}

	withheld := new(big.Int).Add(r.reserve, r.cfg.KeepWei)
	if balance.Cmp(withheld) <= 0 {
		r.logger.Infow("native balance within reserve, nothing to sweep",
			"balance", balance.String(),
			"withheld", withheld.String())
		r.metrics.SweepsTotal.WithLabelValues("native", "skipped").Inc()
		return models.SweepResult{}, nil
	}
	amount := new(big.Int).Sub(balance, withheld)

	fees, err := r.gateway.SuggestFees(ctx)
	if err != nil {
		return models.SweepResult{}, fmt.Errorf("failed to resolve fees: %w", err)
	}

	hash, err := r.gateway.TransferNative(ctx, r.cfg.Destination, amount, fees)
	if err != nil {
		return models.SweepResult{}, err
	}
	if err := r.gateway.WaitMined(ctx, hash); err != nil {
		return models.SweepResult{}, err
	}

	r.metrics.SweepsTotal.WithLabelValues("native", "success").Inc()
	r.logger.Infow("native balance swept", "amountWei", amount.String(), "tx", hash.Hex())
	r.notifier.Notify(fmt.Sprintf("Swept %s native units to %s (tx %s)",
		decimal.NewFromBigInt(amount, -18), r.cfg.Destination.Hex(), hash.Hex()))
	return models.SweepResult{TxHash: &hash}, nil
}

func (r *Responder) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(r.cfg.SettleDelay):
	}
}

func addHeadroom(limit uint64) uint64 {
	return limit * (100 + gasHeadroomPercent) / 100
}
