package poller

import (
	"context"
	"fmt"
	"math/big"
	"runtime/debug"
	"time"

	"github.com/ethereum/go-ethereum/params"

	"github.com/custos-labs/everro/internal/metrics"
	"github.com/custos-labs/everro/internal/models"
	"github.com/custos-labs/everro/internal/tracker"
	"github.com/custos-labs/everro/pkg/logger"
)

// tokenTransferGasAssumption is the conservative gas cost the auto-sweep
// heuristic assumes for a token transfer.
const tokenTransferGasAssumption = 65000

// Poller is the fallback detection driver: it re-derives balances on a fixed
// interval, self-healing deposits the push subscriptions missed. Runs
// alongside or instead of the event watcher, per configuration.
type Poller struct {
	logger   *logger.Logger
	gateway  models.ChainGateway
	tracker  *tracker.Tracker
	price    models.PriceSource
	handler  models.EmergencyHandler
	notifier models.NotificationService
	metrics  *metrics.Metrics

	interval time.Duration
	reserve  *big.Int
}

func New(logger *logger.Logger, gateway models.ChainGateway, tracker *tracker.Tracker, price models.PriceSource, handler models.EmergencyHandler, notifier models.NotificationService, metrics *metrics.Metrics, interval time.Duration, gasReserveGwei int64) *Poller {
	reserve := new(big.Int).Mul(big.NewInt(gasReserveGwei), big.NewInt(params.GWei))
	reserve.Mul(reserve, big.NewInt(21000))

	return &Poller{
		logger:   logger,
		gateway:  gateway,
		tracker:  tracker,
		price:    price,
		handler:  handler,
		notifier: notifier,
		metrics:  metrics,
		interval: interval,
		reserve:  reserve,
	}
}

// Run blocks until the context is cancelled. No iteration error stops the
// loop; transient RPC failures rotate the endpoint inside the gateway.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Infow("poll loop started", "interval", p.interval.String())
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.iterate(ctx)
		}
	}
}

func (p *Poller) iterate(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Errorw("poll iteration panicked",
				"panic", rec,
				"stack", string(debug.Stack()))
			p.notifier.Notify(fmt.Sprintf("Poll iteration fault: %v", rec))
		}
	}()

	quote := p.price.NativeUSD(ctx)
	for _, ev := range p.tracker.Observe(ctx, quote, models.SourcePoll) {
		p.logger.Infow("deposit detected by poll loop",
			"kind", string(ev.Kind),
			"usd", ev.USDValue.StringFixed(2))
		p.metrics.TriggersTotal.WithLabelValues(string(models.SourcePoll)).Inc()
		go p.handler.Handle(ctx, ev.Reason)
	}

	p.maybeAutoSweep(ctx)
}

// maybeAutoSweep triggers proactively, independent of the threshold logic,
// when the last-observed native balance covers an assumed token-transfer gas
// cost plus the configured reserve and a token balance is sitting there.
// Covers funds that arrived by a means the watcher missed.
func (p *Poller) maybeAutoSweep(ctx context.Context) {
	last := p.tracker.Last()
	if last.Token.Sign() == 0 {
		return
	}

	fees, err := p.gateway.SuggestFees(ctx)
	if err != nil {
		p.logger.Warnw("fee lookup failed, skipping auto-sweep check", "error", err)
		return
	}

	need := new(big.Int).Mul(big.NewInt(tokenTransferGasAssumption), fees.EffectiveGasPrice())
	need.Add(need, p.reserve)
	if last.Native.Cmp(need) < 0 {
		return
	}

	p.logger.Infow("heuristic auto-sweep triggered",
		"tokenBalance", last.Token.String(),
		"nativeBalance", last.Native.String())
	p.metrics.TriggersTotal.WithLabelValues(string(models.SourcePoll)).Inc()
	go p.handler.Handle(ctx, "token balance present with gas covered (heuristic auto-sweep)")
}
