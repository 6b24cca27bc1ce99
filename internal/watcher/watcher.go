package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/custos-labs/everro/internal/metrics"
	"github.com/custos-labs/everro/internal/models"
	"github.com/custos-labs/everro/pkg/logger"
)

// resubscribeDelay is the pause before a dead subscription is reopened
const resubscribeDelay = 5 * time.Second

// Watcher drives the responder from push notifications: token Transfer logs
// to the watched address and pending transactions whose destination is the
// watched address. The two sources are independent; neither waits for nor
// deduplicates against the other; overlap is coalesced by the responder's
// in-flight guard.
type Watcher struct {
	logger  *logger.Logger
	gateway models.ChainGateway
	handler models.EmergencyHandler
	metrics *metrics.Metrics
	account common.Address
}

func New(logger *logger.Logger, gateway models.ChainGateway, handler models.EmergencyHandler, metrics *metrics.Metrics, account common.Address) *Watcher {
	return &Watcher{
		logger:  logger,
		gateway: gateway,
		handler: handler,
		metrics: metrics,
		account: account,
	}
}

// Run blocks until the context is cancelled, keeping both subscription
// streams alive and reopening them whenever they die.
func (w *Watcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		w.subscribeLoop(ctx, "transfer logs", func(ctx context.Context) error {
			return w.gateway.SubscribeTransferLogs(ctx, w.account, w.onTransferLog(ctx))
		})
	}()

	go func() {
		defer wg.Done()
		w.subscribeLoop(ctx, "pending transactions", func(ctx context.Context) error {
			return w.gateway.SubscribePendingTransactions(ctx, w.onPendingTx(ctx))
		})
	}()

	wg.Wait()
	return ctx.Err()
}

func (w *Watcher) subscribeLoop(ctx context.Context, name string, subscribe func(context.Context) error) {
	for ctx.Err() == nil {
		err := subscribe(ctx)
		if errors.Is(err, context.Canceled) {
			return
		}
		w.logger.Errorw("subscription closed, restarting", "stream", name, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
		w.logger.Debugw("restarting subscription", "stream", name)
	}
}

// onTransferLog fires on any matching Transfer log regardless of amount; the
// responder's own sweep re-reads the actual balance.
func (w *Watcher) onTransferLog(ctx context.Context) func(types.Log) {
	return func(lg types.Log) {
		w.logger.Infow("incoming token transfer observed", "tx", lg.TxHash.Hex())
		w.metrics.TriggersTotal.WithLabelValues(string(models.SourceWebsocket)).Inc()
		go w.handler.Handle(ctx, fmt.Sprintf("incoming token transfer (tx %s)", lg.TxHash.Hex()))
	}
}

func (w *Watcher) onPendingTx(ctx context.Context) func(*types.Transaction) {
	return func(tx *types.Transaction) {
		if tx.To() == nil || *tx.To() != w.account {
			return
		}
		w.logger.Infow("incoming pending transaction observed", "tx", tx.Hash().Hex())
		w.metrics.TriggersTotal.WithLabelValues(string(models.SourceWebsocket)).Inc()
		go w.handler.Handle(ctx, fmt.Sprintf("incoming pending transaction (tx %s)", tx.Hash().Hex()))
	}
}
