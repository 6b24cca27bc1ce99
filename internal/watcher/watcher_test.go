package watcher

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/custos-labs/everro/internal/metrics"
	"github.com/custos-labs/everro/pkg/logger"
)

var watched = common.HexToAddress("0x00000000000000000000000000000000000000aa")

type recordingHandler struct {
	mu      sync.Mutex
	reasons []string
	fired   chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{fired: make(chan struct{}, 8)}
}

func (h *recordingHandler) Handle(ctx context.Context, reason string) {
	h.mu.Lock()
	h.reasons = append(h.reasons, reason)
	h.mu.Unlock()
	h.fired <- struct{}{}
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.reasons)
}

func (h *recordingHandler) waitFired(t *testing.T) {
	t.Helper()
	select {
	case <-h.fired:
	case <-time.After(time.Second):
		t.Fatal("handler was not triggered")
	}
}

func newWatcher(handler *recordingHandler) *Watcher {
	return New(logger.NewNop(), nil, handler, metrics.New(prometheus.NewRegistry()), watched)
}

func legacyTx(to *common.Address) *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    1,
		To:       to,
		Value:    big.NewInt(1),
		Gas:      21000,
		GasPrice: big.NewInt(1),
	})
}

func TestOnPendingTx_TriggersOnlyForWatchedAccount(t *testing.T) {
	handler := newRecordingHandler()
	w := newWatcher(handler)
	onTx := w.onPendingTx(context.Background())

	other := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	onTx(legacyTx(&other))
	onTx(legacyTx(nil)) // contract creation has no recipient

	onTx(legacyTx(&watched))
	handler.waitFired(t)

	if got := handler.count(); got != 1 {
		t.Fatalf("expected exactly one trigger, got %d", got)
	}
}

func TestOnTransferLog_TriggersHandler(t *testing.T) {
	handler := newRecordingHandler()
	w := newWatcher(handler)
	onLog := w.onTransferLog(context.Background())

	onLog(types.Log{TxHash: common.HexToHash("0xdead")})
	handler.waitFired(t)

	if got := handler.count(); got != 1 {
		t.Fatalf("expected one trigger, got %d", got)
	}
}
