package gateway

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/custos-labs/everro/internal/metrics"
	"github.com/custos-labs/everro/internal/models"
	"github.com/custos-labs/everro/pkg/logger"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(message string) {
	n.mu.Lock()
	n.messages = append(n.messages, message)
	n.mu.Unlock()
}

func newTestGateway(t *testing.T) (*Gateway, *recordingNotifier) {
	t.Helper()
	pool, err := NewPool([]string{"http://127.0.0.1:1"})
	if err != nil {
		t.Fatal(err)
	}
	notifier := &recordingNotifier{}
	g, err := NewGateway(logger.NewNop(), metrics.New(prometheus.NewRegistry()), pool,
		notifier, models.Account{}, models.Token{}, "")
	if err != nil {
		t.Fatal(err)
	}
	return g, notifier
}

func TestSafeHandle_PanicIsLoggedAndAlerted(t *testing.T) {
	g, notifier := newTestGateway(t)

	g.safeHandle("transferLog", func() { panic("handler exploded") })

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.messages) != 1 {
		t.Fatalf("expected one fault alert, got %d", len(notifier.messages))
	}
}

func TestSafeHandle_NormalCallPassesThrough(t *testing.T) {
	g, notifier := newTestGateway(t)

	called := false
	g.safeHandle("pendingTx", func() { called = true })

	if !called {
		t.Fatal("handler was not invoked")
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.messages) != 0 {
		t.Fatalf("expected no alerts, got %d", len(notifier.messages))
	}
}
