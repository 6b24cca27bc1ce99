package notificator

import (
	"runtime/debug"

	"github.com/custos-labs/everro/pkg/logger"
)

// alertSender delivers one message to an external channel.
type alertSender interface {
	SendNotification(message string)
}

// Notificator mirrors every message to the configured alert channel.
// Sends are best-effort: dispatched in their own goroutine so a slow or
// stalled channel never holds up the caller, failures are logged and never
// retried. Without a channel it logs locally only.
type Notificator struct {
	logger *logger.Logger
	sender alertSender
}

func NewNotificator(logger *logger.Logger, telNotif *TelegramNotificator) *Notificator {
	n := &Notificator{logger: logger}
	if telNotif != nil {
		n.sender = telNotif
	}
	return n
}

// safeCall runs a function with panic recovery
func (n *Notificator) safeCall(fn func(), context string) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Errorw("Function panicked",
				"context", context,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

func (n *Notificator) Notify(message string) {
	n.logger.Info("ALERT: ", message)

	if n.sender == nil {
		return
	}
	go n.safeCall(func() { n.sender.SendNotification(message) }, "telegramNotification")
}
