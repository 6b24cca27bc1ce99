package models

// NotificationService is best-effort outbound alerting. Implementations must
// never block the pipeline and never return an error to the caller.
type NotificationService interface {
	Notify(message string)
}
