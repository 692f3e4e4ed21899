package notify

import (
	"sync"

	"github.com/uplinq/uplinq/internal/logger"
	"github.com/uplinq/uplinq/internal/models"
	"go.uber.org/zap"
)

// ToastAlerter is the default Alerter: it records the latest toasts for a
// UI binding to drain and logs each alert. It is constructed once at
// application start and injected wherever alerts are raised; there is no
// package-level instance.
type ToastAlerter struct {
	mu      sync.Mutex
	pending []models.Notification
	max     int
}

// NewToastAlerter creates an alerter buffering up to max pending toasts
func NewToastAlerter(max int) *ToastAlerter {
	if max <= 0 {
		max = 5
	}
	return &ToastAlerter{max: max}
}

// Alert queues a toast for the UI and logs it
func (a *ToastAlerter) Alert(n models.Notification) {
	a.mu.Lock()
	a.pending = append(a.pending, n)
	if len(a.pending) > a.max {
		a.pending = a.pending[len(a.pending)-a.max:]
	}
	a.mu.Unlock()

	logger.Info("notification alert",
		zap.String("notification_id", n.ID),
		zap.String("title", n.Title))
}

// Drain returns and clears the pending toasts
func (a *ToastAlerter) Drain() []models.Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.pending
	a.pending = nil
	return out
}
