package notifier

import "brokerd/internal/logger"

// TextNotifier defines a minimal text notification interface.
// It is intentionally small so different components can depend on it without
// importing concrete implementations (e.g. Telegram).
//
// Delivery is strictly best-effort: a failed notification must never roll
// back or delay the trade that produced it.
type TextNotifier interface {
	SendText(text string) error
	// SendTextAsync fires and forgets; failures are logged as warnings and
	// swallowed.
	SendTextAsync(text string)
}

// Noop drops every message. Default when no channel is configured.
type Noop struct{}

func (Noop) SendText(string) error { return nil }
func (Noop) SendTextAsync(string)  {}

func sendAsync(n interface{ SendText(string) error }, text string) {
	go func() {
		if err := n.SendText(text); err != nil {
			logger.Warnf("notifier: delivery failed: %v", err)
		}
	}()
}
