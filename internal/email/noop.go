package email

import (
	"context"

	"go.uber.org/zap"
)

// NoopSender drops messages after logging them. It is the default sender
// when no SMTP host is configured, so a development registry surfaces
// every notice in its own log instead of silently losing it.
type NoopSender struct {
	logger *zap.Logger
}

// NewNoopSender returns a sender that only logs.
func NewNoopSender(logger *zap.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

// Send logs the message and reports success.
func (n *NoopSender) Send(_ context.Context, to, subject, body string) error {
	n.logger.Info("email suppressed (noop sender)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)),
	)
	return nil
}
