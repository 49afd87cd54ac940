// Package email delivers the gateway's transactional mail: password
// recovery links for self-hosted backends.
package email

import (
	"context"

	"go.uber.org/zap"
)

// Sender delivers transactional email.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NoopSender logs the envelope and drops the message. Selected when no SMTP
// host is configured.
type NoopSender struct {
	logger *zap.Logger
}

func NewNoopSender(logger *zap.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

// Send never logs body: recovery mail carries a secret.
func (n *NoopSender) Send(_ context.Context, to, subject, _ string) error {
	n.logger.Info("email dropped, smtp not configured",
		zap.String("to", to),
		zap.String("subject", subject),
	)
	return nil
}
