package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// conn is the subset of *nats.Conn used for publishing.
type conn interface {
	Publish(subj string, data []byte) error
	IsConnected() bool
}

// NATS publishes events on <prefix>.<type>.
type NATS struct {
	nc     conn
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// Connect dials url and returns a NATS publisher plus a close function.
func Connect(url, prefix string, logger *zap.Logger) (*NATS, func(), error) {
	nc, err := nats.Connect(url,
		nats.Name("pbsnet-gateway"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, nil, err
	}
	return newNATS(nc, prefix, logger), func() { _ = nc.Drain() }, nil
}

func newNATS(nc conn, prefix string, logger *zap.Logger) *NATS {
	return &NATS{nc: nc, prefix: prefix, logger: logger, now: time.Now}
}

// Publish implements Publisher.
func (n *NATS) Publish(_ context.Context, eventType, userID string, payload map[string]string) {
	ev := Event{
		Type:      eventType,
		UserID:    userID,
		Timestamp: n.now().UTC(),
		Payload:   payload,
	}
	body, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("encode event", zap.String("type", eventType), zap.Error(err))
		return
	}
	subject := n.prefix + "." + eventType
	if err := n.nc.Publish(subject, body); err != nil {
		n.logger.Warn("publish event failed",
			zap.String("subject", subject),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

// Ping reports an error while the connection is down or reconnecting.
func (n *NATS) Ping(context.Context) error {
	if !n.nc.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}
