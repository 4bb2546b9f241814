package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/warp/allocation-engine/generic"
)

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	Channel generic.Channel
	Logger  *zap.Logger
}

func (s LogSender) Send(_ context.Context, m Message) error {
	s.Logger.Info("notification",
		zap.String("channel", string(s.Channel)),
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
		zap.String("body", m.Body))
	return nil
}

// LogPublisher writes events to the log.
type LogPublisher struct {
	Logger *zap.Logger
}

func (p LogPublisher) Publish(_ context.Context, e generic.Event) error {
	p.Logger.Info("event",
		zap.String("id", e.ID),
		zap.String("topic", e.Topic),
		zap.String("type", e.Type),
		zap.String("kind", e.Kind),
		zap.Any("payload", e.Payload))
	return nil
}
