// Package zaplog provides an EventPublisher that writes events to the log.
// It is used when no Kafka brokers are configured.
package zaplog

import (
	"context"

	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/banking-ledger/internal/interfaces"
)

type Publisher struct {
	log *zap.Logger
}

func NewPublisher(log *zap.Logger) *Publisher {
	return &Publisher{log: log}
}

func (p *Publisher) Publish(ctx context.Context, topic, key string, event any) error {
	p.log.Debug("event", zap.String("topic", topic), zap.String("key", key), zap.Any("payload", event))
	return nil
}

func (p *Publisher) Close() error {
	return nil
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
