package ingest

import (
	"context"

	"github.com/nerrad567/ssds-ingest/internal/infrastructure/amqp"
	"github.com/nerrad567/ssds-ingest/internal/infrastructure/config"
)

// AMQPDialer returns a Dialer that opens a dedicated amqp.Client per run.
// logger may be nil.
func AMQPDialer(cfg config.BrokerConfig, logger amqp.Logger) Dialer {
	return func(ctx context.Context) (Broker, error) {
		client, err := amqp.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			client.SetLogger(logger)
		}
		return client, nil
	}
}
