package events

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/order"
)

// LogPublisher writes events to the context logger. It is the default when
// no broker is configured.
type LogPublisher struct{}

var _ order.Publisher = LogPublisher{}

// Publish implements order.Publisher.
func (LogPublisher) Publish(ctx context.Context, e order.Event) error {
	env := Wrap(e)
	data, err := env.Encode()
	if err != nil {
		return err
	}
	zctx.From(ctx).Info("Domain event",
		zap.String("event_id", env.ID),
		zap.String("event_type", string(env.Type)),
		zap.String("order_id", env.OrderID),
		zap.ByteString("envelope", data),
	)
	return nil
}
