package analytics

import (
	"context"

	"github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/protocol"
)

// EventProducer ships relayed events to the analytics pipeline. Production
// is fire-and-forget; a failed produce never blocks or fails fan-out.
type EventProducer interface {
	ProduceEvent(ctx context.Context, roomID string, env *protocol.Envelope) error
	Close() error
}

// Noop discards events; used when no brokers are configured.
type Noop struct{}

func (Noop) ProduceEvent(context.Context, string, *protocol.Envelope) error { return nil }
func (Noop) Close() error                                                   { return nil }
