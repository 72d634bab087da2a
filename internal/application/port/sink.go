package port

import "tickmux/internal/domain"

// DeliverySink is one subscriber's outbound side, registered by the
// transport layer. Deliver must not be assumed cheap or reliable; the
// dispatcher isolates slow and failing sinks.
type DeliverySink interface {
	Deliver(tick domain.PriceTick) error
}
