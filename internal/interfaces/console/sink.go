package console

import (
	"fmt"

	"tickmux/internal/application/port"
	"tickmux/internal/domain"
)

// Sink prints delivered ticks to stdout. Stands in for a real transport
// client when running the binary directly.
type Sink struct{}

func NewSink() port.DeliverySink { return &Sink{} }

func (s *Sink) Deliver(t domain.PriceTick) error {
	fmt.Printf("%s  %-10s %s\n", t.ObservedAt.Format("15:04:05.000"), t.Symbol, t.Price.String())
	return nil
}
