package events

import (
	"fmt"

	"github.com/axonops/showledger/internal/config"
)

// NewPublisher builds the Publisher selected by the configuration.
func NewPublisher(cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Type {
	case "", "none":
		return Nop{}, nil
	case "amqp":
		return NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	default:
		return nil, fmt.Errorf("unsupported events type: %s", cfg.Type)
	}
}
