package events

import (
	"fmt"
	"log/slog"

	"machine/internal/config"
)

// Open builds the bus selected by broker.driver.
func Open(cfg *config.Config, logger *slog.Logger) (Bus, error) {
	switch cfg.Broker.Driver {
	case config.BrokerMemory, "":
		return NewMemoryBus(cfg.Broker.EventsExchange, logger), nil
	case config.BrokerAMQP:
		return DialAMQP(cfg.Broker, logger)
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Broker.Driver)
	}
}
