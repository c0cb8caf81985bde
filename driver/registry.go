package driver

import (
	"fmt"

	"s7link/config"
)

// Create creates a Driver for the given PLC configuration.
// The connection is not established until Connect() is called on the
// returned driver.
func Create(cfg *config.PLCConfig) (Driver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return NewS7Adapter(cfg)
}
