package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateMachine(); err != nil {
		return err
	}
	if err := c.validateBroker(); err != nil {
		return err
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateMachine() error {
	if !validMachineType(c.Machine.Type) {
		return fmt.Errorf("machine.type %q must contain only letters, digits, '-' or '_'", c.Machine.Type)
	}
	if err := ensurePositiveMap(map[string]int{
		"machine.work_unit_ms":   c.Machine.WorkUnitMillis,
		"machine.min_work_units": c.Machine.MinWorkUnits,
		"machine.max_work_units": c.Machine.MaxWorkUnits,
	}); err != nil {
		return err
	}
	if c.Machine.MinWorkUnits > c.Machine.MaxWorkUnits {
		return errors.New("machine.min_work_units must be <= machine.max_work_units")
	}
	return nil
}

func (c *Config) validateBroker() error {
	switch c.Broker.Driver {
	case BrokerMemory:
		return nil
	case BrokerAMQP:
	default:
		return fmt.Errorf("broker.driver %q is not supported (use %q or %q)", c.Broker.Driver, BrokerMemory, BrokerAMQP)
	}
	if c.Broker.URL == "" {
		return errors.New("broker.url must be set when broker.driver is amqp (or export MACHINE_AMQP_URL)")
	}
	parsed, err := url.Parse(c.Broker.URL)
	if err != nil {
		return fmt.Errorf("broker.url: %w", err)
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return fmt.Errorf("broker.url scheme %q must be amqp or amqps", parsed.Scheme)
	}
	if c.Broker.TLSEnabled && c.Broker.CACert == "" {
		return errors.New("broker.ca_cert must be set when broker.tls_enabled is true")
	}
	if (c.Broker.ClientCert == "") != (c.Broker.ClientKey == "") {
		return errors.New("broker.client_cert and broker.client_key must be set together")
	}
	if c.Broker.PrefetchCount < 1 {
		return errors.New("broker.prefetch_count must be >= 1")
	}
	return nil
}

func (c *Config) validateAuth() error {
	if c.Auth.RequestTimeout <= 0 {
		return errors.New("auth.request_timeout must be positive")
	}
	if c.Auth.BaseURL == "" {
		return nil
	}
	parsed, err := url.Parse(c.Auth.BaseURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("auth.base_url %q is not a valid URL", c.Auth.BaseURL)
	}
	return nil
}

func validMachineType(value string) bool {
	for _, r := range value {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return !strings.HasPrefix(value, "-")
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
