package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeMachine()
	if err := c.normalizeBroker(); err != nil {
		return err
	}
	c.normalizeAuth()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if value, ok := lookupEnv("MACHINE_API_TOKEN"); ok {
		c.Paths.APIToken = value
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeMachine() {
	if value, ok := lookupEnv("MACHINE_TYPE"); ok {
		c.Machine.Type = value
	}
	c.Machine.Type = strings.ToUpper(strings.TrimSpace(c.Machine.Type))
}

func (c *Config) normalizeBroker() error {
	c.Broker.Driver = strings.ToLower(strings.TrimSpace(c.Broker.Driver))
	if c.Broker.Driver == "" {
		c.Broker.Driver = defaultBrokerDriver
	}
	if value, ok := lookupEnv("MACHINE_AMQP_URL"); ok {
		c.Broker.URL = value
	}
	c.Broker.URL = strings.TrimSpace(c.Broker.URL)
	c.Broker.EventsExchange = strings.TrimSpace(c.Broker.EventsExchange)
	if c.Broker.EventsExchange == "" {
		c.Broker.EventsExchange = defaultEventsExchange
	}

	var err error
	for _, field := range []struct {
		name  string
		value *string
	}{
		{"broker.ca_cert", &c.Broker.CACert},
		{"broker.client_cert", &c.Broker.ClientCert},
		{"broker.client_key", &c.Broker.ClientKey},
	} {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = ""
			continue
		}
		if *field.value, err = expandPath(strings.TrimSpace(*field.value)); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	return nil
}

func (c *Config) normalizeAuth() {
	if value, ok := lookupEnv("MACHINE_AUTH_URL"); ok {
		c.Auth.BaseURL = value
	}
	c.Auth.BaseURL = strings.TrimRight(strings.TrimSpace(c.Auth.BaseURL), "/")
	if c.Auth.RequestTimeout == 0 {
		c.Auth.RequestTimeout = defaultAuthTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// lookupEnv reports a non-blank environment value.
func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}
