package testsupport

import (
	"path/filepath"
	"testing"

	"machine/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Work units are shrunk to a millisecond so real processors finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Machine.Type = "A"
	cfgVal.Machine.WorkUnitMillis = 1
	cfgVal.Machine.MinWorkUnits = 1
	cfgVal.Machine.MaxWorkUnits = 1
	cfgVal.Broker.Driver = config.BrokerMemory

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMachineType overrides the machine type on the test config.
func WithMachineType(pieceType string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Machine.Type = pieceType
	}
}

// WithAPIToken enables bearer authentication on the test config.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithAuthURL points public key refreshes at the given base URL.
func WithAuthURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Auth.BaseURL = url
	}
}

// WithRemoveCancelled toggles queue removal on cancellation.
func WithRemoveCancelled(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Machine.RemoveCancelledFromQueue = enabled
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
