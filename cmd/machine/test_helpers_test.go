package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"machine/internal/authkey"
	"machine/internal/config"
	"machine/internal/daemon"
	"machine/internal/events"
	"machine/internal/ingress"
	"machine/internal/logging"
	"machine/internal/machine"
	"machine/internal/tasks"
	"machine/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

// setupCLITestEnv writes a config file pointing at per-test directories and a
// fixed loopback API port.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	for _, key := range []string{"MACHINE_TYPE", "MACHINE_AMQP_URL", "MACHINE_AUTH_URL", "MACHINE_API_TOKEN"} {
		t.Setenv(key, "")
	}

	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = freeLoopbackAddr(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

// startDaemon runs an in-process daemon for env until the test ends.
func (env *cliTestEnv) startDaemon(t *testing.T) {
	t.Helper()
	store, err := tasks.Open(env.cfg)
	if err != nil {
		t.Fatalf("tasks.Open: %v", err)
	}
	logger := logging.NewNop()
	bus := events.NewMemoryBus(env.cfg.Broker.EventsExchange, logger)
	worker := machine.New(env.cfg, store, bus, logger)
	handlers := ingress.New(store, worker, &authkey.Store{}, nil, logger)
	d, err := daemon.New(env.cfg, store, worker, bus, handlers, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		d.Close()
	})
}

func (env *cliTestEnv) openStore(t *testing.T) *tasks.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, env.cfg)
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func freeLoopbackAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
