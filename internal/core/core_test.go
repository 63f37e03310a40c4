package core

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/goleak"

	"mdsaad/internal/clock"
	"mdsaad/internal/config"
	"mdsaad/internal/history"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// testConfig keeps cores off the network and off the user's home dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.CacheBackend = "none"
	cfg.UseProxy = false
	return cfg
}

func newTestCore(t *testing.T, cfg *config.Config) *Core {
	t.Helper()
	c, err := New(Options{
		Config:  cfg,
		Clock:   clock.NewFake(time.Date(2024, 11, 1, 8, 0, 0, 0, time.UTC)),
		Log:     discardLog(),
		Version: "test",
	})
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	return c
}

func TestNewWiresFabric(t *testing.T) {
	c := newTestCore(t, testConfig(t))
	defer c.Close()

	if c.Registry == nil || c.Dispatch == nil || c.Cache == nil || c.History == nil {
		t.Fatalf("fabric components missing: %+v", c)
	}
	if c.Limiter == nil || c.Breaker == nil {
		t.Fatalf("admission components missing")
	}
	if c.Chat == nil || c.Weather == nil || c.Convert == nil {
		t.Fatalf("operation services missing")
	}
	if c.Proxy != nil {
		t.Fatalf("proxy client built despite UseProxy=false")
	}
	// The built-in table should be present without any user config.
	if len(c.Registry.All()) == 0 {
		t.Fatalf("registry has no providers")
	}
}

func TestProxyClientFollowsConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.UseProxy = true
	c := newTestCore(t, cfg)
	if c.Proxy == nil {
		t.Fatalf("UseProxy=true with URLs should build a relay client")
	}
	c.Close()

	cfg2 := testConfig(t)
	cfg2.UseProxy = true
	cfg2.ProxyURLs = nil
	c2 := newTestCore(t, cfg2)
	defer c2.Close()
	if c2.Proxy != nil {
		t.Fatalf("no relay URLs should mean no relay client")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := newTestCore(t, testConfig(t))
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestHistorySurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.UseProxy = false

	c1 := newTestCore(t, cfg)
	c1.History.Append(history.Entry{
		Kind:     "convert",
		Query:    "5 km mi",
		Result:   "3.106856 mi",
		Provider: "local",
	})
	if err := c1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A fresh core over the same directory restores the mirrored buffer
	// through the file backend.
	c2 := newTestCore(t, config.Default(dir))
	defer c2.Close()
	got := c2.History.Recent(10)
	if len(got) != 1 {
		t.Fatalf("expected 1 restored entry, got %d", len(got))
	}
	if got[0].Query != "5 km mi" || got[0].Kind != "convert" {
		t.Fatalf("restored entry mangled: %+v", got[0])
	}
}

func TestBreakerServesAsRegistryResetter(t *testing.T) {
	c := newTestCore(t, testConfig(t))
	defer c.Close()

	id := c.Registry.All()[0].ID
	if err := c.Registry.ResetCircuit(id); err != nil {
		t.Fatalf("reset circuit: %v", err)
	}
	// The reset reaches the breaker: the circuit now exists and is closed.
	stats := c.Breaker.Snapshot()
	if len(stats) != 1 || stats[0].Provider != id {
		t.Fatalf("expected one circuit for %s, got %+v", id, stats)
	}
	if stats[0].State.String() != "CLOSED" {
		t.Fatalf("expected closed circuit, got %s", stats[0].State)
	}
}
