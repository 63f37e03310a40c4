package ops

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"mdsaad/internal/breaker"
	"mdsaad/internal/cache"
	"mdsaad/internal/clock"
	"mdsaad/internal/config"
	"mdsaad/internal/dispatch"
	"mdsaad/internal/history"
	"mdsaad/internal/provider"
	"mdsaad/internal/proxy"
	"mdsaad/internal/ratelimit"
)

const openAIOK = `{"id":"cmpl-1","model":"x","choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func memStore(t *testing.T, clk clock.Clock) *cache.Store {
	t.Helper()
	s, err := cache.New(cache.Options{Clock: clk, Log: quietLogger()})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	return s
}

// testDeps bundles the knobs the harness varies per test.
type testDeps struct {
	providers []provider.Provider
	proxyURLs []string
	budgets   map[string]int
	clk       clock.Clock
	useProxy  bool
}

// newDeps wires a Deps the way core does, scaled down for tests.
func newDeps(t *testing.T, td testDeps) Deps {
	t.Helper()
	log := quietLogger()
	clk := td.clk
	if clk == nil {
		clk = clock.System{}
	}
	brk := breaker.New(clk, log)
	reg := provider.NewRegistry(td.providers, brk, log)
	d := dispatch.New(dispatch.Options{
		Registry: reg,
		Limiter:  ratelimit.New(clk),
		Breaker:  brk,
		Clock:    clk,
		Log:      log,
		Version:  "test",
	})
	var relay *proxy.Client
	if len(td.proxyURLs) > 0 {
		relay = proxy.NewClient(proxy.Options{
			URLs:    td.proxyURLs,
			Log:     log,
			Version: "test",
			Budgets: td.budgets,
		})
	}
	cfg := config.Default("")
	cfg.UseProxy = td.useProxy
	return Deps{
		Registry: reg,
		Dispatch: d,
		Proxy:    relay,
		Cache:    memStore(t, clk),
		History:  history.NewBuffer(history.Options{Cap: 50, Clock: clk, Log: log}),
		Config:   cfg,
		Clock:    clk,
		Log:      log,
	}
}

func chatProvider(id, baseURL string, priority int) provider.Provider {
	return provider.Provider{
		ID:           id,
		AdapterID:    provider.AdapterOpenAIChat,
		BaseURL:      baseURL,
		Credential:   "test-key",
		Capabilities: []provider.Capability{provider.CapChat},
		Priority:     priority,
		Enabled:      true,
		DefaultModel: "x",
		Timeout:      2 * time.Second,
		RateLimit:    ratelimit.Spec{Requests: 1000, Window: time.Minute},
		Circuit:      breaker.Spec{FailThreshold: 50, OpenFor: time.Minute},
	}
}

func countingServer(t *testing.T, calls *int32, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func statusHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}
