package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"mdsaad/internal/breaker"
	"mdsaad/internal/clock"
	"mdsaad/internal/provider"
	"mdsaad/internal/ratelimit"
)

const openAIOK = `{"id":"cmpl-1","model":"test-model","choices":[{"message":{"role":"assistant","content":"pong"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// newFabric builds a dispatcher over real limiter/breaker instances on the
// system clock; tests keep windows short instead of faking time because
// admission waits run on real timers.
func newFabric(t *testing.T, providers []provider.Provider) *Dispatcher {
	t.Helper()
	log := quietLogger()
	clk := clock.System{}
	brk := breaker.New(clk, log)
	reg := provider.NewRegistry(providers, brk, log)
	return New(Options{
		Registry: reg,
		Limiter:  ratelimit.New(clk),
		Breaker:  brk,
		Clock:    clk,
		Log:      log,
		Version:  "test",
	})
}

func chatProvider(id, baseURL string, priority int) provider.Provider {
	return provider.Provider{
		ID:           id,
		AdapterID:    provider.AdapterOpenAIChat,
		BaseURL:      baseURL,
		EnvKey:       "TEST_" + strings.ToUpper(id) + "_KEY",
		Credential:   "test-key",
		Capabilities: []provider.Capability{provider.CapChat},
		Priority:     priority,
		Enabled:      true,
		DefaultModel: "test-model",
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

func chatPayload() provider.ChatRequest {
	return provider.ChatRequest{Messages: []provider.Message{{Role: "user", Content: "ping"}}}
}

func TestCallFailsOverOnServerError(t *testing.T) {
	var aCalls, bCalls int32
	a := countingServer(t, &aCalls, statusHandler(http.StatusInternalServerError, `{"error":"boom"}`))
	b := countingServer(t, &bCalls, statusHandler(http.StatusOK, openAIOK))

	d := newFabric(t, []provider.Provider{
		chatProvider("alpha", a.URL, 1),
		chatProvider("beta", b.URL, 2),
	})
	reply, err := d.Call(context.Background(), provider.CapChat, chatPayload(), CallOptions{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Provider != "beta" {
		t.Fatalf("provider = %q, want beta", reply.Provider)
	}
	if reply.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", reply.Attempt)
	}
	if atomic.LoadInt32(&aCalls) != 1 || atomic.LoadInt32(&bCalls) != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", aCalls, bCalls)
	}
	norm, ok := reply.Payload.(provider.NormalizedReply)
	if !ok {
		t.Fatalf("payload type %T", reply.Payload)
	}
	if norm.Content != "pong" {
		t.Fatalf("content = %q", norm.Content)
	}
}

func TestCallFirstSuccessShortCircuits(t *testing.T) {
	var aCalls, bCalls int32
	a := countingServer(t, &aCalls, statusHandler(http.StatusOK, openAIOK))
	b := countingServer(t, &bCalls, statusHandler(http.StatusOK, openAIOK))

	d := newFabric(t, []provider.Provider{
		chatProvider("alpha", a.URL, 1),
		chatProvider("beta", b.URL, 2),
	})
	reply, err := d.Call(context.Background(), provider.CapChat, chatPayload(), CallOptions{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Provider != "alpha" || reply.Attempt != 1 {
		t.Fatalf("got %q attempt %d, want alpha attempt 1", reply.Provider, reply.Attempt)
	}
	if atomic.LoadInt32(&bCalls) != 0 {
		t.Fatalf("beta was contacted %d times", bCalls)
	}
}

func TestCallClientErrorsAreTerminal(t *testing.T) {
	for _, status := range []int{400, 401, 402, 403, 404, 422} {
		var aCalls, bCalls int32
		a := countingServer(t, &aCalls, statusHandler(status, `{"error":{"message":"bad key"}}`))
		b := countingServer(t, &bCalls, statusHandler(http.StatusOK, openAIOK))

		d := newFabric(t, []provider.Provider{
			chatProvider("alpha", a.URL, 1),
			chatProvider("beta", b.URL, 2),
		})
		_, err := d.Call(context.Background(), provider.CapChat, chatPayload(), CallOptions{})
		if KindOf(err) != KindClient {
			t.Fatalf("status %d: kind = %v, want CLIENT", status, KindOf(err))
		}
		var ce *CallError
		if !errors.As(err, &ce) {
			t.Fatalf("status %d: error type %T", status, err)
		}
		if ce.Status != status || ce.Provider != "alpha" {
			t.Fatalf("status %d: got status=%d provider=%q", status, ce.Status, ce.Provider)
		}
		if !strings.Contains(ce.Message, "bad key") {
			t.Fatalf("status %d: message %q lost upstream detail", status, ce.Message)
		}
		if atomic.LoadInt32(&bCalls) != 0 {
			t.Fatalf("status %d: fell through to beta", status)
		}
	}
}

func TestCallUpstream429BlocksWindowAndFailsOver(t *testing.T) {
	var aCalls, bCalls int32
	a := countingServer(t, &aCalls, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	b := countingServer(t, &bCalls, statusHandler(http.StatusOK, openAIOK))

	d := newFabric(t, []provider.Provider{
		chatProvider("alpha", a.URL, 1),
		chatProvider("beta", b.URL, 2),
	})

	reply, err := d.Call(context.Background(), provider.CapChat, chatPayload(), CallOptions{})
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if reply.Provider != "beta" {
		t.Fatalf("provider = %q, want beta", reply.Provider)
	}

	// The 429 block outlives the admission budget, so alpha must be skipped
	// without another upstream contact.
	reply, err = d.Call(context.Background(), provider.CapChat, chatPayload(), CallOptions{Budget: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if reply.Provider != "beta" {
		t.Fatalf("second call went to %q", reply.Provider)
	}
	if got := atomic.LoadInt32(&aCalls); got != 1 {
		t.Fatalf("alpha contacted %d times, want 1", got)
	}
}

func TestCallEveryProviderRateLimited(t *testing.T) {
	var aCalls, bCalls int32
	a := countingServer(t, &aCalls, statusHandler(http.StatusOK, openAIOK))
	b := countingServer(t, &bCalls, statusHandler(http.StatusOK, openAIOK))

	pa := chatProvider("alpha", a.URL, 1)
	pa.RateLimit = ratelimit.Spec{Requests: 1, Window: time.Hour}
	pb := chatProvider("beta", b.URL, 2)
	pb.RateLimit = ratelimit.Spec{Requests: 1, Window: time.Hour}
	d := newFabric(t, []provider.Provider{pa, pb})

	ctx := context.Background()
	if _, err := d.Call(ctx, provider.CapChat, chatPayload(), CallOptions{}); err != nil {
		t.Fatalf("warm alpha: %v", err)
	}
	if _, err := d.Call(ctx, provider.CapChat, chatPayload(), CallOptions{}); err != nil {
		t.Fatalf("warm beta: %v", err)
	}

	_, err := d.Call(ctx, provider.CapChat, chatPayload(), CallOptions{Budget: 50 * time.Millisecond})
	if KindOf(err) != KindRateLimited {
		t.Fatalf("kind = %v, want RATE_LIMITED (err %v)", KindOf(err), err)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Fatal("errors.Is(err, ErrRateLimited) = false")
	}
	var ce *CallError
	errors.As(err, &ce)
	if ce.RetryAfter <= 0 || ce.RetryAfter > time.Hour {
		t.Fatalf("retry after = %v", ce.RetryAfter)
	}
	if len(ce.Reasons) != 2 {
		t.Fatalf("reasons = %+v, want one per provider", ce.Reasons)
	}
	for _, r := range ce.Reasons {
		if r.Reason != "rate_limited" {
			t.Fatalf("reason = %+v", r)
		}
	}
	if aCalls != 1 || bCalls != 1 {
		t.Fatalf("upstreams contacted %d/%d times after exhaustion, want 1/1", aCalls, bCalls)
	}
}

func TestCallOpenCircuitSkipsWithoutContact(t *testing.T) {
	var aCalls, bCalls int32
	a := countingServer(t, &aCalls, statusHandler(http.StatusBadGateway, ""))
	b := countingServer(t, &bCalls, statusHandler(http.StatusOK, openAIOK))

	pa := chatProvider("alpha", a.URL, 1)
	pa.Circuit = breaker.Spec{FailThreshold: 2, OpenFor: time.Minute}
	d := newFabric(t, []provider.Provider{pa, chatProvider("beta", b.URL, 2)})

	ctx := context.Background()
	for i := 0; i < 2; i++ { // two failures trip alpha's circuit
		if _, err := d.Call(ctx, provider.CapChat, chatPayload(), CallOptions{}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&aCalls); got != 2 {
		t.Fatalf("alpha contacted %d times, want 2", got)
	}

	reply, err := d.Call(ctx, provider.CapChat, chatPayload(), CallOptions{})
	if err != nil {
		t.Fatalf("call with open circuit: %v", err)
	}
	if reply.Provider != "beta" {
		t.Fatalf("provider = %q", reply.Provider)
	}
	if got := atomic.LoadInt32(&aCalls); got != 2 {
		t.Fatalf("open circuit still contacted alpha (%d calls)", got)
	}
}

func TestCallNoProvidersNamesEnvVars(t *testing.T) {
	p := chatProvider("alpha", "https://unreachable.invalid", 1)
	p.Credential = "" // present but unconfigured
	d := newFabric(t, []provider.Provider{p})

	_, err := d.Call(context.Background(), provider.CapChat, chatPayload(), CallOptions{})
	if KindOf(err) != KindNoProviders {
		t.Fatalf("kind = %v, want NO_PROVIDERS", KindOf(err))
	}
	if !strings.Contains(err.Error(), "TEST_ALPHA_KEY") {
		t.Fatalf("error %q does not name the credential env var", err)
	}
	if !errors.Is(err, ErrNoProviders) {
		t.Fatal("errors.Is(err, ErrNoProviders) = false")
	}
}

func TestCallDisabledProviderIsNotACandidate(t *testing.T) {
	var aCalls, bCalls int32
	a := countingServer(t, &aCalls, statusHandler(http.StatusOK, openAIOK))
	b := countingServer(t, &bCalls, statusHandler(http.StatusOK, openAIOK))

	pa := chatProvider("alpha", a.URL, 1)
	pa.Enabled = false
	d := newFabric(t, []provider.Provider{pa, chatProvider("beta", b.URL, 2)})

	reply, err := d.Call(context.Background(), provider.CapChat, chatPayload(), CallOptions{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Provider != "beta" || atomic.LoadInt32(&aCalls) != 0 {
		t.Fatalf("disabled provider was used (provider %q, %d calls)", reply.Provider, aCalls)
	}
}

func TestCallCancellationLeavesCircuitAlone(t *testing.T) {
	var aCalls int32
	release := make(chan struct{})
	a := countingServer(t, &aCalls, func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&aCalls) == 1 {
			<-release
			return
		}
		statusHandler(http.StatusOK, openAIOK)(w, r)
	})
	defer close(release)

	pa := chatProvider("alpha", a.URL, 1)
	pa.Circuit = breaker.Spec{FailThreshold: 1, OpenFor: time.Hour}
	d := newFabric(t, []provider.Provider{pa})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := d.Call(ctx, provider.CapChat, chatPayload(), CallOptions{})
	if KindOf(err) != KindCancelled {
		t.Fatalf("kind = %v, want CANCELLED", KindOf(err))
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatal("cause chain lost context.Canceled")
	}

	// Had the abort been recorded as a failure, threshold 1 would have
	// opened the circuit and this call could not reach the provider.
	reply, err := d.Call(context.Background(), provider.CapChat, chatPayload(), CallOptions{})
	if err != nil {
		t.Fatalf("follow-up call: %v", err)
	}
	if reply.Provider != "alpha" {
		t.Fatalf("provider = %q", reply.Provider)
	}
}

func TestCallAttemptTimeoutFailsOver(t *testing.T) {
	var aCalls, bCalls int32
	a := countingServer(t, &aCalls, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	b := countingServer(t, &bCalls, statusHandler(http.StatusOK, openAIOK))

	pa := chatProvider("alpha", a.URL, 1)
	pa.Timeout = 100 * time.Millisecond
	d := newFabric(t, []provider.Provider{pa, chatProvider("beta", b.URL, 2)})

	start := time.Now()
	reply, err := d.Call(context.Background(), provider.CapChat, chatPayload(), CallOptions{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Provider != "beta" {
		t.Fatalf("provider = %q, want beta", reply.Provider)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("slow provider held the call for %v", elapsed)
	}
}

func TestCallWaitsOutShortRateDenial(t *testing.T) {
	var aCalls int32
	a := countingServer(t, &aCalls, statusHandler(http.StatusOK, openAIOK))

	pa := chatProvider("alpha", a.URL, 1)
	pa.RateLimit = ratelimit.Spec{Requests: 1, Window: 200 * time.Millisecond}
	d := newFabric(t, []provider.Provider{pa})

	ctx := context.Background()
	if _, err := d.Call(ctx, provider.CapChat, chatPayload(), CallOptions{}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	start := time.Now()
	reply, err := d.Call(ctx, provider.CapChat, chatPayload(), CallOptions{})
	if err != nil {
		t.Fatalf("second call should wait out the window, got %v", err)
	}
	if reply.Provider != "alpha" {
		t.Fatalf("provider = %q", reply.Provider)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("second call admitted after only %v, window not respected", elapsed)
	}
	if got := atomic.LoadInt32(&aCalls); got != 2 {
		t.Fatalf("alpha contacted %d times, want 2", got)
	}
}

func TestCallPreferredProviderGoesFirst(t *testing.T) {
	var aCalls, bCalls int32
	a := countingServer(t, &aCalls, statusHandler(http.StatusOK, openAIOK))
	b := countingServer(t, &bCalls, statusHandler(http.StatusOK, openAIOK))

	d := newFabric(t, []provider.Provider{
		chatProvider("alpha", a.URL, 1),
		chatProvider("beta", b.URL, 2),
	})
	reply, err := d.Call(context.Background(), provider.CapChat, chatPayload(), CallOptions{Preferred: "beta"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Provider != "beta" || reply.Attempt != 1 {
		t.Fatalf("got %q attempt %d, want beta attempt 1", reply.Provider, reply.Attempt)
	}
	if atomic.LoadInt32(&aCalls) != 0 {
		t.Fatal("alpha was contacted despite preference for beta")
	}
}

func TestCallUnparsableBodyFailsOver(t *testing.T) {
	var aCalls, bCalls int32
	a := countingServer(t, &aCalls, statusHandler(http.StatusOK, `{"choices":[]}`))
	b := countingServer(t, &bCalls, statusHandler(http.StatusOK, openAIOK))

	d := newFabric(t, []provider.Provider{
		chatProvider("alpha", a.URL, 1),
		chatProvider("beta", b.URL, 2),
	})
	reply, err := d.Call(context.Background(), provider.CapChat, chatPayload(), CallOptions{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Provider != "beta" {
		t.Fatalf("provider = %q, want beta", reply.Provider)
	}
}

func TestCallUnsupportedPayloadSkipsProvider(t *testing.T) {
	var frankCalls int32
	frank := countingServer(t, &frankCalls, statusHandler(http.StatusOK,
		`{"amount":1.0,"base":"USD","date":"2024-01-02","rates":{"EUR":0.91}}`))

	erapi := provider.Provider{
		ID:           "erapi",
		AdapterID:    provider.AdapterOpenERAPI,
		BaseURL:      "http://127.0.0.1:1", // must never be dialed
		Keyless:      true,
		Capabilities: []provider.Capability{provider.CapExchangeRate, provider.CapExchangeHistory},
		Priority:     1,
		Enabled:      true,
		Timeout:      time.Second,
	}
	frankfurter := provider.Provider{
		ID:           "frankfurter",
		AdapterID:    provider.AdapterFrankfurter,
		BaseURL:      frank.URL,
		Keyless:      true,
		Capabilities: []provider.Capability{provider.CapExchangeRate, provider.CapExchangeHistory},
		Priority:     2,
		Enabled:      true,
		Timeout:      time.Second,
	}
	d := newFabric(t, []provider.Provider{erapi, frankfurter})

	reply, err := d.Call(context.Background(), provider.CapExchangeHistory,
		provider.RateQuery{Base: "USD", Date: "2024-01-02"}, CallOptions{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Provider != "frankfurter" {
		t.Fatalf("provider = %q", reply.Provider)
	}
	table, ok := reply.Payload.(*provider.RateTable)
	if !ok {
		t.Fatalf("payload type %T", reply.Payload)
	}
	if table.Rates["EUR"] != 0.91 || table.Rates["USD"] != 1 {
		t.Fatalf("rates = %v", table.Rates)
	}
}

func TestCallRejectsBadInputBeforeDialing(t *testing.T) {
	var aCalls int32
	a := countingServer(t, &aCalls, statusHandler(http.StatusOK, openAIOK))
	d := newFabric(t, []provider.Provider{chatProvider("alpha", a.URL, 1)})

	_, err := d.Call(context.Background(), provider.CapChat,
		provider.ChatRequest{Messages: []provider.Message{{Role: "user", Content: "   "}}}, CallOptions{})
	if KindOf(err) != KindInvalidInput {
		t.Fatalf("kind = %v, want INVALID_INPUT", KindOf(err))
	}
	if atomic.LoadInt32(&aCalls) != 0 {
		t.Fatal("invalid input reached the upstream")
	}
}

func TestCallExhaustionCarriesReasonTrail(t *testing.T) {
	var aCalls, bCalls int32
	a := countingServer(t, &aCalls, statusHandler(http.StatusInternalServerError, ""))
	b := countingServer(t, &bCalls, statusHandler(http.StatusServiceUnavailable, ""))

	d := newFabric(t, []provider.Provider{
		chatProvider("alpha", a.URL, 1),
		chatProvider("beta", b.URL, 2),
	})
	_, err := d.Call(context.Background(), provider.CapChat, chatPayload(), CallOptions{})
	if KindOf(err) != KindUpstreamUnavailable {
		t.Fatalf("kind = %v, want UPSTREAM_UNAVAILABLE", KindOf(err))
	}
	var ce *CallError
	if !errors.As(err, &ce) {
		t.Fatalf("error type %T", err)
	}
	want := []AttemptReason{
		{Provider: "alpha", Reason: "http_500"},
		{Provider: "beta", Reason: "http_503"},
	}
	if len(ce.Reasons) != len(want) {
		t.Fatalf("reasons = %+v", ce.Reasons)
	}
	for i, r := range want {
		if ce.Reasons[i].Provider != r.Provider || ce.Reasons[i].Reason != r.Reason {
			t.Fatalf("reason %d = %+v, want %+v", i, ce.Reasons[i], r)
		}
	}
	if !strings.Contains(err.Error(), "alpha=http_500") {
		t.Fatalf("rendered error %q omits per-provider trail", err)
	}
}

func TestCallSendsHardenedHeaders(t *testing.T) {
	var calls int32
	var gotUA, gotAuth, gotFwd string
	a := countingServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAuth = r.Header.Get("Authorization")
		gotFwd = r.Header.Get("X-Forwarded-For")
		statusHandler(http.StatusOK, openAIOK)(w, r)
	})
	d := newFabric(t, []provider.Provider{chatProvider("alpha", a.URL, 1)})

	if _, err := d.Call(context.Background(), provider.CapChat, chatPayload(), CallOptions{}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if gotUA != "mdsaad-cli/test" {
		t.Fatalf("User-Agent = %q", gotUA)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotFwd != "" {
		t.Fatalf("X-Forwarded-For leaked: %q", gotFwd)
	}
}
