package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"mdsaad/internal/provider"
)

const chatReplyJSON = `{"content":"hi","model":"relay-model"}`

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newClient(t *testing.T, urls ...string) *Client {
	t.Helper()
	return NewClient(Options{URLs: urls, Log: quietLogger(), Version: "test"})
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
	return provider.ChatRequest{Messages: []provider.Message{{Role: "user", Content: "hello"}}}
}

// deadURL returns a loopback URL nothing listens on, for connection-refused
// transitions.
func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func TestCallFirstURLWins(t *testing.T) {
	var aCalls, bCalls int32
	a := countingServer(t, &aCalls, statusHandler(http.StatusOK, chatReplyJSON))
	b := countingServer(t, &bCalls, statusHandler(http.StatusOK, chatReplyJSON))

	c := newClient(t, a.URL, b.URL)
	res, err := c.Call(context.Background(), provider.CapChat, chatPayload())
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.URL != a.URL || res.Attempt != 1 {
		t.Fatalf("served by %q attempt %d", res.URL, res.Attempt)
	}
	reply, ok := res.Payload.(provider.NormalizedReply)
	if !ok {
		t.Fatalf("payload type %T", res.Payload)
	}
	if reply.Content != "hi" {
		t.Fatalf("content = %q", reply.Content)
	}
	if atomic.LoadInt32(&bCalls) != 0 {
		t.Fatal("secondary relay contacted despite primary success")
	}
}

func TestCallTransitionsOnServerError(t *testing.T) {
	var aCalls, bCalls int32
	a := countingServer(t, &aCalls, statusHandler(http.StatusBadGateway, ""))
	b := countingServer(t, &bCalls, statusHandler(http.StatusOK, chatReplyJSON))

	c := newClient(t, a.URL, b.URL)
	res, err := c.Call(context.Background(), provider.CapChat, chatPayload())
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.URL != b.URL || res.Attempt != 2 {
		t.Fatalf("served by %q attempt %d, want secondary attempt 2", res.URL, res.Attempt)
	}
}

func TestCallExhaustsAllURLs(t *testing.T) {
	dead := deadURL(t)
	var bCalls int32
	b := countingServer(t, &bCalls, statusHandler(http.StatusServiceUnavailable, ""))

	c := newClient(t, dead, b.URL)
	_, err := c.Call(context.Background(), provider.CapChat, chatPayload())
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("error type %T", err)
	}
	if len(ex.Attempts) != 2 {
		t.Fatalf("attempts = %+v, want two", ex.Attempts)
	}
	if ex.Attempts[0].Reason != "connection" {
		t.Fatalf("attempt 0 reason = %q", ex.Attempts[0].Reason)
	}
	if ex.Attempts[1].Reason != "http_503" {
		t.Fatalf("attempt 1 reason = %q", ex.Attempts[1].Reason)
	}
}

func TestCall429DoesNotFallThrough(t *testing.T) {
	var aCalls, bCalls int32
	a := countingServer(t, &aCalls, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	b := countingServer(t, &bCalls, statusHandler(http.StatusOK, chatReplyJSON))

	c := newClient(t, a.URL, b.URL)
	_, err := c.Call(context.Background(), provider.CapChat, chatPayload())
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if !rle.Remote {
		t.Fatal("throttle not marked remote")
	}
	if rle.RetryAfter != 2*time.Minute {
		t.Fatalf("retry after = %v", rle.RetryAfter)
	}
	if atomic.LoadInt32(&bCalls) != 0 {
		t.Fatal("429 fell through to the next relay")
	}
}

func TestCall4xxIsTerminal(t *testing.T) {
	var aCalls, bCalls int32
	a := countingServer(t, &aCalls, statusHandler(http.StatusBadRequest, `{"error":{"message":"malformed prompt"}}`))
	b := countingServer(t, &bCalls, statusHandler(http.StatusOK, chatReplyJSON))

	c := newClient(t, a.URL, b.URL)
	_, err := c.Call(context.Background(), provider.CapChat, chatPayload())
	var ce *ClientError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ClientError", err)
	}
	if ce.Status != http.StatusBadRequest || ce.Message != "malformed prompt" {
		t.Fatalf("got %+v", ce)
	}
	if atomic.LoadInt32(&bCalls) != 0 {
		t.Fatal("terminal 4xx fell through to the next relay")
	}
}

func TestCallRejectsWrongShape(t *testing.T) {
	var aCalls, bCalls int32
	a := countingServer(t, &aCalls, statusHandler(http.StatusOK, `{"unexpected":true}`))
	b := countingServer(t, &bCalls, statusHandler(http.StatusOK, chatReplyJSON))

	c := newClient(t, a.URL, b.URL)
	res, err := c.Call(context.Background(), provider.CapChat, chatPayload())
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.URL != b.URL {
		t.Fatalf("served by %q, want fallback after bad shape", res.URL)
	}
}

func TestCallLocalBudgetDeniesEarly(t *testing.T) {
	var calls int32
	srv := countingServer(t, &calls, statusHandler(http.StatusOK, chatReplyJSON))

	c := NewClient(Options{
		URLs:    []string{srv.URL},
		Log:     quietLogger(),
		Version: "test",
		Budgets: map[string]int{GroupChat: 1},
	})
	if _, err := c.Call(context.Background(), provider.CapChat, chatPayload()); err != nil {
		t.Fatalf("first call: %v", err)
	}

	_, err := c.Call(context.Background(), provider.CapChat, chatPayload())
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rle.Remote {
		t.Fatal("local budget denial marked remote")
	}
	if rle.RetryAfter <= 0 {
		t.Fatalf("retry after = %v", rle.RetryAfter)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("relay contacted %d times, want 1 (denial must be local)", got)
	}
}

func TestCallBudgetsAreIndependentPerGroup(t *testing.T) {
	var calls int32
	srv := countingServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			statusHandler(http.StatusOK, chatReplyJSON)(w, r)
		case "/api/exchange_rate":
			statusHandler(http.StatusOK, `{"base":"USD","date":"2024-01-02","rates":{"EUR":0.91,"USD":1}}`)(w, r)
		default:
			http.NotFound(w, r)
		}
	})

	c := NewClient(Options{
		URLs:    []string{srv.URL},
		Log:     quietLogger(),
		Version: "test",
		Budgets: map[string]int{GroupChat: 1, GroupConvert: 1},
	})
	ctx := context.Background()
	if _, err := c.Call(ctx, provider.CapChat, chatPayload()); err != nil {
		t.Fatalf("chat: %v", err)
	}
	// The spent chat budget must not affect the convert group.
	res, err := c.Call(ctx, provider.CapExchangeRate, provider.RateQuery{Base: "USD"})
	if err != nil {
		t.Fatalf("convert after chat budget spent: %v", err)
	}
	if _, ok := res.Payload.(*provider.RateTable); !ok {
		t.Fatalf("payload type %T", res.Payload)
	}
}

func TestCallDisabledWithoutURLs(t *testing.T) {
	c := newClient(t)
	if c.Enabled() {
		t.Fatal("client with no URLs reports enabled")
	}
	_, err := c.Call(context.Background(), provider.CapChat, chatPayload())
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
}

func TestCallStopsOnCancelledContext(t *testing.T) {
	var calls int32
	srv := countingServer(t, &calls, statusHandler(http.StatusOK, chatReplyJSON))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newClient(t, srv.URL)
	_, err := c.Call(ctx, provider.CapChat, chatPayload())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatal("cancelled call still contacted the relay")
	}
}

func TestGroupMapping(t *testing.T) {
	cases := map[provider.Capability]string{
		provider.CapChat:            GroupChat,
		provider.CapWeatherCurrent:  GroupWeather,
		provider.CapWeatherForecast: GroupWeather,
		provider.CapGeocoding:       GroupWeather,
		provider.CapGeolocate:       GroupWeather,
		provider.CapExchangeRate:    GroupConvert,
		provider.CapExchangeHistory: GroupConvert,
	}
	for cap, want := range cases {
		if got := Group(cap); got != want {
			t.Fatalf("Group(%s) = %q, want %q", cap, got, want)
		}
	}
}

func TestRetryAfterParsing(t *testing.T) {
	h := http.Header{}
	if got := retryAfter(h); got != 0 {
		t.Fatalf("empty header: %v", got)
	}
	h.Set("Retry-After", "90")
	if got := retryAfter(h); got != 90*time.Second {
		t.Fatalf("seconds form: %v", got)
	}
	h.Set("Retry-After", "not-a-number")
	if got := retryAfter(h); got != 0 {
		t.Fatalf("garbage form: %v", got)
	}
}
