//go:build e2e

package e2e

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// TestE2E_RedisCacheSurvivesProcessRestarts runs the CLI twice with the
// redis cache backend: once against the simulator to fill the cache, once
// with the simulator stopped.
// Expectation: the first run persists a currency table under
// mdsaad:cache:currency:*; the second run answers entirely from redis and
// still exits 0 with the upstream gone.
// Requires a local Redis at 127.0.0.1:6379; skips otherwise.
func TestE2E_RedisCacheSurvivesProcessRestarts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping: Redis not reachable at 127.0.0.1:6379 (start one with: docker run --rm -p 6379:6379 redis:7). Error: %v", err)
	}

	// Clean slate for the namespace this test writes.
	keys, err := rdb.Keys(ctx, "mdsaad:cache:currency:*").Result()
	if err != nil {
		t.Fatalf("redis KEYS: %v", err)
	}
	if len(keys) > 0 {
		if err := rdb.Del(ctx, keys...).Err(); err != nil {
			t.Fatalf("redis DEL: %v", err)
		}
	}

	sim := startSim(t)
	cfg := simConfig(sim.baseURL)
	cfg["cache"] = map[string]interface{}{"backend": "redis", "redisAddr": "127.0.0.1:6379"}
	home := writeHome(t, cfg)
	exe := buildCLI(t)

	stdout, stderr, code := runCLI(t, exe, home, "convert", "250", "USD", "EUR")
	if code != 0 {
		t.Fatalf("first run exit = %d, want 0; stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "250 USD = ") {
		t.Fatalf("first run stdout does not carry the conversion: %q", stdout)
	}

	keys, err = rdb.Keys(ctx, "mdsaad:cache:currency:*").Result()
	if err != nil {
		t.Fatalf("redis KEYS after first run: %v", err)
	}
	if len(keys) == 0 {
		t.Fatalf("no mdsaad:cache:currency:* keys in redis after a currency conversion")
	}

	// Second process, upstream gone: the table must come out of redis.
	sim.stop()

	stdout, stderr, code = runCLI(t, exe, home, "convert", "250", "USD", "EUR")
	if code != 0 {
		t.Fatalf("second run exit = %d, want 0 (cached table); stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "250 USD = ") {
		t.Fatalf("second run stdout does not carry the conversion: %q", stdout)
	}
}
