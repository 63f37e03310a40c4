package ratelimit

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"mdsaad/internal/clock"
)

// The limiter must never admit more than the window limit within any
// window-sized span, no matter how calls and clock advances interleave.
func TestPropWindowNeverOverAdmits(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 10).Draw(t, "limit")
		windowMS := rapid.IntRange(100, 5000).Draw(t, "window_ms")
		spec := Spec{Requests: limit, Window: time.Duration(windowMS) * time.Millisecond}

		clk := clock.NewFake(time.Unix(1_700_000_000, 0))
		l := New(clk)

		var admitted []time.Time
		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(t, "advance") {
				clk.Advance(time.Duration(rapid.IntRange(0, windowMS).Draw(t, "delta_ms")) * time.Millisecond)
			}
			if l.Admit("p", "/e", spec).OK {
				admitted = append(admitted, clk.Now())
			}
			// Count admissions inside the current window span.
			cutoff := clk.Now().Add(-spec.Window)
			inWindow := 0
			for _, ts := range admitted {
				if ts.After(cutoff) {
					inWindow++
				}
			}
			if inWindow > limit {
				t.Fatalf("%d admissions within %v, limit %d", inWindow, spec.Window, limit)
			}
		}
	})
}

// After a window_full denial, advancing exactly retry_after must admit.
func TestPropRetryAfterIsSound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 5).Draw(t, "limit")
		windowMS := rapid.IntRange(200, 3000).Draw(t, "window_ms")
		spec := Spec{Requests: limit, Window: time.Duration(windowMS) * time.Millisecond}

		clk := clock.NewFake(time.Unix(1_700_000_000, 0))
		l := New(clk)

		// Fill the window with spread-out admissions.
		for i := 0; i < limit; i++ {
			if d := l.Admit("p", "/e", spec); !d.OK {
				t.Fatalf("fill admit %d denied", i)
			}
			clk.Advance(time.Duration(rapid.IntRange(0, windowMS/(limit+1)).Draw(t, "gap_ms")) * time.Millisecond)
		}

		d := l.Admit("p", "/e", spec)
		if d.OK {
			// Spread advances aged the oldest admission out already.
			return
		}
		if d.RetryAfter <= 0 {
			t.Fatalf("retry_after must be positive, got %v", d.RetryAfter)
		}
		clk.Advance(d.RetryAfter)
		if d := l.Admit("p", "/e", spec); !d.OK {
			t.Fatalf("denied after waiting retry_after: %+v", d)
		}
	})
}
