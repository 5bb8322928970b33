// Package system exercises the wall clock adapter.
package system

import (
	"testing"
	"time"
)

// TestClockNowDefaultsToUTC ensures a nil location reports UTC.
func TestClockNowDefaultsToUTC(t *testing.T) {
	t.Parallel()

	clk := New(nil)
	before := time.Now().Add(-time.Second)
	got := clk.Now()
	after := time.Now().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockNowInLocation checks the configured zone is applied.
func TestClockNowInLocation(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("JST", 9*60*60)
	got := New(tokyo).Now()
	if got.Location() != tokyo {
		t.Fatalf("expected JST location, got %v", got.Location())
	}
}

// TestClockSince checks elapsed time is non-negative.
func TestClockSince(t *testing.T) {
	t.Parallel()

	clk := New(nil)
	start := clk.Now()
	if d := clk.Since(start); d < 0 {
		t.Fatalf("expected non-negative duration, got %v", d)
	}
}
