// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeNow(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := Fake(start)

	if !clk.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", clk.Now(), start)
	}

	clk.Advance(90 * time.Second)
	want := start.Add(90 * time.Second)
	if !clk.Now().Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", clk.Now(), want)
	}
}

func TestFakeTicker(t *testing.T) {
	clk := Fake(time.Unix(0, 0))
	ticker := clk.NewTicker(time.Minute)
	defer ticker.Stop()

	clk.Advance(time.Minute)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire after one interval")
	}

	// Two intervals in one Advance: the channel has capacity 1, so
	// only one tick is observable, matching time.Ticker.
	clk.Advance(2 * time.Minute)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire after two intervals")
	}

	ticker.Stop()
	clk.Advance(time.Minute)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}
