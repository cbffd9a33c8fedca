package api

import (
	"testing"
	"time"
)

func TestRateLimiterExhaustsAndRefills(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(3)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d denied", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("fourth request allowed")
	}
	if !rl.Allow("10.0.0.2") {
		t.Fatal("limits must be per IP")
	}

	now = now.Add(20 * time.Second)
	if !rl.Allow("10.0.0.1") {
		t.Fatal("expected one token after 20s at 3/min")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("refill should add exactly one token")
	}
}

func TestRateLimiterCleanupRemovesStaleEntries(t *testing.T) {
	rl := NewRateLimiter(1000)
	rl.SetCleanupPolicy(10*time.Millisecond, 20*time.Millisecond)

	ip := "127.0.0.1"
	if !rl.Allow(ip) {
		t.Fatalf("expected allow on first request")
	}

	rl.ipMu.Lock()
	rl.ipLimits[ip].lastRefill = time.Now().Add(-time.Minute)
	rl.lastCleanup = time.Now().Add(-time.Minute)
	rl.ipMu.Unlock()

	rl.Allow("127.0.0.2")

	rl.ipMu.Lock()
	_, exists := rl.ipLimits[ip]
	rl.ipMu.Unlock()
	if exists {
		t.Fatalf("expected stale ip limit to be cleaned up")
	}
}

func TestParseRemoteIP(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1:5555": "127.0.0.1",
		"[::1]:80":       "::1",
		"10.1.2.3":       "10.1.2.3",
		"":               "unknown",
		"garbage":        "unknown",
	}
	for in, want := range tests {
		if got := ipString(parseRemoteIP(in)); got != want {
			t.Fatalf("parseRemoteIP(%q) = %q, want %q", in, got, want)
		}
	}
}
