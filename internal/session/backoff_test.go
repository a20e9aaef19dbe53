package session

import (
	"math/rand"
	"testing"
	"time"
)

func TestReconnectPolicyDelay(t *testing.T) {
	p := ReconnectPolicy{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{12, time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt, nil); got != tc.want {
			t.Errorf("attempt %d: got %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestReconnectPolicyJitterBounds(t *testing.T) {
	p := ReconnectPolicy{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2, Jitter: true}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		d := p.Delay(3, rng)
		if d < 200*time.Millisecond || d > 400*time.Millisecond {
			t.Fatalf("jittered delay %v out of range", d)
		}
	}
}

func TestReconnectPolicyMultiplierFloor(t *testing.T) {
	p := ReconnectPolicy{Initial: 50 * time.Millisecond, Multiplier: 0.5}
	if got := p.Delay(4, nil); got != 50*time.Millisecond {
		t.Fatalf("got %v", got)
	}
	if got := (ReconnectPolicy{}).Delay(3, nil); got != 0 {
		t.Fatalf("zero policy: got %v", got)
	}
}

func TestReconnectPolicyExhausted(t *testing.T) {
	p := ReconnectPolicy{MaxAttempts: 2}
	if p.Exhausted(1) || p.Exhausted(2) || !p.Exhausted(3) {
		t.Fatal("budget of 2 misreported")
	}
	if (ReconnectPolicy{}).Exhausted(1000) {
		t.Fatal("zero budget must be unbounded")
	}
}
