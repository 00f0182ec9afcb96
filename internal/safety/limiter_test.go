package safety

import (
	"context"
	"testing"
	"time"
)

func TestLimiterBurstThenDeny(t *testing.T) {
	l := NewLimiter("orders", 3, 1)

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("call %d should fit in the burst", i)
		}
	}
	if l.Allow() {
		t.Fatal("fourth immediate call should be denied")
	}
}

func TestLimiterRefills(t *testing.T) {
	l := NewLimiter("orders", 5, 1000)

	if !l.AllowN(5) {
		t.Fatal("full bucket should cover capacity")
	}
	if l.Allow() {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(20 * time.Millisecond)

	if !l.Allow() {
		t.Fatal("bucket should have refilled")
	}
}

func TestLimiterNeverExceedsCapacity(t *testing.T) {
	l := NewLimiter("orders", 2, 1000)

	time.Sleep(20 * time.Millisecond)

	if !l.AllowN(2) {
		t.Fatal("capacity should be available")
	}
	if l.Allow() {
		t.Fatal("refill must cap at capacity")
	}
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	l := NewLimiter("orders", 1, 1)
	l.Allow() // drain

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Wait(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("Wait did not give up near the deadline")
	}
}

func TestLimiterWaitSucceedsAfterRefill(t *testing.T) {
	l := NewLimiter("orders", 1, 100)
	l.Allow() // drain

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait should have acquired a refilled token: %v", err)
	}
}

func TestLimiterManagerReusesInstances(t *testing.T) {
	m := NewLimiterManager()

	a := m.GetOrCreate("orders", 10, 10)
	b := m.GetOrCreate("orders", 99, 99)
	if a != b {
		t.Fatal("GetOrCreate created a second limiter for the same name")
	}

	if _, ok := m.Get("market_data"); ok {
		t.Fatal("Get returned a limiter that was never created")
	}

	stats := m.Stats()
	if len(stats) != 1 || stats[0].Name != "orders" || stats[0].Capacity != 10 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
