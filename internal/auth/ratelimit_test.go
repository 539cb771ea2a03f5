package auth

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterCheckAndRecord(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter(newTestRedis(t), 3, time.Minute)

	for i := 0; i < 3; i++ {
		res, err := rl.Check(ctx, "1.2.3.4")
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("attempt %d: expected allowed", i)
		}
		if err := rl.Record(ctx, "1.2.3.4"); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	res, err := rl.Check(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Allowed {
		t.Error("expected rate limit to be exceeded after 3 recorded attempts")
	}
}

func TestRateLimiterReset(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter(newTestRedis(t), 1, time.Minute)

	_ = rl.Record(ctx, "5.6.7.8")
	res, _ := rl.Check(ctx, "5.6.7.8")
	if res.Allowed {
		t.Fatal("expected limit reached")
	}

	if err := rl.Reset(ctx, "5.6.7.8"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	res, err := rl.Check(ctx, "5.6.7.8")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.Allowed {
		t.Error("expected allowed after reset")
	}
}
