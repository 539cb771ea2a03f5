package httpserver

import "testing"

func TestDispatchLimiterAllow(t *testing.T) {
	d := newDispatchLimiter(1, 2)

	if !d.Allow("cluster-a") {
		t.Fatal("expected first dispatch to be allowed")
	}
	if !d.Allow("cluster-a") {
		t.Fatal("expected second dispatch (within burst) to be allowed")
	}
	if d.Allow("cluster-a") {
		t.Fatal("expected third immediate dispatch to exceed burst")
	}
}

func TestDispatchLimiterPerCluster(t *testing.T) {
	d := newDispatchLimiter(1, 1)

	if !d.Allow("cluster-a") {
		t.Fatal("expected cluster-a to be allowed")
	}
	if d.Allow("cluster-a") {
		t.Fatal("expected cluster-a to be exhausted")
	}
	if !d.Allow("cluster-b") {
		t.Fatal("expected cluster-b to have its own independent bucket")
	}
}

func TestDispatchLimiterDisabled(t *testing.T) {
	d := newDispatchLimiter(0, 0)

	for i := 0; i < 5; i++ {
		if !d.Allow("cluster-a") {
			t.Fatalf("attempt %d: expected unlimited dispatch when rate limiting is disabled", i)
		}
	}
}
