package ratelimit

import (
	"context"
	"testing"
)

func TestAllow_NilClientAlwaysAllows(t *testing.T) {
	l := NewLimiter(nil, 10, true)

	for i := 0; i < 100; i++ {
		allowed, err := l.Allow(context.Background(), "batch_1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Fatal("nil-client limiter must always allow")
		}
	}
}

func TestAllow_ZeroRateDisablesLimiting(t *testing.T) {
	l := NewLimiter(nil, 0, false)

	allowed, err := l.Allow(context.Background(), "batch_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Error("zero rate must disable limiting")
	}
}

func TestClose_NilClientIsNoop(t *testing.T) {
	l := NewLimiter(nil, 10, true)
	if err := l.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
