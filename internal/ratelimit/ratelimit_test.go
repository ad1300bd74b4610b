package ratelimit

import "testing"

func TestAllowWithinBurst(t *testing.T) {
	l := New(10, 3)
	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("request %d within burst should be allowed", i)
		}
	}
}

func TestAllowRejectsBeyondBurst(t *testing.T) {
	l := New(1, 2)
	for i := 0; i < 2; i++ {
		if !l.Allow() {
			t.Fatalf("request %d within burst should be allowed", i)
		}
	}
	if l.Allow() {
		t.Fatal("expected request beyond burst to be rejected")
	}
}
