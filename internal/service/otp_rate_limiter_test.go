package service

import (
	"testing"
	"time"
)

func TestOTPRateLimiterAllow(t *testing.T) {
	l := NewOTPRateLimiter(time.Minute, 3)

	for i := 0; i < 3; i++ {
		if !l.Allow("79991234567") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("79991234567") {
		t.Fatalf("fourth request within the window should be denied")
	}
	if !l.Allow("other-user") {
		t.Fatalf("different keys keep independent budgets")
	}
}

func TestOTPRateLimiterWindowExpiry(t *testing.T) {
	l := NewOTPRateLimiter(30*time.Millisecond, 1)

	if !l.Allow("bob") {
		t.Fatalf("first request should be allowed")
	}
	if l.Allow("bob") {
		t.Fatalf("second request inside the window should be denied")
	}
	time.Sleep(50 * time.Millisecond)
	if !l.Allow("bob") {
		t.Fatalf("request after the window should be allowed again")
	}
}
