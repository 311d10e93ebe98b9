package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOfStatus(t *testing.T) {
	cases := map[int]Kind{
		429: RateLimited,
		504: Timeout,
		500: ServiceError,
		503: ServiceError,
		401: Rejected,
		200: Unknown,
	}
	for status, want := range cases {
		if got := KindOfStatus(status); got != want {
			t.Errorf("status %d: %v, want %v", status, got, want)
		}
	}
}

func TestTransient(t *testing.T) {
	rate := &Error{Backend: "tts", Kind: RateLimited, Status: 429, Err: errors.New("slow down")}
	if !Transient(rate) {
		t.Fatal("rate limit should be transient")
	}
	if !Transient(fmt.Errorf("wrapped: %w", rate)) {
		t.Fatal("wrapped rate limit should be transient")
	}
	if Transient(&Error{Kind: Rejected}) {
		t.Fatal("4xx should not be transient")
	}
	if Transient(errors.New("plain")) {
		t.Fatal("unclassified errors are not transient")
	}
}

func TestWrap(t *testing.T) {
	err := Wrap("chat", context.DeadlineExceeded)
	if KindOf(err) != Timeout {
		t.Fatalf("kind = %v", KindOf(err))
	}

	err = Wrap("chat", errors.New("connection refused"))
	if KindOf(err) != Network {
		t.Fatalf("kind = %v", KindOf(err))
	}

	if Wrap("chat", context.Canceled) != context.Canceled {
		t.Fatal("cancellation must pass through")
	}
}
