package solana

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestRejectionMatcher_Defaults(t *testing.T) {
	m := NewRejectionMatcher(nil)

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"status 403", errors.New("http status 403 Forbidden: go away"), true},
		{"cors", errors.New("blocked by CORS policy"), true},
		{"rpc code", fmt.Errorf("call: %w", &RPCError{Code: -32052, Message: "API key is not allowed to access blockchain"}), true},
		{"mixed case", errors.New("ACCESS DENIED"), true},
		{"transient", errors.New("connection reset by peer"), false},
		{"server error", errors.New("http status 500 Internal Server Error"), false},
		{"timeout kind", newError(KindTimeout, "getSlot", errors.New("blocked waiting")), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := m.Match(tt.err)
			if got != tt.want {
				t.Errorf("Match(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRejectionMatcher_Configurable(t *testing.T) {
	m := NewRejectionMatcher([]string{})
	if _, ok := m.Match(errors.New("403 forbidden")); ok {
		t.Fatal("empty pattern list should match nothing")
	}

	m.AddPattern("  Quota Exhausted ")
	m.AddPattern("quota exhausted")
	m.AddPattern("")
	if got := m.Patterns(); len(got) != 1 || got[0] != "quota exhausted" {
		t.Fatalf("unexpected patterns %v", got)
	}

	pattern, ok := m.Match(errors.New("provider says QUOTA EXHAUSTED"))
	if !ok || pattern != "quota exhausted" {
		t.Errorf("expected match on added pattern, got %q %v", pattern, ok)
	}
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("resolve: %w", newError(KindMalformed, "getTransaction", errors.New("bad")))
	if !IsKind(err, KindMalformed) {
		t.Error("expected malformed through wrapping")
	}
	if IsKind(err, KindTimeout) {
		t.Error("unexpected timeout kind")
	}
	if KindOf(context.Canceled) != 0 {
		t.Error("plain errors carry no kind")
	}
}
