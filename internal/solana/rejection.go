package solana

import (
	"strings"
	"sync"
)

// DefaultRejectionPatterns are error fragments that indicate the provider
// refuses HTTP JSON-RPC from this client rather than a transient fault.
var DefaultRejectionPatterns = []string{
	"403",
	"forbidden",
	"cors",
	"access denied",
	"not allowed",
	"blocked",
	"-32052",
	"api key",
	"method not found for http",
}

// RejectionMatcher classifies errors by case-insensitive substring match.
type RejectionMatcher struct {
	mu       sync.RWMutex
	patterns []string
}

// NewRejectionMatcher builds a matcher. A nil slice selects the defaults;
// an empty non-nil slice matches nothing.
func NewRejectionMatcher(patterns []string) *RejectionMatcher {
	if patterns == nil {
		patterns = DefaultRejectionPatterns
	}
	m := &RejectionMatcher{}
	for _, p := range patterns {
		m.AddPattern(p)
	}
	return m
}

// AddPattern extends the matcher. Blank patterns are ignored.
func (m *RejectionMatcher) AddPattern(pattern string) {
	p := strings.ToLower(strings.TrimSpace(pattern))
	if p == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.patterns {
		if existing == p {
			return
		}
	}
	m.patterns = append(m.patterns, p)
}

// Patterns returns the active patterns.
func (m *RejectionMatcher) Patterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.patterns...)
}

// Match returns the first pattern found in err's text.
func (m *RejectionMatcher) Match(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	if k := KindOf(err); k == KindTimeout || k == KindCorrelation {
		return "", false
	}
	text := strings.ToLower(err.Error())

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.patterns {
		if strings.Contains(text, p) {
			return p, true
		}
	}
	return "", false
}
