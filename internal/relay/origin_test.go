package relay

import (
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
)

func TestOriginPolicy(t *testing.T) {
	testCases := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"Exact match", []string{"http://example.com"}, "http://example.com", true},
		{"Missing origin", []string{"http://example.com"}, "", true},
		{"Different port", []string{"http://localhost:8080"}, "http://localhost:9090", false},
		{"Path ignored", []string{"http://example.com"}, "http://example.com/some/path", true},
		{"Scheme differs", []string{"http://example.com"}, "https://example.com", false},
		{"Case insensitive", []string{"http://Example.COM"}, "HTTP://example.com", true},
		{"Wildcard", []string{"*"}, "https://another.com", true},
		{"Wildcard still rejects malformed", []string{"*"}, "not a url", false},
		{"Empty allow-list", nil, "http://example.com", false},
		{"Invalid configured origin ignored", []string{"example.com"}, "http://example.com", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			logger, _ := test.NewNullLogger()
			p := newOriginPolicy(tc.allowed, logger.WithField("component", "relay"))

			req := httptest.NewRequest("GET", "/ws", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if got := p.check(req); got != tc.want {
				t.Errorf("check(%q) with %v = %v, want %v", tc.origin, tc.allowed, got, tc.want)
			}
		})
	}
}

// TestOriginPolicyLogsBlocked verifies that rejected origins are logged.
func TestOriginPolicyLogsBlocked(t *testing.T) {
	logger, hook := test.NewNullLogger()
	p := newOriginPolicy([]string{"http://example.com"}, logger.WithField("component", "relay"))

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "http://evil.example")
	if p.check(req) {
		t.Fatal("Expected origin to be blocked")
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Data["origin"] != "http://evil.example" {
		t.Errorf("Expected a log entry naming the origin, got %v", entry)
	}
}
