package util

import (
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10", " "})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xrip       string
		trusted    *TrustedProxies
		want       string
	}{
		{"untrusted peer ignores forwarding headers", "198.51.100.10:1234", "203.0.113.5", "203.0.113.6", trusted, "198.51.100.10"},
		{"nil proxy set ignores forwarding headers", "10.0.0.20:1234", "203.0.113.5", "", nil, "10.0.0.20"},
		{"trusted peer uses forwarded client", "10.0.0.20:1234", "203.0.113.5", "", trusted, "203.0.113.5"},
		{"chain stops at first untrusted hop from the right", "10.0.0.20:1234", "198.51.100.1, 203.0.113.5, 10.0.0.10", "", trusted, "203.0.113.5"},
		{"x-real-ip when forwarded-for is unusable", "192.168.1.10:80", "garbage", "203.0.113.7", trusted, "203.0.113.7"},
		{"all hops trusted returns leftmost", "10.0.0.20:1234", "10.0.0.5, 10.0.0.10", "", trusted, "10.0.0.5"},
		{"ipv4-mapped peer is unmapped", "[::ffff:10.0.0.20]:1234", "203.0.113.9", "", trusted, "203.0.113.9"},
		{"unparseable remote addr is returned as is", "pipe", "", "", trusted, "pipe"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://taletinker.test/api/stories", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xrip != "" {
				req.Header.Set("X-Real-IP", tc.xrip)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	set, err := NewTrustedProxies([]string{"10.1.2.3/8", "2001:db8::1"})
	if err != nil {
		t.Fatalf("expected valid entries, got err: %v", err)
	}
	if !set.Contains(netip.MustParseAddr("10.200.0.1")) || !set.Contains(netip.MustParseAddr("2001:db8::1")) {
		t.Fatalf("expected configured ranges to match")
	}
	if set.Contains(netip.MustParseAddr("2001:db8::2")) {
		t.Fatalf("single address entry must not match neighbours")
	}
	if empty, err := NewTrustedProxies(nil); err != nil || empty != nil {
		t.Fatalf("empty list = %v, %v; want nil, nil", empty, err)
	}
	if _, err := NewTrustedProxies([]string{"bad-cidr"}); err == nil {
		t.Fatalf("expected parse error for invalid entry")
	}
}
