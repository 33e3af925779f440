package config

import "testing"

func TestValidateRejectsZeroMaxConnections(t *testing.T) {
	c := &Config{Socket: SocketConfig{MaxConnections: 0, RateLimitMax: 1, MaxFrameBytes: 1}}
	if err := c.validate(); err == nil {
		t.Fatal("expected error for zero MaxConnections")
	}
}

func TestValidateRejectsZeroRateLimitMax(t *testing.T) {
	c := &Config{Socket: SocketConfig{MaxConnections: 1, RateLimitMax: 0, MaxFrameBytes: 1}}
	if err := c.validate(); err == nil {
		t.Fatal("expected error for zero RateLimitMax")
	}
}

func TestValidateAcceptsSaneDefaults(t *testing.T) {
	c := &Config{Socket: SocketConfig{MaxConnections: 5000, RateLimitMax: 60, MaxFrameBytes: 64000}}
	if err := c.validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestOriginsEmptyMeansUnrestricted(t *testing.T) {
	s := &SocketConfig{OriginAllowlist: "  "}
	if origins := s.Origins(); origins != nil {
		t.Fatalf("expected nil for blank allowlist, got %v", origins)
	}
}

func TestOriginsParsesAndTrimsCommaSeparatedList(t *testing.T) {
	s := &SocketConfig{OriginAllowlist: "https://a.example, https://b.example ,,"}
	origins := s.Origins()
	if len(origins) != 2 || origins[0] != "https://a.example" || origins[1] != "https://b.example" {
		t.Fatalf("unexpected parsed origins: %v", origins)
	}
}
