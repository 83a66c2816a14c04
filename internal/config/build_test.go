package config

import "testing"

// TestNewBuildInfoDefaults verifies the values used when ldflags are not set.
func TestNewBuildInfoDefaults(t *testing.T) {
	info := NewBuildInfo()

	if info.Version != "dev" {
		t.Errorf("NewBuildInfo().Version = %q, want %q", info.Version, "dev")
	}
	if info.Commit != "none" {
		t.Errorf("NewBuildInfo().Commit = %q, want %q", info.Commit, "none")
	}
	if info.String() != "dev (none, unknown)" {
		t.Errorf("String() = %q", info.String())
	}
}
