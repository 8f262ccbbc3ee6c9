package state

import (
	"testing"

	"github.com/passingBySol/agentnotch/internal/config"
)

func TestPrivacyFilterNoop(t *testing.T) {
	f := NewPrivacyFilter(config.PrivacyConfig{})
	s := &Session{ID: "abc", WorkingDir: "/home/u/proj"}
	got := f.Apply(s)
	if got != s {
		t.Error("noop filter should return the snapshot unchanged")
	}
}

func TestPrivacyFilterMasking(t *testing.T) {
	f := NewPrivacyFilter(config.PrivacyConfig{
		MaskWorkingDirs: true,
		MaskSessionIDs:  true,
	})
	s := &Session{ID: "abc-123", WorkingDir: "/home/u/secret-project"}

	got := f.Apply(s)
	if got == nil {
		t.Fatal("masked session filtered out entirely")
	}
	if got.WorkingDir != "secret-project" {
		t.Errorf("workingDir = %q", got.WorkingDir)
	}
	if got.ID == "abc-123" || got.ID == "" {
		t.Errorf("id not masked: %q", got.ID)
	}
	// Original untouched.
	if s.WorkingDir != "/home/u/secret-project" || s.ID != "abc-123" {
		t.Error("filter mutated the original snapshot")
	}
}

func TestPrivacyFilterAllowBlockLists(t *testing.T) {
	f := NewPrivacyFilter(config.PrivacyConfig{
		AllowedPaths: []string{"/home/u/work/*"},
		BlockedPaths: []string{"/home/u/work/secret"},
	})

	tests := []struct {
		dir  string
		want bool
	}{
		{"/home/u/work/api", true},
		{"/home/u/work/api/deeply/nested", true},
		{"/home/u/personal/notes", false},
		{"/home/u/work/secret", false},
		{"/home/u/work/secret/sub", false},
		{"", true}, // unresolved path always passes
	}

	for _, tt := range tests {
		got := f.Apply(&Session{WorkingDir: tt.dir})
		if (got != nil) != tt.want {
			t.Errorf("Apply(dir=%q) allowed=%v, want %v", tt.dir, got != nil, tt.want)
		}
	}
}
