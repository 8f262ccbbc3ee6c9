package state

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"

	"github.com/passingBySol/agentnotch/internal/config"
)

// PrivacyFilter masks and path-filters snapshots before they leave the
// engine. The zero value is a no-op filter.
type PrivacyFilter struct {
	maskWorkingDirs bool
	maskSessionIDs  bool
	allowedPaths    []string
	blockedPaths    []string
}

func NewPrivacyFilter(cfg config.PrivacyConfig) *PrivacyFilter {
	return &PrivacyFilter{
		maskWorkingDirs: cfg.MaskWorkingDirs,
		maskSessionIDs:  cfg.MaskSessionIDs,
		allowedPaths:    cfg.AllowedPaths,
		blockedPaths:    cfg.BlockedPaths,
	}
}

// Apply returns the snapshot with sensitive fields masked, or nil when
// the session's working directory is filtered out entirely.
func (f *PrivacyFilter) Apply(s *Session) *Session {
	if !f.isAllowed(s.WorkingDir) {
		return nil
	}
	if !f.maskWorkingDirs && !f.maskSessionIDs {
		return s
	}

	masked := s.Clone()
	if f.maskWorkingDirs && masked.WorkingDir != "" {
		masked.WorkingDir = filepath.Base(masked.WorkingDir)
	}
	if f.maskSessionIDs && masked.ID != "" {
		masked.ID = shortHash(masked.ID)
	}
	return masked
}

// isAllowed reports whether a session with the given working directory
// may be published. An empty working directory is always allowed (the
// session has not resolved its path yet). A non-empty allowlist must
// match; the blocklist is then applied on top.
func (f *PrivacyFilter) isAllowed(workingDir string) bool {
	if workingDir == "" {
		return true
	}

	if len(f.allowedPaths) > 0 {
		allowed := false
		for _, pattern := range f.allowedPaths {
			if matchPathOrParent(pattern, workingDir) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	for _, pattern := range f.blockedPaths {
		if matchPathOrParent(pattern, workingDir) {
			return false
		}
	}
	return true
}

// matchPathOrParent checks the pattern against the path and each of its
// parents, so "/home/user/*" also covers deeply nested directories.
func matchPathOrParent(pattern, path string) bool {
	for p := path; p != "." && p != "" && p != filepath.Dir(p); p = filepath.Dir(p) {
		if matched, _ := filepath.Match(pattern, p); matched {
			return true
		}
	}
	return false
}

func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:6])
}
