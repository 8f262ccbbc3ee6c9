package source

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultClaudeDir returns ~/.claude/projects, the Claude Code session
// log root.
func DefaultClaudeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "projects")
}

// DefaultCodexDir returns the Codex session root, respecting CODEX_HOME.
func DefaultCodexDir() string {
	if env := os.Getenv("CODEX_HOME"); env != "" {
		return filepath.Join(env, "sessions")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".codex", "sessions")
}

// SessionIDFromPath derives the stable session id from a log filename.
func SessionIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".jsonl")
}

// EncodeProjectPath converts a working directory into the flattened
// directory name Claude Code uses under its projects root: every slash,
// including the leading one, becomes a dash.
func EncodeProjectPath(path string) string {
	clean := filepath.Clean(path)
	return strings.ReplaceAll(clean, "/", "-")
}

// DecodeProjectPath reverses EncodeProjectPath. The encoding is lossy
// for directories containing dashes, so candidates are checked against
// the filesystem, treating progressively fewer dashes as separators.
func DecodeProjectPath(encoded string) string {
	if !strings.HasPrefix(encoded, "-") {
		return encoded
	}

	candidate := strings.ReplaceAll(encoded, "-", "/")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}

	parts := strings.Split(encoded[1:], "-")
	for numSlashes := len(parts) - 1; numSlashes > 0; numSlashes-- {
		candidate := "/" + strings.Join(parts[:numSlashes], "/")
		if numSlashes < len(parts) {
			candidate = candidate + "/" + strings.Join(parts[numSlashes:], "-")
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	// Best effort: assume the first two segments are parent directories.
	if len(parts) > 2 {
		return strings.Join(parts[2:], "-")
	}
	return parts[len(parts)-1]
}

// FindProjectDir locates the Claude project directory for a working
// directory: the key-derived path first, then a linear scan matching
// each candidate's decoded path.
func FindProjectDir(baseDir, workingDir string) (string, bool) {
	direct := filepath.Join(baseDir, EncodeProjectPath(workingDir))
	if info, err := os.Stat(direct); err == nil && info.IsDir() {
		return direct, true
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return "", false
	}
	want := filepath.Clean(workingDir)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if DecodeProjectPath(entry.Name()) == want {
			return filepath.Join(baseDir, entry.Name()), true
		}
	}
	return "", false
}

// findRecentFiles lists files with the given suffix under baseDir (one
// directory level deep, the Claude projects layout) modified within the
// window.
func findRecentFiles(baseDir, suffix string, within time.Duration) ([]string, error) {
	projects, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	cutoff := time.Now().Add(-within)
	var results []string

	for _, proj := range projects {
		if !proj.IsDir() {
			continue
		}
		projPath := filepath.Join(baseDir, proj.Name())
		files, err := os.ReadDir(projPath)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), suffix) {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				results = append(results, filepath.Join(projPath, f.Name()))
			}
		}
	}
	return results, nil
}

// workingDirFromFile recovers the working directory from a session file
// path via its encoded parent directory name.
func workingDirFromFile(path string) string {
	projectDir := filepath.Base(filepath.Dir(path))
	if projectDir == "" || projectDir == "." || projectDir == "/" {
		return ""
	}
	return DecodeProjectPath(projectDir)
}
