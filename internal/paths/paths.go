// Package paths canonicalizes filesystem paths so that working
// directories recorded inside session logs can be compared against
// caller-supplied ones regardless of symlinks, ~ prefixes, or trailing
// separators.
package paths

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Canonical resolves symlinks, expands a leading ~, makes the path
// absolute, and strips trailing separators. When resolution fails (the
// path may not exist) it falls back to the cleaned absolute form.
func Canonical(path string) string {
	path = ExpandHome(path)
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	path = filepath.Clean(path)
	if len(path) > 1 {
		path = strings.TrimRight(path, string(os.PathSeparator))
	}
	return path
}

// ExpandHome replaces a leading "~/" with the current user's home
// directory. A bare path is returned unchanged when the home directory
// cannot be determined.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Same reports whether two paths refer to the same location after
// canonicalization.
func Same(a, b string) bool {
	if a == b {
		return true
	}
	return Canonical(a) == Canonical(b)
}

// EncodeProjectFolder converts an absolute project path into the folder
// name Claude Code uses under its projects root: separators become
// dashes with a leading dash ("/home/u/proj" -> "-home-u-proj").
func EncodeProjectFolder(path string) string {
	abs, err := filepath.Abs(ExpandHome(path))
	if err != nil {
		abs = path
	}
	abs = strings.Trim(abs, string(os.PathSeparator))
	return "-" + strings.ReplaceAll(abs, string(os.PathSeparator), "-")
}

var actorSlugRe = regexp.MustCompile(`[^a-z0-9._-]+`)

// ActorSlug reduces an actor identity (email, username) to a filesystem
// safe slug used for per-actor changelog directories.
func ActorSlug(actor string) string {
	value := strings.ToLower(strings.TrimSpace(actor))
	if value == "" {
		return "unknown"
	}
	value = strings.ReplaceAll(value, "@", "-at-")
	value = actorSlugRe.ReplaceAllString(value, "-")
	value = strings.Trim(value, "-._")
	if value == "" {
		return "unknown"
	}
	return value
}
