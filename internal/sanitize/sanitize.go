// Package sanitize keeps untrusted values out of dangerous positions:
// upload filenames before they touch the filesystem, file paths before
// the worker reads them, and secrets before fetched text reaches logs,
// storage, or prompts.
package sanitize

import (
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// maxFilenameLength bounds stored upload names.
	maxFilenameLength = 180

	// fallbackFilename replaces names that sanitize away entirely.
	fallbackFilename = "unnamed"
)

// filenamePattern matches runs of characters not allowed in stored
// filenames; each run collapses to a single underscore.
var filenamePattern = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Filename reduces an arbitrary client-supplied name to a safe single
// path component: base name only, conservative character set, bounded
// length, never empty.
func Filename(name string) string {
	base := strings.TrimSpace(filepath.Base(name))
	switch base {
	case "", ".", "..", "/", "\\":
		return fallbackFilename
	}

	safe := filenamePattern.ReplaceAllString(base, "_")
	if len(safe) > maxFilenameLength {
		safe = safe[:maxFilenameLength]
	}
	if safe == "" {
		return fallbackFilename
	}
	return safe
}
