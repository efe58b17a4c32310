// Package fs walks backup source trees and applies ignore rules.
package fs

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// IgnoreFileName is the per-source ignore file read from the source root.
const IgnoreFileName = ".ivignore"

// defaultIgnorePatterns are always applied regardless of config or .ivignore.
var defaultIgnorePatterns = []string{IgnoreFileName}

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match against basename only
}

// IgnoreMatcher checks file paths against a set of ignore patterns.
// Patterns without '/' match against the file's basename only.
// Patterns with '/' match against the full relative path from the source root.
// A directory that matches is skipped with everything below it.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped. A leading '/' anchors
// nothing extra and is dropped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.TrimPrefix(strings.TrimSuffix(raw, "/"), "/")
		if raw == "" {
			continue
		}
		patterns = append(patterns, ignorePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Match reports whether the given relative path should be ignored.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if m == nil || len(m.patterns) == 0 || relativePath == "" {
		return false
	}

	normalized := filepath.ToSlash(relativePath)
	basename := path.Base(normalized)

	for _, p := range m.patterns {
		subject := basename
		if p.matchPath {
			subject = normalized
		}
		matched, err := path.Match(p.pattern, subject)
		if err != nil {
			// Bad pattern: skip rather than fail the scan.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// LoadIgnoreMatcher combines the default patterns, extra (usually from the
// config) and the .ivignore file at root, if any.
func LoadIgnoreMatcher(fsys afero.Fs, root string, extra []string) (*IgnoreMatcher, error) {
	filePatterns, err := ParseIgnoreFile(fsys, filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	all := make([]string, 0, len(defaultIgnorePatterns)+len(extra)+len(filePatterns))
	all = append(all, defaultIgnorePatterns...)
	all = append(all, extra...)
	all = append(all, filePatterns...)
	return NewIgnoreMatcher(all), nil
}

// ParseIgnoreFile reads an ignore file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(fsys afero.Fs, name string) ([]string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
