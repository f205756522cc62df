// Package prompt recognizes shell prompts in raw terminal output.
//
// A remote shell gives no end-of-command marker, so the executor treats the
// reappearance of the prompt as the completion signal. Two strategies exist:
// simple substring matching, and smart matching restricted to the last line
// of a chunk.
package prompt

import (
	"regexp"
	"strings"
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07|\x1b[()][0-9A-Za-z]`)

// StripANSI removes ANSI escape sequences from s.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// Detection describes a matched prompt.
type Detection struct {
	Pattern string
	// Line is the trimmed last line for smart detection, empty for simple.
	Line string
}

// Detector matches a fixed, ordered list of literal prompt suffixes.
// It holds no mutable state and is safe for concurrent use.
type Detector struct {
	patterns []string
	trimmed  []string
	smart    bool
}

// NewDetector creates a detector for patterns. Patterns are tried in order.
func NewDetector(patterns []string, smart bool) *Detector {
	d := &Detector{
		patterns: append([]string(nil), patterns...),
		smart:    smart,
	}
	d.trimmed = make([]string, len(patterns))
	for i, p := range patterns {
		d.trimmed[i] = strings.TrimRightFunc(p, isSpace)
	}
	return d
}

// Patterns returns a copy of the configured patterns.
func (d *Detector) Patterns() []string {
	return append([]string(nil), d.patterns...)
}

// Smart reports whether last-line matching is enabled.
func (d *Detector) Smart() bool {
	return d.smart
}

// Detect inspects a freshly read chunk.
func (d *Detector) Detect(chunk string) (Detection, bool) {
	if d.smart {
		return d.detectSmart(chunk)
	}
	for _, p := range d.patterns {
		if p != "" && strings.Contains(chunk, p) {
			return Detection{Pattern: p}, true
		}
	}
	return Detection{}, false
}

// detectSmart only fires when the newest line ends with a prompt, which
// rejects prompt-like text inside command output.
func (d *Detector) detectSmart(chunk string) (Detection, bool) {
	line := strings.TrimRightFunc(LastLine(StripANSI(chunk)), isSpace)
	if line == "" {
		return Detection{}, false
	}
	for i, p := range d.trimmed {
		if p == "" {
			continue
		}
		if strings.HasSuffix(line, p) {
			return Detection{Pattern: d.patterns[i], Line: line}, true
		}
	}
	return Detection{}, false
}

// Match is a convenience wrapper around a throwaway Detector.
func Match(chunk string, patterns []string, smart bool) bool {
	_, ok := NewDetector(patterns, smart).Detect(chunk)
	return ok
}

// LastLine returns the text after the final newline of s.
func LastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\r', '\n', '\v', '\f':
		return true
	}
	return false
}
