package prompt

import (
	"testing"
)

var defaultPatterns = []string{"]# ", "$ ", "> ", "# ", "% "}

// ---------------------------------------------------------------------------
// Smart detection
// ---------------------------------------------------------------------------

func TestSmartDetectsPromptOnLastLine(t *testing.T) {
	chunk := "total 0\ndrwxr-xr-x  2 root root 4096 Jan 1 00:00 .\n[root@host ~]# "

	d := NewDetector([]string{"]# "}, true)
	det, ok := d.Detect(chunk)
	if !ok {
		t.Fatal("Detect() = false, want true")
	}
	if det.Pattern != "]# " {
		t.Errorf("Pattern = %q, want %q", det.Pattern, "]# ")
	}
	if det.Line != "[root@host ~]#" {
		t.Errorf("Line = %q, want %q", det.Line, "[root@host ~]#")
	}
}

func TestSmartRejectsPatternMidChunk(t *testing.T) {
	chunk := "echo \"]# \"\r\n]# \r\nstill running"

	if Match(chunk, []string{"]# "}, true) {
		t.Error("Match() = true for pattern that is not on the last line")
	}
}

func TestSmartTable(t *testing.T) {
	tests := []struct {
		name     string
		chunk    string
		patterns []string
		want     bool
	}{
		{"bash user prompt", "hi\r\nu@test:~$ ", defaultPatterns, true},
		{"prompt without trailing space", "hi\nu@test:~$", defaultPatterns, true},
		{"trailing CR and spaces", "x\nroot@h:/# \r", defaultPatterns, true},
		{"zsh prompt", "ok\nhost% ", defaultPatterns, true},
		{"chunk ends with newline", "u@test:~$ \n", defaultPatterns, false},
		{"empty chunk", "", defaultPatterns, false},
		{"no prompt", "compiling...\nstep 2 of 7", defaultPatterns, false},
		{"colored prompt", "ls\r\n\x1b[01;32mroot@web\x1b[00m:\x1b[01;34m~\x1b[00m# ", defaultPatterns, true},
		{"bracketed paste prefix", "\x1b[?2004hroot@web:~# ", defaultPatterns, true},
		{"custom pattern", "Welcome\nmysql> ", []string{"mysql> "}, true},
		{"whitespace-only pattern ignored", "anything", []string{"  "}, false},
		{"no patterns", "u@test:~$ ", nil, false},
		{"single line prompt", "[root@host ~]# ", []string{"]# "}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.chunk, tt.patterns, true); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.chunk, got, tt.want)
			}
		})
	}
}

func TestSmartFirstMatchingPatternWins(t *testing.T) {
	d := NewDetector([]string{"]# ", "# "}, true)
	det, ok := d.Detect("[root@box ~]# ")
	if !ok {
		t.Fatal("Detect() = false")
	}
	if det.Pattern != "]# " {
		t.Errorf("Pattern = %q, want first pattern", det.Pattern)
	}
}

// ---------------------------------------------------------------------------
// Simple detection
// ---------------------------------------------------------------------------

func TestSimpleMatchesAnywhere(t *testing.T) {
	chunk := "echo \"]# \"\r\n]# \r\nstill running"
	if !Match(chunk, []string{"]# "}, false) {
		t.Error("simple Match() = false, want substring hit")
	}
}

func TestSimpleTable(t *testing.T) {
	tests := []struct {
		name  string
		chunk string
		want  bool
	}{
		{"trailing prompt", "out\n$ ", true},
		{"embedded", "cost: 5$ total", true},
		{"no space after dollar", "cost: 5$", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.chunk, []string{"$ "}, false); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.chunk, got, tt.want)
			}
		})
	}
}

func TestSimpleIgnoresEmptyPattern(t *testing.T) {
	if Match("abc", []string{""}, false) {
		t.Error("empty pattern must never match")
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func TestDetectorCopiesPatterns(t *testing.T) {
	in := []string{"$ "}
	d := NewDetector(in, true)
	in[0] = "# "

	if got := d.Patterns(); got[0] != "$ " {
		t.Errorf("Patterns()[0] = %q, detector aliased caller slice", got[0])
	}
	if !d.Smart() {
		t.Error("Smart() = false")
	}
}

func TestStripANSI(t *testing.T) {
	tests := map[string]string{
		"\x1b[01;31mred\x1b[m":     "red",
		"\x1b]0;title\x07prompt$ ": "prompt$ ",
		"\x1b[?2004hx":             "x",
		"\x1b(Bplain":              "plain",
		"none":                     "none",
	}
	for in, want := range tests {
		if got := StripANSI(in); got != want {
			t.Errorf("StripANSI(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLastLine(t *testing.T) {
	tests := map[string]string{
		"a\nb\nc": "c",
		"a\n":     "",
		"solo":    "solo",
		"":        "",
	}
	for in, want := range tests {
		if got := LastLine(in); got != want {
			t.Errorf("LastLine(%q) = %q, want %q", in, got, want)
		}
	}
}
