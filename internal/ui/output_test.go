package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
)

// capture redirects Out with colors disabled for the duration of the test.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevOut, prevNoColor := Out, color.NoColor
	Out, color.NoColor = &buf, true
	t.Cleanup(func() { Out, color.NoColor = prevOut, prevNoColor })
	return &buf
}

func TestCenter(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		width    int
		expected string
	}{
		{
			name:     "text shorter than width",
			text:     "Hello",
			width:    15,
			expected: "     Hello",
		},
		{
			name:     "text same as width",
			text:     "Hello",
			width:    5,
			expected: "Hello",
		},
		{
			name:     "text longer than width",
			text:     "Hello World",
			width:    5,
			expected: "Hello World",
		},
		{
			name:     "even padding",
			text:     "Test",
			width:    10,
			expected: "   Test",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := center(tt.text, tt.width)
			if result != tt.expected {
				t.Errorf("center(%q, %d) = %q; want %q", tt.text, tt.width, result, tt.expected)
			}
		})
	}
}

func TestOutputLines(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
		want string
	}{
		{name: "Step", fn: func() { Step(2, 5, "Reading ledger") }, want: "[2/5] Reading ledger\n"},
		{name: "Success", fn: func() { Success("done") }, want: "  → done\n"},
		{name: "Info", fn: func() { Info("note") }, want: "  → note\n"},
		{name: "Warning", fn: func() { Warning("careful") }, want: "  ⚠ careful\n"},
		{name: "Error", fn: func() { Error("boom") }, want: "Error: boom\n"},
		{name: "Detail", fn: func() { Detail("create %s", "std:-450:2024-03-01:1") }, want: "      create std:-450:2024-03-01:1\n"},
		{name: "Count zero", fn: func() { Count("created", 0) }, want: "  created:     0\n"},
		{name: "Count", fn: func() { Count("deleted", 3) }, want: "  deleted:     3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := capture(t)
			tt.fn()
			if buf.String() != tt.want {
				t.Errorf("got %q; want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestHeaderFormat(t *testing.T) {
	buf := capture(t)
	Header("Test")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Header() printed %d lines, want 3: %q", len(lines), buf.String())
	}
	if lines[0] != strings.Repeat("=", headerWidth) {
		t.Errorf("Header() rule = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Test") {
		t.Errorf("Header() title line %q should contain the text", lines[1])
	}
}
