package display

import (
	"strings"
	"testing"
)

func TestWrapTextShortTextPassesThrough(t *testing.T) {
	d := &Display{theme: DefaultTheme()}
	lines := d.wrapText("short", 80)
	if len(lines) != 1 || lines[0] != "short" {
		t.Errorf("wrapText() = %v, want [short]", lines)
	}
}

func TestWrapTextWrapsLongTextOnWordBoundaries(t *testing.T) {
	d := &Display{theme: DefaultTheme()}
	text := strings.Repeat("word ", 20)
	lines := d.wrapText(text, 20)
	if len(lines) < 2 {
		t.Fatalf("wrapText() = %v, want more than one line", lines)
	}
	for _, l := range lines {
		if len(l) > 20 {
			t.Errorf("wrapText() line %q exceeds maxWidth 20", l)
		}
	}
}

func TestWrapTextCapsAtFiveLinesWithEllipsis(t *testing.T) {
	d := &Display{theme: DefaultTheme()}
	text := strings.Repeat("wordword ", 60)
	lines := d.wrapText(text, 10)
	if len(lines) != 5 {
		t.Fatalf("wrapText() returned %d lines, want capped at 5", len(lines))
	}
	if !strings.HasSuffix(lines[4], "...") {
		t.Errorf("wrapText() last line = %q, want an ellipsis suffix", lines[4])
	}
}

func TestWrapTextDefaultsWidthWhenNonPositive(t *testing.T) {
	d := &Display{theme: DefaultTheme()}
	lines := d.wrapText("hi", 0)
	if len(lines) != 1 || lines[0] != "hi" {
		t.Errorf("wrapText() = %v, want [hi]", lines)
	}
}

func TestPadRightPadsShortStringsAndTruncatesLongOnes(t *testing.T) {
	d := &Display{theme: DefaultTheme()}
	if got := d.padRight("hi", 5); got != "hi   " {
		t.Errorf("padRight() = %q, want padded to width 5", got)
	}
	if got := d.padRight("toolong", 4); got != "tool" {
		t.Errorf("padRight() = %q, want truncated to width 4", got)
	}
}
