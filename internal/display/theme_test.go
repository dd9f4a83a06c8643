package display

import "testing"

func TestNoColorThemeReturnsTextUnchanged(t *testing.T) {
	theme := NoColorTheme()
	if got := theme.Success("done"); got != "done" {
		t.Errorf("Success() = %q, want unmodified text", got)
	}
	if got := theme.Bold("title"); got != "title" {
		t.Errorf("Bold() = %q, want unmodified text", got)
	}
}

func TestNoColorThemeHandlesEmptyArgs(t *testing.T) {
	theme := NoColorTheme()
	if got := theme.Error(); got != "" {
		t.Errorf("Error() with no args = %q, want empty string", got)
	}
}

func TestDefaultThemeProducesNonEmptyOutput(t *testing.T) {
	theme := DefaultTheme()
	if got := theme.Success("done"); got == "" {
		t.Error("Success() should return non-empty styled text")
	}
}
