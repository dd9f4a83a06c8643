// Package display provides unified terminal output for the orchestrator
// CLI. It visually separates orchestrator status lines from the spawned
// agent's own streamed output.
package display

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// Display handles all CLI output with visual hierarchy.
type Display struct {
	theme     *Theme
	termWidth int
	noColor   bool
}

// TokenStats holds token usage info for display.
type TokenStats struct {
	TotalTokens int
	Threshold   int
}

// New creates a new Display instance.
func New() *Display {
	return NewWithOptions(false)
}

// NewWithOptions creates a Display with configuration.
func NewWithOptions(noColor bool) *Display {
	d := &Display{
		termWidth: getTerminalWidth(),
		noColor:   noColor,
	}
	if noColor {
		d.theme = NoColorTheme()
	} else {
		d.theme = DefaultTheme()
	}
	return d
}

// getTerminalWidth returns the terminal width, defaulting to 80.
func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < 40 {
		return 80
	}
	if width > 120 {
		return 120 // Cap at 120 for readability
	}
	return width
}

// Box prints a boxed orchestrator status message with the default title.
func (d *Display) Box(lines ...string) {
	d.TitledBox("FOREMAN", lines...)
}

// TitledBox prints a boxed message with a custom title.
func (d *Display) TitledBox(title string, lines ...string) {
	if len(lines) == 0 {
		return
	}

	width := d.termWidth - 2
	titleLen := len(title) + 4 // "─ TITLE "
	remainingWidth := width - titleLen

	topLine := BoxTopLeft + BoxHorizontal + " " + title + " " + strings.Repeat(BoxHorizontal, remainingWidth) + BoxTopRight
	fmt.Println(d.theme.OrchestratorBorder(topLine))

	for _, line := range lines {
		paddedLine := d.padRight(line, width-2)
		fmt.Println(d.theme.OrchestratorBorder(BoxVertical) + " " + d.theme.OrchestratorText(paddedLine) + " " + d.theme.OrchestratorBorder(BoxVertical))
	}

	bottomLine := BoxBottomLeft + strings.Repeat(BoxHorizontal, width) + BoxBottomRight
	fmt.Println(d.theme.OrchestratorBorder(bottomLine))
}

// Status prints a single-line orchestrator status message (no box).
func (d *Display) Status(symbol, message string) {
	timestamp := time.Now().Format("[15:04:05]")
	fmt.Printf("%s %s %s\n",
		d.theme.OrchestratorBorder(timestamp),
		symbol,
		d.theme.OrchestratorText(message))
}

// Success prints a success message with a green checkmark.
func (d *Display) Success(message string) {
	d.Status(d.theme.Success(SymbolSuccess), message)
}

// Error prints an error message with a red X.
func (d *Display) Error(message string) {
	d.Status(d.theme.Error(SymbolError), message)
}

// Warning prints a warning message with a yellow triangle.
func (d *Display) Warning(message string) {
	d.Status(d.theme.Warning(SymbolWarning), message)
}

// Info prints a labeled info message.
func (d *Display) Info(label, message string) {
	d.Status(d.theme.Info(label+":"), message)
}

// Resume prints a resume/retry message.
func (d *Display) Resume(message string) {
	d.Status(d.theme.Info(SymbolResume), message)
}

// AgentStart prints a header when a spawned agent's attempt begins.
func (d *Display) AgentStart(taskID string) {
	timestamp := time.Now().Format("[15:04:05]")
	fmt.Printf("  %s %s spawning agent for %s...\n",
		d.theme.Dim(timestamp),
		d.theme.AgentTimestamp(GutterAgent),
		taskID)
}

// wrapText wraps text to the given width, capped at 5 lines.
func (d *Display) wrapText(text string, maxWidth int) []string {
	if maxWidth <= 0 {
		maxWidth = 80
	}

	text = strings.TrimSpace(text)
	if len(text) <= maxWidth {
		return []string{text}
	}

	var lines []string
	words := strings.Fields(text)
	var currentLine strings.Builder

	for _, word := range words {
		if currentLine.Len()+len(word)+1 > maxWidth {
			if currentLine.Len() > 0 {
				lines = append(lines, currentLine.String())
				currentLine.Reset()
			}
		}
		if currentLine.Len() > 0 {
			currentLine.WriteString(" ")
		}
		currentLine.WriteString(word)
	}
	if currentLine.Len() > 0 {
		lines = append(lines, currentLine.String())
	}

	if len(lines) > 5 {
		lines = lines[:5]
		if len(lines[4]) > maxWidth-3 {
			lines[4] = lines[4][:maxWidth-3]
		}
		lines[4] = lines[4] + "..."
	}

	return lines
}

// Agent prints one line of a spawned agent's streamed output with a left
// gutter indicator, distinguishing it from orchestrator-level status.
func (d *Display) Agent(text string, toolCount int) {
	timestamp := time.Now().Format("[15:04:05]")
	gutter := d.theme.AgentTimestamp(GutterAgent)

	toolStr := ""
	if toolCount > 0 {
		toolStr = fmt.Sprintf(" %s", d.theme.AgentToolCount(fmt.Sprintf("[%d]", toolCount)))
	}

	lines := d.wrapText(text, d.termWidth-20)

	for i, line := range lines {
		if i == 0 {
			fmt.Printf("  %s %s%s %s\n", gutter, d.theme.Dim(timestamp), toolStr, d.theme.AgentText(line))
		} else {
			fmt.Printf("  %s %s%s\n", d.theme.AgentTimestamp(GutterDot), strings.Repeat(" ", 10), d.theme.AgentText(line))
		}
	}
}

// AgentWithTokens prints a spawned agent's output line with token stats.
func (d *Display) AgentWithTokens(text string, toolCount int, tokens TokenStats) {
	timestamp := time.Now().Format("[15:04:05]")
	gutter := d.theme.AgentTimestamp(GutterAgent)

	toolStr := ""
	if toolCount > 0 {
		toolStr = fmt.Sprintf(" %s", d.theme.AgentToolCount(fmt.Sprintf("[%d]", toolCount)))
	}

	tokenStr := fmt.Sprintf(" %s", d.theme.Dim(fmt.Sprintf("[%dK/%dK]", tokens.TotalTokens/1000, tokens.Threshold/1000)))

	lines := d.wrapText(text, d.termWidth-30)

	for i, line := range lines {
		if i == 0 {
			fmt.Printf("  %s %s%s%s %s\n", gutter, d.theme.Dim(timestamp), toolStr, tokenStr, d.theme.AgentText(line))
		} else {
			fmt.Printf("  %s %s%s\n", d.theme.AgentTimestamp(GutterDot), strings.Repeat(" ", 20), d.theme.AgentText(line))
		}
	}
}

// AgentDone prints a spawned agent's completion line.
func (d *Display) AgentDone(result string) {
	timestamp := time.Now().Format("[15:04:05]")
	line := fmt.Sprintf("%s%s %s %s",
		IndentAgent,
		d.theme.AgentTimestamp(timestamp),
		d.theme.AgentToolCount("[Done]"),
		d.theme.AgentText(result))
	fmt.Println(line)
}

// TaskBanner prints the ">>> WORKING ON <<<" banner when a task starts.
func (d *Display) TaskBanner(taskID string) {
	banner := fmt.Sprintf(">>> WORKING ON: %s <<<", taskID)
	fmt.Printf("\n%s%s\n\n", IndentAgent, d.theme.OrchestratorLabel(banner))
}

// Break prints a horizontal separator.
func (d *Display) Break() {
	width := d.termWidth
	fmt.Println(d.theme.Separator(strings.Repeat(SectionBreak, width)))
}

// Tick prints the scheduler-tick banner: which task is running and how
// much of the plan is done.
func (d *Display) Tick(taskID, planName string, completed, total int) {
	d.Break()
	line := fmt.Sprintf("Task %s: %s (%d/%d tasks done)",
		taskID, d.theme.Info(planName), completed, total)
	fmt.Println(line)
	d.Break()
}

// Header prints the top-of-run banner.
func (d *Display) Header() {
	fmt.Println(d.theme.Bold("=== Foreman Plan Orchestrator ==="))
	fmt.Println()
}

// AllComplete prints the plan-completion message.
func (d *Display) AllComplete() {
	fmt.Printf("\n%s Plan complete!\n", d.theme.Success(SymbolSuccess))
}

func (d *Display) padRight(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

// GutterAgent and GutterDot are the left-gutter glyphs distinguishing a
// spawned agent's first output line from its continuation lines.
const (
	GutterAgent = "▸"
	GutterDot   = "·"
)
