// Package intake converts free-form channel text into a classified
// WorkItem file by invoking an analysis agent.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/foreman-run/foreman/internal/errkind"
	"github.com/foreman-run/foreman/internal/invoker"
	"github.com/foreman-run/foreman/internal/llm"
	"github.com/foreman-run/foreman/internal/permission"
	"github.com/foreman-run/foreman/internal/types"
	"github.com/foreman-run/foreman/internal/utils"
)

// RequiredWhys is the fixed length of the root-cause chain: exactly five
// "why?" steps.
const RequiredWhys = 5

// Analysis is the structured result an analysis agent is asked to return.
type Analysis struct {
	Title string              `json:"title"`
	Type  types.WorkItemType  `json:"classification"`
	Whys  []string            `json:"root_cause"`
}

// Complete reports whether the five-whys chain is the required length.
func (a Analysis) Complete() bool {
	return len(a.Whys) == RequiredWhys
}

// Intaker runs the classify-then-write pipeline for one piece of raw
// channel text.
type Intaker struct {
	Env     *invoker.Environment
	Roots   map[types.WorkItemType]string
	Profile *permission.Spec
	Model   string
}

// Classify invokes the analysis agent once, and — if the returned chain is
// short — once more with the incomplete result as context, as a bounded
// retry.
func (in *Intaker) Classify(ctx context.Context, raw string) (Analysis, []byte, error) {
	a, rawOut, err := in.classifyOnce(ctx, buildAnalysisPrompt(raw, nil))
	if err != nil {
		return Analysis{}, rawOut, err
	}
	if a.Complete() {
		return a, rawOut, nil
	}

	retryA, retryOut, err := in.classifyOnce(ctx, buildAnalysisPrompt(raw, &a))
	if err != nil {
		// The retry itself failing is not fatal: the item is created
		// anyway with the incomplete result and a warning.
		return a, rawOut, nil
	}
	return retryA, retryOut, nil
}

func (in *Intaker) classifyOnce(ctx context.Context, prompt string) (Analysis, []byte, error) {
	if err := permission.ValidateHeadless(in.Profile); err != nil {
		return Analysis{}, nil, err
	}

	rc, err := in.Env.Backend().Execute(ctx, llm.ExecuteOptions{
		Prompt:       prompt,
		Model:        in.Model,
		AllowedTools: in.Profile.AllowedTools,
		WorkDir:      in.Env.ProjectRoot,
		Env:          in.Env.EnvSlice(),
	})
	if err != nil {
		return Analysis{}, nil, fmt.Errorf("spawn analysis agent: %v: %w", err, errkind.Transient)
	}
	defer rc.Close()

	result, err := invoker.ConsumeStream(rc, nil)
	if err != nil {
		return Analysis{}, nil, fmt.Errorf("read analysis agent output: %v: %w", err, errkind.Transient)
	}

	block, ok := ExtractJSON(result.RawText)
	if !ok {
		return Analysis{}, []byte(result.RawText), fmt.Errorf("analysis agent returned no JSON object: %w", errkind.ProtocolViolation)
	}

	var a Analysis
	if err := json.Unmarshal([]byte(block), &a); err != nil {
		return Analysis{}, []byte(block), fmt.Errorf("parse analysis JSON: %v: %w", err, errkind.ProtocolViolation)
	}
	return a, []byte(block), nil
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON pulls the first JSON object out of an agent's free-form
// response, preferring a fenced code block and falling back to the first
// balanced-looking brace span.
func ExtractJSON(text string) (string, bool) {
	if m := fencedJSON.FindStringSubmatch(text); len(m) == 2 {
		return m[1], true
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

func buildAnalysisPrompt(raw string, prior *Analysis) string {
	var b strings.Builder
	b.WriteString("Classify the following report and produce a root-cause chain.\n\n")
	fmt.Fprintf(&b, "### Report\n\n%s\n\n", raw)

	if prior != nil {
		fmt.Fprintf(&b, "### Previous attempt (incomplete)\n\nYour last answer only produced %d of the required %d root-cause steps. Continue the chain until it reaches exactly %d steps, each one answering \"why?\" of the step before it.\n\n",
			len(prior.Whys), RequiredWhys, RequiredWhys)
	}

	fmt.Fprintf(&b, `### Required output

Respond with exactly one JSON object, optionally fenced in a `+"```json"+` block:

  {
    "title": "<short imperative title>",
    "classification": "defect" | "feature" | "analysis",
    "root_cause": ["<why 1>", "<why 2>", "<why 3>", "<why 4>", "<why 5>"]
  }

root_cause must contain exactly %d entries, each one step deeper than the
last: "why did X happen?" -> "because Y" -> "why did Y happen?" -> ...
`, RequiredWhys)

	return b.String()
}

// Write creates the WorkItem markdown file for a completed (or
// deliberately incomplete) classification and returns its path.
func (in *Intaker) Write(a Analysis, incompleteWarning bool, now time.Time) (string, error) {
	root, ok := in.Roots[a.Type]
	if !ok || root == "" {
		return "", fmt.Errorf("no backlog root configured for work item type %q: %w", a.Type, errkind.Configuration)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", err
	}

	slug := utils.Slugify(a.Title)
	if slug == "" {
		slug = "untitled"
	}
	path := filepath.Join(root, slug+".md")
	for i := 2; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(root, fmt.Sprintf("%s-%d.md", slug, i))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s\nDependencies: none\nCreated: %s\n\n# %s\n\n", types.WorkItemOpen, now.Format(time.RFC3339), a.Title)
	if incompleteWarning {
		b.WriteString("> WARNING: root-cause analysis did not reach the required five-step chain; created anyway.\n\n")
	}
	b.WriteString("## Root Cause\n\n")
	for i, why := range a.Whys {
		fmt.Fprintf(&b, "%d. %s\n", i+1, why)
	}
	b.WriteString("\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
