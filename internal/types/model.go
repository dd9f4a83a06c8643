package types

import "time"

// ModelEscalation declares the per-attempt model ladder and the attempt
// threshold at which escalation begins.
type ModelEscalation struct {
	Ladder    []string `yaml:"ladder" json:"ladder"`
	Threshold int      `yaml:"threshold" json:"threshold"`
}

// EffectiveModel returns the model attempt k should run under, given the
// task's own starting model. Escalation only kicks in once k exceeds the
// threshold; before that the task's starting model is used unmodified.
func (m *ModelEscalation) EffectiveModel(startingModel string, attempt int) string {
	if m == nil || len(m.Ladder) == 0 || attempt <= m.Threshold {
		return startingModel
	}
	idx := attempt - 1
	if idx >= len(m.Ladder) {
		idx = len(m.Ladder) - 1
	}
	return m.Ladder[idx]
}

// Meta carries plan-level identity and policy. Extra preserves any field
// the loader doesn't recognize so a save never drops foreign data.
type Meta struct {
	Name                string           `yaml:"name" json:"name"`
	Description         string           `yaml:"description" json:"description"`
	PlanDoc             string           `yaml:"plan_doc,omitempty" json:"plan_doc,omitempty"`
	Created             time.Time        `yaml:"created" json:"created"`
	MaxAttemptsDefault  int              `yaml:"max_attempts_default" json:"max_attempts_default"`
	ModelEscalation     *ModelEscalation `yaml:"model_escalation,omitempty" json:"model_escalation,omitempty"`
	Status              PlanStatus       `yaml:"status,omitempty" json:"status,omitempty"`
	Extra               map[string]any   `yaml:",inline" json:"-"`
}

// Section is a named, ordered group of tasks. Status is a derived view,
// recomputed by the scheduler rather than trusted from disk.
type Section struct {
	ID     string         `yaml:"id" json:"id"`
	Name   string         `yaml:"name" json:"name"`
	Status SectionStatus  `yaml:"status,omitempty" json:"status,omitempty"`
	Tasks  []*Task        `yaml:"tasks" json:"tasks"`
	Extra  map[string]any `yaml:",inline" json:"-"`
}

// Task is the atomic scheduling unit. The wire format keeps the
// "set after execution" fields (attempts, completed_at, result_message,
// last_error) flat per the documented external interface; the
// RunState accessor below folds them into the TaskRunState sum type
// (Never | Running{attempt} | Done{outcome,message,ts}) for internal logic
// so callers never have to reason about which subset of fields is valid.
type Task struct {
	ID                 string         `yaml:"id" json:"id"`
	Name               string         `yaml:"name" json:"name"`
	Status             TaskStatus     `yaml:"status" json:"status"`
	Description        string         `yaml:"description" json:"description"`
	DependsOn          []string       `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	ParallelGroup      string         `yaml:"parallel_group,omitempty" json:"parallel_group,omitempty"`
	ExclusiveResources []string       `yaml:"exclusive_resources,omitempty" json:"exclusive_resources,omitempty"`
	MaxAttempts        int            `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	AgentRole          string         `yaml:"agent_role,omitempty" json:"agent_role,omitempty"`
	StartingModel      string         `yaml:"starting_model,omitempty" json:"starting_model,omitempty"`
	ExecutionMode      string         `yaml:"execution_mode,omitempty" json:"execution_mode,omitempty"`
	Attempts           int            `yaml:"attempts,omitempty" json:"attempts,omitempty"`
	CompletedAt        *time.Time     `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`
	ResultMessage      string         `yaml:"result_message,omitempty" json:"result_message,omitempty"`
	LastError          string         `yaml:"last_error,omitempty" json:"last_error,omitempty"`
	ValidationFindings []string       `yaml:"validation_findings,omitempty" json:"validation_findings,omitempty"`
	WorktreeID         string         `yaml:"worktree_id,omitempty" json:"worktree_id,omitempty"`
	Extra              map[string]any `yaml:",inline" json:"-"`
}

// EffectiveMaxAttempts resolves the per-task attempt cap against the plan
// default when the task does not override it.
func (t *Task) EffectiveMaxAttempts(planDefault int) int {
	if t.MaxAttempts > 0 {
		return t.MaxAttempts
	}
	return planDefault
}

// RunState folds the flat wire-format fields into the sum type described
// in the translation notes.
func (t *Task) RunState() RunState {
	switch t.Status {
	case TaskInProgress:
		return Running(t.Attempts)
	case TaskCompleted, TaskFailed, TaskSuspended, TaskSkipped:
		at := time.Time{}
		if t.CompletedAt != nil {
			at = *t.CompletedAt
		}
		outcome := OutcomeCompleted
		switch t.Status {
		case TaskFailed:
			outcome = OutcomeFailed
		case TaskSuspended:
			outcome = OutcomeSuspended
		}
		return Done(outcome, t.ResultMessage, at)
	default:
		return NeverRun()
	}
}

// ApplyDone records the outcome of one agent invocation onto the flat wire
// fields, mirroring RunState's Done arm.
func (t *Task) ApplyDone(outcome AgentOutcome, message string, at time.Time) {
	t.ResultMessage = message
	t.CompletedAt = &at
	switch outcome {
	case OutcomeCompleted:
		t.Status = TaskCompleted
	case OutcomeSuspended:
		t.Status = TaskSuspended
	case OutcomeFailed:
		t.Status = TaskFailed
		t.LastError = message
	}
}

// Plan is the top-level document: identity, policy, and an ordered list of
// sections forming a task DAG.
type Plan struct {
	Meta     Meta           `yaml:"meta" json:"meta"`
	Sections []*Section     `yaml:"sections" json:"sections"`
	Extra    map[string]any `yaml:",inline" json:"-"`
}

// Tasks flattens the plan's sections into a single document-ordered slice.
// Document order is the scheduler's tie-break, so callers that
// need deterministic iteration should use this rather than walking
// Sections themselves.
func (p *Plan) Tasks() []*Task {
	var out []*Task
	for _, s := range p.Sections {
		out = append(out, s.Tasks...)
	}
	return out
}

// TaskByID looks up a task by its plan-unique identifier.
func (p *Plan) TaskByID(id string) *Task {
	for _, t := range p.Tasks() {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// IsFullyCompleted reports whether every task has reached completed or
// skipped, and explicitly excludes a plan already marked failed — a failed
// plan is never "fully completed" even if every remaining task happens to
// look terminal.
func (p *Plan) IsFullyCompleted() bool {
	if p.Meta.Status == PlanFailed {
		return false
	}
	for _, t := range p.Tasks() {
		if t.Status != TaskCompleted && t.Status != TaskSkipped {
			return false
		}
	}
	return true
}

// Question is the out-of-band payload a suspended task attaches to its
// CompletionRecord.
type Question struct {
	Text    string `json:"text"`
	Context string `json:"context"`
}

// CompletionRecord is the sole cross-process handshake artifact written by
// a spawned agent. SchemaVersion lets the on-disk format
// evolve without breaking older readers, per the translation note on
// treating file-based IPC as a versioned schema.
type CompletionRecord struct {
	SchemaVersion int          `json:"schema_version"`
	TaskID        string       `json:"task_id"`
	Status        AgentOutcome `json:"status"`
	Message       string       `json:"message"`
	Timestamp     time.Time    `json:"timestamp"`
	PlanModified  bool         `json:"plan_modified"`
	Question      *Question    `json:"question,omitempty"`
}

// CurrentCompletionSchemaVersion is stamped onto every record this binary
// writes; readers accept any version <= this one.
const CurrentCompletionSchemaVersion = 1

// VerificationEntry is one round of the pipeline's verify-then-retry loop,
// appended to a WorkItem's verification log.
type VerificationEntry struct {
	Cycle    int       `yaml:"cycle" json:"cycle"`
	Verdict  Verdict   `yaml:"verdict" json:"verdict"`
	Findings string    `yaml:"findings" json:"findings"`
	At       time.Time `yaml:"at" json:"at"`
}

// WorkItem is a pipeline-layer markdown file in a typed backlog directory.
type WorkItem struct {
	Slug            string
	Type            WorkItemType
	Path            string
	Body            string
	Status          WorkItemStatus
	Dependencies    []string
	VerificationLog []VerificationEntry
}

// ReadyGiven reports whether every declared dependency slug is present in
// the completed set, used to build the dependency-respecting candidate order.
func (w *WorkItem) ReadyGiven(completed map[string]bool) bool {
	for _, dep := range w.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}
