package models

import (
	"fmt"
	"time"
)

// AgentPhase is a state of the review agent's phase machine. Phases are
// totally ordered within a run; the state blob is persisted after every
// transition so a crashed run is inspectable.
type AgentPhase string

const (
	PhaseInit            AgentPhase = "init"
	PhaseFetchMeta       AgentPhase = "fetch_meta"
	PhaseLoadWatermark   AgentPhase = "load_watermark"
	PhaseDiff            AgentPhase = "diff"
	PhaseFullList        AgentPhase = "full_list"
	PhaseParse           AgentPhase = "parse"
	PhaseLineAnalysis    AgentPhase = "line_analysis"
	PhaseArchAnalysis    AgentPhase = "arch_analysis"
	PhaseResolutionCheck AgentPhase = "resolution_check"
	PhasePublish         AgentPhase = "publish"
	PhaseDone            AgentPhase = "done"
	PhaseError           AgentPhase = "error"
)

// IsValid checks if the phase is valid
func (p AgentPhase) IsValid() bool {
	switch p {
	case PhaseInit, PhaseFetchMeta, PhaseLoadWatermark, PhaseDiff, PhaseFullList,
		PhaseParse, PhaseLineAnalysis, PhaseArchAnalysis, PhaseResolutionCheck,
		PhasePublish, PhaseDone, PhaseError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the phase ends the run
func (p AgentPhase) IsTerminal() bool {
	return p == PhaseDone
}

// AgentStatus is the terminal (or running) status of an agent execution
type AgentStatus string

const (
	StatusRunning   AgentStatus = "running"
	StatusCompleted AgentStatus = "completed"
	StatusFailed    AgentStatus = "failed"
	StatusTimeout   AgentStatus = "timeout"
)

// IsValid checks if the status is valid
func (s AgentStatus) IsValid() bool {
	switch s {
	case StatusRunning, StatusCompleted, StatusFailed, StatusTimeout:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is final
func (s AgentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimeout
}

// ErrorRecord captures a partial failure inside a phase. Partial errors
// never abort the phase; they accumulate on the agent state.
type ErrorRecord struct {
	Phase     AgentPhase `json:"phase"`
	Operation string     `json:"operation"`
	Target    string     `json:"target,omitempty"`
	Message   string     `json:"message"`
	At        time.Time  `json:"at"`
}

// String renders the record as "phase operation [target]: message"
func (e ErrorRecord) String() string {
	if e.Target != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Phase, e.Operation, e.Target, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Phase, e.Operation, e.Message)
}

// Definition is a named scope (function, method, type, class) inside a
// parsed source file.
type Definition struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// FileOutline is the lightweight structural parse of one changed file:
// enough shape (imports, definition spans) to build analyzer context
// around a line without holding a full syntax tree.
type FileOutline struct {
	Path        string       `json:"path"`
	Language    string       `json:"language"`
	Imports     []string     `json:"imports,omitempty"`
	Definitions []Definition `json:"definitions,omitempty"`
}

// EnclosingDefinition returns the innermost definition containing the line,
// or nil when the line is at file scope.
func (o *FileOutline) EnclosingDefinition(line int) *Definition {
	var best *Definition
	for i := range o.Definitions {
		d := &o.Definitions[i]
		if line < d.StartLine || line > d.EndLine {
			continue
		}
		if best == nil || d.StartLine > best.StartLine {
			best = d
		}
	}
	return best
}

// AgentState is the complete checkpointed state of one review run. It is
// written to the state store after every phase transition and owned
// exclusively by its agent until terminal.
type AgentState struct {
	AgentID               string                  `json:"agent_id"`
	PRID                  string                  `json:"pr_id"`
	RepositoryID          string                  `json:"repository_id"`
	Event                 PREvent                 `json:"event"`
	PRMetadata            *PRMetadata             `json:"pr_metadata,omitempty"`
	Phase                 AgentPhase              `json:"phase"`
	IterationID           int                     `json:"iteration_id,omitempty"`
	LastReviewedIteration int                     `json:"last_reviewed_iteration,omitempty"`
	ChangeDelta           *ChangeDelta            `json:"change_delta,omitempty"`
	ParsedFiles           map[string]*FileOutline `json:"parsed_files,omitempty"`
	Findings              []LineFinding           `json:"findings,omitempty"`
	Summary               *SummaryFinding         `json:"summary,omitempty"`
	Errors                []ErrorRecord           `json:"errors,omitempty"`
	StartedAt             time.Time               `json:"started_at"`
	EndedAt               *time.Time              `json:"ended_at,omitempty"`
	Deadline              time.Time               `json:"deadline"`
	PhaseTimings          map[string]int64        `json:"phase_timings,omitempty"`
}

// AddError appends a partial-failure record for the current phase
func (s *AgentState) AddError(op, target, message string) {
	s.Errors = append(s.Errors, ErrorRecord{
		Phase:     s.Phase,
		Operation: op,
		Target:    target,
		Message:   message,
		At:        time.Now().UTC(),
	})
}
