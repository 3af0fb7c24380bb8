package analyzer

import "github.com/codeready-toolchain/reviewd/pkg/models"

// RuleSpec tells the analyzer what to look for in a batch: the rule-set
// name, the reviewer instruction for the whole language, an optional
// template for framing chunk content, and the individual rules with
// their severity/category defaults.
type RuleSpec struct {
	Name            string            `json:"name"`
	SystemPrompt    string            `json:"system_prompt,omitempty"`
	ContextTemplate string            `json:"context_template,omitempty"`
	Rules           []RuleInstruction `json:"rules,omitempty"`
}

// RuleInstruction is one named analysis concern within a RuleSpec.
type RuleInstruction struct {
	Name     string          `json:"name"`
	Category models.Category `json:"category"`
	Severity models.Severity `json:"severity"`
	Prompt   string          `json:"prompt"`
}

// Chunk is one unit of code submitted for line analysis: the content of a
// delta slice plus the structural context it was extracted from.
type Chunk struct {
	Context ChunkContext `json:"context"`
	Content string       `json:"content"`
}

// ChunkContext situates a chunk for the analyzer: where it lives, what
// encloses it, and what the file imports.
type ChunkContext struct {
	Language  string   `json:"language"`
	Path      string   `json:"path"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	Enclosing string   `json:"enclosing,omitempty"`
	Imports   []string `json:"imports,omitempty"`
}

// ArchitectureFile is one delta file as seen by architecture analysis:
// the outline plus the current content.
type ArchitectureFile struct {
	Path        string              `json:"path"`
	Language    string              `json:"language"`
	Imports     []string            `json:"imports,omitempty"`
	Definitions []models.Definition `json:"definitions,omitempty"`
	Content     string              `json:"content,omitempty"`
}

// Verdict is the service's judgement on whether a prior finding is fixed
type Verdict string

const (
	VerdictResolved   Verdict = "resolved"
	VerdictUnresolved Verdict = "unresolved"
	VerdictUnknown    Verdict = "unknown"
)

// IsValid checks if the verdict is one the pipeline understands
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictResolved, VerdictUnresolved, VerdictUnknown:
		return true
	default:
		return false
	}
}

type analyzeRequest struct {
	RuleSet RuleSpec `json:"rule_set"`
	Chunks  []Chunk  `json:"chunks"`
}

type analyzeResponse struct {
	Findings []models.LineFinding `json:"findings"`
}

type architectureRequest struct {
	Files []ArchitectureFile `json:"files"`
}

type architectureResponse struct {
	Summary *models.SummaryFinding `json:"summary"`
}

type verifyFixRequest struct {
	Finding        models.LineFinding `json:"finding"`
	CurrentContext string             `json:"current_context"`
}

type verifyFixResponse struct {
	Verdict Verdict `json:"verdict"`
}
