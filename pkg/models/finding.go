package models

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Severity is the weight of a review finding
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// IsValid checks if the severity is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return true
	default:
		return false
	}
}

// Category classifies what kind of problem a finding describes
type Category string

const (
	CategoryCodeSmell    Category = "code_smell"
	CategoryBug          Category = "bug"
	CategorySecurity     Category = "security"
	CategoryBestPractice Category = "best_practice"
	CategoryArchitecture Category = "architecture"
)

// IsValid checks if the category is valid
func (c Category) IsValid() bool {
	switch c {
	case CategoryCodeSmell, CategoryBug, CategorySecurity, CategoryBestPractice, CategoryArchitecture:
		return true
	default:
		return false
	}
}

// LineFinding is a single line-anchored review finding. Fingerprint is the
// duplicate-suppression key: findings with equal fingerprints describe the
// same issue at the same place.
type LineFinding struct {
	Path        string   `json:"path"`
	Line        int      `json:"line"`
	Severity    Severity `json:"severity"`
	Category    Category `json:"category"`
	Message     string   `json:"message"`
	Suggestion  string   `json:"suggestion,omitempty"`
	Example     string   `json:"example,omitempty"`
	Fingerprint string   `json:"fingerprint"`
}

// ComputeFingerprint derives the stable hash over
// (path, line, category, normalized message) and stores it on the finding.
func (f *LineFinding) ComputeFingerprint() string {
	f.Fingerprint = Fingerprint(f.Path, f.Line, f.Category, f.Message)
	return f.Fingerprint
}

// Fingerprint hashes the duplicate-suppression key fields. The message is
// normalized (lowercased, whitespace collapsed) so cosmetic rewording by
// the analyzer does not defeat suppression.
func Fingerprint(path string, line int, category Category, message string) string {
	h := xxhash.New()
	_, _ = h.WriteString(path)
	_, _ = h.WriteString("\x00")
	_, _ = fmt.Fprintf(h, "%d", line)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(string(category))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(NormalizeMessage(message))
	return fmt.Sprintf("%016x", h.Sum64())
}

// NormalizeMessage lowercases and collapses runs of whitespace to single
// spaces so the fingerprint is stable across formatting differences.
func NormalizeMessage(msg string) string {
	return strings.Join(strings.Fields(strings.ToLower(msg)), " ")
}

// SummaryFinding is the at-most-one architectural assessment of a review run
type SummaryFinding struct {
	Message             string   `json:"message"`
	SolidViolations     []string `json:"solid_violations,omitempty"`
	IdentifiedPatterns  []string `json:"identified_patterns,omitempty"`
	SuggestedPatterns   []string `json:"suggested_patterns,omitempty"`
	ArchitecturalIssues []string `json:"architectural_issues,omitempty"`
}
