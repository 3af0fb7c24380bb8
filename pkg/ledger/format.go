package ledger

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/codeready-toolchain/reviewd/pkg/models"
)

// Service-posted comments end with an invisible marker line so later runs
// can tell their own threads apart from human ones and recover the
// category and fingerprint without re-deriving them from prose.
const markerPrefix = "<!-- reviewd:finding"

var markerPattern = regexp.MustCompile(`(?m)^<!-- reviewd:finding category=([a-z_]+) fingerprint=([0-9a-f]{16}) -->$`)

var severityEmoji = map[models.Severity]string{
	models.SeverityError:   "🔴",
	models.SeverityWarning: "⚠️",
	models.SeverityInfo:    "ℹ️",
}

var categoryLabel = map[models.Category]string{
	models.CategoryCodeSmell:    "Code Smell",
	models.CategoryBug:          "Potential Bug",
	models.CategorySecurity:     "Security Issue",
	models.CategoryBestPractice: "Best Practice",
	models.CategoryArchitecture: "Architecture",
}

// FormatFinding renders a line finding as the Markdown body of its inline
// thread, marker line included.
func FormatFinding(f models.LineFinding) string {
	emoji, ok := severityEmoji[f.Severity]
	if !ok {
		emoji = "•"
	}
	label, ok := categoryLabel[f.Category]
	if !ok {
		label = "Issue"
	}

	parts := []string{
		fmt.Sprintf("%s **%s**", emoji, label),
		"",
		f.Message,
	}
	if f.Suggestion != "" {
		parts = append(parts, "", "**Suggestion:**", f.Suggestion)
	}
	if f.Example != "" {
		parts = append(parts, "", "**Example:**", "```", f.Example, "```")
	}

	fingerprint := f.Fingerprint
	if fingerprint == "" {
		fingerprint = models.Fingerprint(f.Path, f.Line, f.Category, f.Message)
	}
	parts = append(parts, "",
		fmt.Sprintf("<!-- reviewd:finding category=%s fingerprint=%s -->", f.Category, fingerprint))

	return strings.Join(parts, "\n")
}

// FormatSummary renders the architectural assessment as the body of a
// PR-level thread.
func FormatSummary(s *models.SummaryFinding) string {
	parts := []string{"## Architectural Analysis Summary", "", s.Message}

	appendSection := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		parts = append(parts, "", fmt.Sprintf("### %s (%d)", title, len(items)))
		for _, item := range items {
			parts = append(parts, "- "+item)
		}
	}
	appendSection("SOLID Principle Violations", s.SolidViolations)
	appendSection("Design Patterns Identified", s.IdentifiedPatterns)
	appendSection("Pattern Suggestions", s.SuggestedPatterns)
	appendSection("Architectural Issues", s.ArchitecturalIssues)

	return strings.Join(parts, "\n")
}

// parseMarker extracts the category and fingerprint from a service-posted
// body. ok is false for human comments and for markers this build does
// not understand.
func parseMarker(body string) (models.Category, string, bool) {
	m := markerPattern.FindStringSubmatch(body)
	if m == nil {
		return "", "", false
	}
	category := models.Category(m[1])
	if !category.IsValid() {
		return "", "", false
	}
	return category, m[2], true
}

// findingMessage recovers the message paragraph from a formatted body:
// everything between the header line and the first trailing section.
func findingMessage(body string) string {
	var msg []string
	for i, line := range strings.Split(body, "\n") {
		if i == 0 {
			continue // emoji + label header
		}
		if strings.HasPrefix(line, "**Suggestion:**") ||
			strings.HasPrefix(line, "**Example:**") ||
			strings.HasPrefix(line, markerPrefix) {
			break
		}
		msg = append(msg, line)
	}
	return strings.TrimSpace(strings.Join(msg, "\n"))
}
