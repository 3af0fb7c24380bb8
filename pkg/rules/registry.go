// Package rules maps changed files to the review configuration for their
// language: the rule set submitted to the analyzer and the lightweight
// outline parser used to build per-line context. Lookup is a pure map from
// file extension to rule set; files with no registered extension are
// skipped by the review pipeline.
package rules

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/reviewd/pkg/analyzer"
	"github.com/codeready-toolchain/reviewd/pkg/models"
)

// Languages with builtin rule sets.
const (
	LanguageJava       = "java"
	LanguageTypeScript = "typescript"
)

// Rule is one named analysis concern for a language: what the analyzer
// should look for and the default classification of what it finds.
type Rule struct {
	Name     string          `yaml:"name" json:"name"`
	Category models.Category `yaml:"category" json:"category"`
	Severity models.Severity `yaml:"severity" json:"severity"`
	Prompt   string          `yaml:"prompt" json:"prompt"`
}

// Set is the complete review configuration for one language: the
// extensions it claims, the reviewer instruction, the template used to
// frame each chunk, and the individual rules.
type Set struct {
	Language        string   `yaml:"language" json:"language"`
	Extensions      []string `yaml:"extensions" json:"extensions"`
	SystemPrompt    string   `yaml:"system_prompt" json:"system_prompt"`
	ContextTemplate string   `yaml:"context_template" json:"context_template"`
	Rules           []Rule   `yaml:"rules" json:"rules"`
}

// Spec converts the set into the wire shape the analyzer consumes.
func (s *Set) Spec() analyzer.RuleSpec {
	spec := analyzer.RuleSpec{
		Name:            s.Language,
		SystemPrompt:    s.SystemPrompt,
		ContextTemplate: s.ContextTemplate,
		Rules:           make([]analyzer.RuleInstruction, 0, len(s.Rules)),
	}
	for _, r := range s.Rules {
		spec.Rules = append(spec.Rules, analyzer.RuleInstruction{
			Name:     r.Name,
			Category: r.Category,
			Severity: r.Severity,
			Prompt:   r.Prompt,
		})
	}
	return spec
}

// Registry stores rule sets in memory with thread-safe access. Builtin
// sets cover Java and TypeScript/Angular; a YAML overrides file can
// replace a builtin set or register additional languages.
type Registry struct {
	mu     sync.RWMutex
	byExt  map[string]*Set
	byLang map[string]*Set
}

// rulesFile is the on-disk overrides document.
type rulesFile struct {
	RuleSets []*Set `yaml:"rule_sets"`
}

// NewRegistry builds a registry holding the builtin rule sets, then
// applies the overrides file when path is non-empty. An override set
// replaces the builtin for its language wholesale.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		byExt:  make(map[string]*Set),
		byLang: make(map[string]*Set),
	}
	for _, s := range builtinSets() {
		if err := r.register(s); err != nil {
			return nil, err
		}
	}

	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	for _, s := range file.RuleSets {
		if err := r.replace(s); err != nil {
			return nil, fmt.Errorf("invalid rule set in %s: %w", path, err)
		}
	}
	return r, nil
}

// register adds a set, refusing extension collisions.
func (r *Registry) register(s *Set) error {
	if err := validateSet(s); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ext := range s.Extensions {
		ext = normalizeExt(ext)
		if owner, ok := r.byExt[ext]; ok && owner.Language != s.Language {
			return fmt.Errorf("extension %s claimed by both %s and %s", ext, owner.Language, s.Language)
		}
	}
	r.byLang[s.Language] = s
	for _, ext := range s.Extensions {
		r.byExt[normalizeExt(ext)] = s
	}
	return nil
}

// replace installs an override set, dropping the extension claims of any
// previous set for the same language first.
func (r *Registry) replace(s *Set) error {
	if err := validateSet(s); err != nil {
		return err
	}
	r.mu.Lock()
	if prev, ok := r.byLang[s.Language]; ok {
		for _, ext := range prev.Extensions {
			delete(r.byExt, normalizeExt(ext))
		}
	}
	r.mu.Unlock()
	return r.register(s)
}

func validateSet(s *Set) error {
	if s.Language == "" {
		return fmt.Errorf("rule set missing language")
	}
	if len(s.Extensions) == 0 {
		return fmt.Errorf("rule set %s has no extensions", s.Language)
	}
	for _, rule := range s.Rules {
		if rule.Name == "" {
			return fmt.Errorf("rule set %s has a rule without a name", s.Language)
		}
		if !rule.Category.IsValid() {
			return fmt.Errorf("rule %s/%s has invalid category %q", s.Language, rule.Name, rule.Category)
		}
		if !rule.Severity.IsValid() {
			return fmt.Errorf("rule %s/%s has invalid severity %q", s.Language, rule.Name, rule.Severity)
		}
	}
	return nil
}

// ForFile returns the rule set claiming the file's extension. The second
// return is false when no language is registered for it; callers skip
// such files.
func (r *Registry) ForFile(path string) (*Set, bool) {
	ext := normalizeExt(fileExt(path))
	if ext == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byExt[ext]
	return s, ok
}

// ForLanguage returns the rule set registered for a language name.
func (r *Registry) ForLanguage(language string) (*Set, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byLang[language]
	return s, ok
}

// Languages returns the registered language names, unordered.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byLang))
	for name := range r.byLang {
		names = append(names, name)
	}
	return names
}

// fileExt returns the extension including the dot, like path.Ext but
// tolerant of platform-style backslash separators in change paths.
func fileExt(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		switch p[i] {
		case '/', '\\':
			return ""
		case '.':
			return p[i:]
		}
	}
	return ""
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
