package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/reviewd/pkg/models"
)

func TestRegistryBuiltinLookup(t *testing.T) {
	reg, err := NewRegistry("")
	require.NoError(t, err)

	tests := []struct {
		name     string
		path     string
		language string
		found    bool
	}{
		{"java source", "src/main/java/com/example/OrderService.java", LanguageJava, true},
		{"typescript component", "src/app/users/users.component.ts", LanguageTypeScript, true},
		{"tsx", "src/app/panel.tsx", LanguageTypeScript, true},
		{"uppercase extension", "LEGACY.JAVA", LanguageJava, true},
		{"backslash separators", `src\app\users.component.ts`, LanguageTypeScript, true},
		{"unregistered language", "scripts/deploy.py", "", false},
		{"no extension", "Makefile", "", false},
		{"dotfile directory", "src/.hidden/readme", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, ok := reg.ForFile(tt.path)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				require.NotNil(t, set)
				assert.Equal(t, tt.language, set.Language)
			}
		})
	}
}

func TestRegistryBuiltinSetsAreComplete(t *testing.T) {
	reg, err := NewRegistry("")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{LanguageJava, LanguageTypeScript}, reg.Languages())

	java, ok := reg.ForLanguage(LanguageJava)
	require.True(t, ok)
	assert.Len(t, java.Rules, 8)
	assert.NotEmpty(t, java.SystemPrompt)
	assert.NotEmpty(t, java.ContextTemplate)

	ts, ok := reg.ForLanguage(LanguageTypeScript)
	require.True(t, ok)
	assert.Len(t, ts.Rules, 8)

	for _, set := range []*Set{java, ts} {
		for _, rule := range set.Rules {
			assert.True(t, rule.Category.IsValid(), "rule %s/%s category", set.Language, rule.Name)
			assert.True(t, rule.Severity.IsValid(), "rule %s/%s severity", set.Language, rule.Name)
			assert.NotEmpty(t, rule.Prompt, "rule %s/%s prompt", set.Language, rule.Name)
		}
	}
}

func TestRegistryOverridesReplaceBuiltin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	overrides := `rule_sets:
  - language: java
    extensions: [".java", ".jsp"]
    system_prompt: "Review strictly."
    rules:
      - name: avoid_null_pointer
        category: bug
        severity: error
        prompt: "Flag possible null dereferences only."
  - language: python
    extensions: [".py"]
    rules:
      - name: broad_except
        category: best_practice
        severity: warning
        prompt: "Flag bare except clauses."
`
	require.NoError(t, os.WriteFile(path, []byte(overrides), 0o600))

	reg, err := NewRegistry(path)
	require.NoError(t, err)

	java, ok := reg.ForLanguage(LanguageJava)
	require.True(t, ok)
	assert.Equal(t, "Review strictly.", java.SystemPrompt)
	require.Len(t, java.Rules, 1)
	assert.Equal(t, "avoid_null_pointer", java.Rules[0].Name)

	// New extension claimed by the override.
	set, ok := reg.ForFile("web/index.jsp")
	require.True(t, ok)
	assert.Equal(t, LanguageJava, set.Language)

	// Added language is registered alongside the builtins.
	py, ok := reg.ForFile("tools/lint.py")
	require.True(t, ok)
	assert.Equal(t, "python", py.Language)

	// Untouched builtin survives.
	_, ok = reg.ForFile("src/app/app.component.ts")
	assert.True(t, ok)
}

func TestRegistryOverrideValidation(t *testing.T) {
	writeRules := func(t *testing.T, body string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}

	t.Run("invalid category rejected", func(t *testing.T) {
		path := writeRules(t, `rule_sets:
  - language: java
    extensions: [".java"]
    rules:
      - name: bad
        category: nonsense
        severity: error
        prompt: "x"
`)
		_, err := NewRegistry(path)
		assert.Error(t, err)
	})

	t.Run("extension collision across languages rejected", func(t *testing.T) {
		path := writeRules(t, `rule_sets:
  - language: kotlin
    extensions: [".java"]
    rules:
      - name: ok
        category: bug
        severity: warning
        prompt: "x"
`)
		_, err := NewRegistry(path)
		assert.Error(t, err)
	})

	t.Run("missing file errors", func(t *testing.T) {
		_, err := NewRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}

func TestSetSpecConversion(t *testing.T) {
	set := &Set{
		Language:        LanguageJava,
		Extensions:      []string{".java"},
		SystemPrompt:    "prompt",
		ContextTemplate: "template",
		Rules: []Rule{
			{Name: "r1", Category: models.CategoryBug, Severity: models.SeverityError, Prompt: "p1"},
			{Name: "r2", Category: models.CategoryCodeSmell, Severity: models.SeverityInfo, Prompt: "p2"},
		},
	}

	spec := set.Spec()
	assert.Equal(t, LanguageJava, spec.Name)
	assert.Equal(t, "prompt", spec.SystemPrompt)
	assert.Equal(t, "template", spec.ContextTemplate)
	require.Len(t, spec.Rules, 2)
	assert.Equal(t, "r1", spec.Rules[0].Name)
	assert.Equal(t, models.CategoryBug, spec.Rules[0].Category)
	assert.Equal(t, models.SeverityInfo, spec.Rules[1].Severity)
}
