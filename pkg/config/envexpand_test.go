package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple substitution with {{.VAR}}",
			input: "organization: {{.AZURE_DEVOPS_ORG}}",
			env:   map[string]string{"AZURE_DEVOPS_ORG": "contoso"},
			want:  "organization: contoso",
		},
		{
			name:  "multiple substitutions in one line",
			input: "url: {{.PROTOCOL}}://{{.HOST}}:{{.PORT}}",
			env: map[string]string{
				"PROTOCOL": "https",
				"HOST":     "analyzer.internal",
				"PORT":     "8443",
			},
			want: "url: https://analyzer.internal:8443",
		},
		{
			name:  "literal ${VAR} is NOT expanded (no collision)",
			input: "pattern: ${USER_ID}",
			env:   map[string]string{"USER_ID": "123"},
			want:  "pattern: ${USER_ID}",
		},
		{
			name:  "regex pattern with $ preserved",
			input: `pattern: "^\\$[0-9]+$"`,
			env:   map[string]string{},
			want:  `pattern: "^\\$[0-9]+$"`,
		},
		{
			name:  "missing variable expands to empty",
			input: "url: {{.MISSING_VAR}}",
			env:   map[string]string{},
			want:  "url: ",
		},
		{
			name:  "variables in nested YAML structure",
			input: "platform:\n  organization: {{.ORG}}\n  base_url: {{.BASE}}",
			env: map[string]string{
				"ORG":  "contoso",
				"BASE": "https://dev.azure.com",
			},
			want: "platform:\n  organization: contoso\n  base_url: https://dev.azure.com",
		},
		{
			name:  "special characters in expanded value",
			input: "secret: {{.SECRET}}",
			env:   map[string]string{"SECRET": "p@ssw0rd!#$%"},
			want:  "secret: p@ssw0rd!#$%",
		},
		{
			name:  "no substitution when no variables",
			input: "static: value",
			env:   map[string]string{"UNUSED": "value"},
			want:  "static: value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			result := ExpandEnv([]byte(tt.input))
			assert.Equal(t, tt.want, string(result))
		})
	}
}

// Malformed template syntax must pass through unchanged so the YAML parser
// can report it (or accept it as a literal) with a clearer error message.
func TestExpandEnvMalformedTemplates(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "unclosed template",
			input: "pat: {{.AZURE_DEVOPS_PAT",
		},
		{
			name:  "only opening braces",
			input: "pat: {{",
		},
		{
			name:  "empty template",
			input: "pat: {{}}",
		},
		{
			name:  "undefined function",
			input: "pat: {{.AZURE_DEVOPS_PAT | upper}}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AZURE_DEVOPS_PAT", "should-not-appear")

			result := ExpandEnv([]byte(tt.input))

			assert.Equal(t, tt.input, string(result))
			assert.NotContains(t, string(result), "should-not-appear")
		})
	}
}

// When ExpandEnv passes malformed input through, the YAML parser must still
// be able to process it.
func TestExpandEnvPassThroughToYAMLParser(t *testing.T) {
	input := `
http_port: 8080
public_base_url: "{{.PUBLIC_BASE"
`
	expanded := ExpandEnv([]byte(input))

	var result map[string]any
	err := yaml.Unmarshal(expanded, &result)
	assert.NoError(t, err)
	assert.Equal(t, 8080, result["http_port"])
	assert.Equal(t, "{{.PUBLIC_BASE", result["public_base_url"])
}

func TestExpandEnvWithEmptyInput(t *testing.T) {
	result := ExpandEnv([]byte(""))
	assert.Equal(t, "", string(result))
}
