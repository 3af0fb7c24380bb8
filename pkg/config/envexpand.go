package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go template
// syntax ({{.VAR_NAME}}). The template syntax avoids collisions with literal
// $ characters, which show up in rule regex patterns and credentials:
//
//   - {{.AZURE_DEVOPS_ORG}} → value of AZURE_DEVOPS_ORG
//   - {{.ANALYZER_HOST}}:{{.ANALYZER_PORT}} → both variables expanded
//   - pattern: "^\\$[0-9]+$" → preserved literally ($ not touched)
//
// Missing variables expand to empty string; validation catches required
// fields left empty. Malformed template syntax passes the content through
// unchanged so the YAML parser can report it (or accept it as a literal).
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = v
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}

	return buf.Bytes()
}
