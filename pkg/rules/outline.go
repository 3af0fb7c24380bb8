package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/codeready-toolchain/reviewd/pkg/models"
)

// ErrBinaryContent reports content that cannot be outlined as text.
var ErrBinaryContent = fmt.Errorf("binary content")

// BinaryContent reports whether file content is binary rather than text.
// A NUL byte is the same signal git uses.
func BinaryContent(content string) bool {
	return strings.ContainsRune(content, '\x00')
}

// ParseOutline builds the structural outline of a source file: its import
// statements and the line spans of named definitions. The scan is a
// line-based heuristic (brace tracking plus declaration patterns), not a
// grammar parse; it recovers the shape the analyzer context needs without
// holding a syntax tree. Unknown languages yield a bare outline.
func ParseOutline(path, language, content string) (*models.FileOutline, error) {
	if BinaryContent(content) {
		return nil, fmt.Errorf("%w: %s", ErrBinaryContent, path)
	}
	outline := &models.FileOutline{Path: path, Language: language}
	syn := syntaxFor(language)
	if syn == nil {
		return outline, nil
	}
	scanOutline(outline, content, syn)
	return outline, nil
}

func syntaxFor(language string) *syntax {
	switch language {
	case LanguageJava:
		return javaSyntax
	case LanguageTypeScript:
		return typescriptSyntax
	default:
		return nil
	}
}

// syntax holds the per-language declaration patterns. typeDecl captures
// (kind, name); the others capture the definition name.
type syntax struct {
	importStart *regexp.Regexp
	importLine  *regexp.Regexp
	typeDecl    *regexp.Regexp
	funcDecl    *regexp.Regexp
	methodDecl  *regexp.Regexp
	arrowDecl   *regexp.Regexp
	keywords    map[string]struct{}
	templates   bool
}

var javaSyntax = &syntax{
	importStart: regexp.MustCompile(`^\s*import\b`),
	importLine:  regexp.MustCompile(`^\s*import\s+(?:static\s+)?[A-Za-z_][\w.]*(?:\.\*)?\s*;`),
	typeDecl: regexp.MustCompile(`^\s*(?:@\w+(?:\([^)]*\))?\s+)*` +
		`(?:(?:public|private|protected|static|final|abstract|sealed|strictfp)\s+)*` +
		`(class|interface|enum|record)\s+([A-Za-z_]\w*)`),
	methodDecl: regexp.MustCompile(`^\s*(?:@\w+(?:\([^)]*\))?\s+)*` +
		`(?:(?:public|private|protected|static|final|abstract|synchronized|native|default|strictfp)\s+)*` +
		`(?:<[^>]+>\s+)?` +
		`[\w<>\[\],.?\s&]*?([A-Za-z_$]\w*)\s*\(`),
	keywords: wordSet("if", "else", "for", "while", "do", "switch", "case",
		"catch", "try", "finally", "return", "new", "throw", "throws",
		"assert", "synchronized", "super", "this", "instanceof"),
}

var typescriptSyntax = &syntax{
	importStart: regexp.MustCompile(`^\s*import\b`),
	importLine:  regexp.MustCompile(`^\s*import\s+(?:type\s+)?(?:[\w$*{},\s]+\s+from\s+)?['"][^'"]+['"]`),
	typeDecl: regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:declare\s+)?(?:abstract\s+)?` +
		`(class|interface|enum|namespace)\s+([A-Za-z_$][\w$]*)`),
	funcDecl: regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?` +
		`function\s*\*?\s*([A-Za-z_$][\w$]*)\s*[(<]`),
	methodDecl: regexp.MustCompile(`^\s*(?:(?:public|private|protected|static|readonly|abstract|async|override)\s+)*` +
		`(?:(?:get|set)\s+)?([A-Za-z_$][\w$]*)\s*(?:<[^>]*>)?\s*\(`),
	arrowDecl: regexp.MustCompile(`^\s*(?:export\s+)?(?:(?:public|private|protected|readonly|static)\s+)*` +
		`((?:const|let|var)\s+)?([A-Za-z_$][\w$]*)\s*(?::[^=]+)?=\s*(?:async\s*)?` +
		`(?:\([^)]*\)|[A-Za-z_$][\w$]*)\s*(?::[^=>]*)?\s*=>`),
	keywords: wordSet("if", "else", "for", "while", "do", "switch", "case",
		"catch", "try", "finally", "return", "new", "typeof", "instanceof",
		"await", "yield", "super", "this", "throw", "delete", "void", "in", "of"),
	templates: true,
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func isTypeKind(kind string) bool {
	switch kind {
	case "class", "interface", "enum", "record", "namespace":
		return true
	default:
		return false
	}
}

// openDef is a definition whose body has not closed yet. startDepth is the
// brace depth before the definition's opening brace; the definition closes
// when depth returns to it.
type openDef struct {
	def        models.Definition
	startDepth int
	opened     bool
}

type declMatch struct {
	name  string
	kind  string
	arrow bool
}

func scanOutline(outline *models.FileOutline, content string, syn *syntax) {
	lines := strings.Split(content, "\n")
	var (
		lex           lexState
		depth         int
		stack         []*openDef
		pendingImport string
		pendingLines  int
	)

	for i, raw := range lines {
		lineNo := i + 1
		startedInCode := !lex.inBlockComment && !lex.inTemplate
		cleaned := cleanLine(raw, &lex, syn.templates)

		if startedInCode {
			switch {
			case pendingImport != "":
				pendingImport += " " + strings.TrimSpace(raw)
				pendingLines++
				if syn.importLine.MatchString(pendingImport) {
					outline.Imports = append(outline.Imports, pendingImport)
					pendingImport = ""
				} else if pendingLines > 5 {
					pendingImport = ""
				}
			case syn.importLine.MatchString(raw):
				outline.Imports = append(outline.Imports, strings.TrimSpace(raw))
			case syn.importStart.MatchString(raw):
				// Multi-line import; accumulate until the statement completes.
				pendingImport = strings.TrimSpace(raw)
				pendingLines = 0
			}

			if d := syn.matchDecl(cleaned, depth, stack); d != nil {
				if d.arrow && !strings.Contains(cleaned, "{") {
					// Expression-bodied arrow, no block to track.
					outline.Definitions = append(outline.Definitions, models.Definition{
						Name:      d.name,
						Kind:      d.kind,
						StartLine: lineNo,
						EndLine:   lineNo,
					})
				} else {
					stack = append(stack, &openDef{
						def:        models.Definition{Name: d.name, Kind: d.kind, StartLine: lineNo},
						startDepth: depth,
					})
				}
			}
		}

		for _, ch := range cleaned {
			switch ch {
			case '{':
				depth++
				if top := innermost(stack); top != nil && !top.opened {
					top.opened = true
				}
			case '}':
				if depth > 0 {
					depth--
				}
				for len(stack) > 0 {
					top := stack[len(stack)-1]
					if !top.opened || depth > top.startDepth {
						break
					}
					top.def.EndLine = lineNo
					outline.Definitions = append(outline.Definitions, top.def)
					stack = stack[:len(stack)-1]
				}
			}
		}
	}

	// Unbalanced input: close whatever is still open at the last line.
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		top.def.EndLine = len(lines)
		outline.Definitions = append(outline.Definitions, top.def)
		stack = stack[:len(stack)-1]
	}
}

func innermost(stack []*openDef) *openDef {
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

func (s *syntax) matchDecl(cleaned string, depth int, stack []*openDef) *declMatch {
	trimmed := strings.TrimSpace(cleaned)
	if trimmed == "" {
		return nil
	}

	if m := s.typeDecl.FindStringSubmatch(cleaned); m != nil {
		return &declMatch{name: m[2], kind: m[1]}
	}

	if s.funcDecl != nil {
		if m := s.funcDecl.FindStringSubmatch(cleaned); m != nil {
			return &declMatch{name: m[1], kind: "function"}
		}
	}

	if s.arrowDecl != nil {
		if m := s.arrowDecl.FindStringSubmatch(cleaned); m != nil {
			declared := m[1] != ""
			top := innermost(stack)
			if declared && (top == nil || isTypeKind(top.def.Kind)) {
				return &declMatch{name: m[2], kind: "function", arrow: true}
			}
			if !declared && top != nil && isTypeKind(top.def.Kind) && top.opened && top.startDepth == depth-1 {
				return &declMatch{name: m[2], kind: "method", arrow: true}
			}
			return nil
		}
	}

	if s.methodDecl != nil {
		idx := s.methodDecl.FindStringSubmatchIndex(cleaned)
		if idx == nil {
			return nil
		}
		name := cleaned[idx[2]:idx[3]]
		if _, kw := s.keywords[name]; kw {
			return nil
		}
		// Bodyless signatures and statements end with a semicolon;
		// assignments carry `=` ahead of the name.
		if strings.HasSuffix(trimmed, ";") || strings.Contains(cleaned[:idx[2]], "=") {
			return nil
		}
		top := innermost(stack)
		if top == nil || !isTypeKind(top.def.Kind) || !top.opened || top.startDepth != depth-1 {
			return nil
		}
		return &declMatch{name: name, kind: "method"}
	}

	return nil
}

// lexState carries multi-line lexical context between lines.
type lexState struct {
	inBlockComment bool
	inTemplate     bool
}

// cleanLine strips comments and string literal contents so brace counting
// and declaration matching see only code structure. Quote characters are
// kept; their contents are dropped.
func cleanLine(raw string, lex *lexState, templates bool) string {
	var b strings.Builder
	i, n := 0, len(raw)
	for i < n {
		switch {
		case lex.inBlockComment:
			if end := strings.Index(raw[i:], "*/"); end >= 0 {
				i += end + 2
				lex.inBlockComment = false
			} else {
				i = n
			}
		case lex.inTemplate:
			for i < n {
				if raw[i] == '\\' {
					i += 2
					continue
				}
				if raw[i] == '`' {
					i++
					lex.inTemplate = false
					break
				}
				i++
			}
		default:
			c := raw[i]
			switch {
			case c == '/' && i+1 < n && raw[i+1] == '/':
				i = n
			case c == '/' && i+1 < n && raw[i+1] == '*':
				lex.inBlockComment = true
				i += 2
			case c == '"' || c == '\'':
				b.WriteByte(c)
				i++
				for i < n {
					if raw[i] == '\\' {
						i += 2
						continue
					}
					if raw[i] == c {
						i++
						break
					}
					i++
				}
				b.WriteByte(c)
			case templates && c == '`':
				lex.inTemplate = true
				i++
			default:
				b.WriteByte(c)
				i++
			}
		}
	}
	return b.String()
}
