package rules

import "github.com/codeready-toolchain/reviewd/pkg/models"

func builtinSets() []*Set {
	return []*Set{javaSet(), typescriptSet()}
}

// systemPrompt is the reviewer instruction shared by the builtin sets,
// parameterized only by language name.
func systemPrompt(language string) string {
	return `You are an expert ` + language + ` code reviewer. Analyze code for:
- Potential bugs (null pointer risks, resource leaks, boundary errors)
- Code smells (long methods, deep nesting, duplication)
- Security vulnerabilities (injection risks, insecure data handling)
- Best practice violations (naming conventions, error handling, documentation)

If you find an issue, provide:
1. A clear description of the problem
2. Why it's problematic
3. A specific suggestion for improvement

If the code looks good, respond with "No issue found."
Be concise and actionable.`
}

// defaultContextTemplate frames one chunk for the analyzer. Placeholders
// are substituted by the analyzer service from the chunk context.
const defaultContextTemplate = `File: {{path}}
Enclosing: {{enclosing}}
Imports: {{imports}}

Lines {{start_line}}-{{end_line}}:
{{content}}`

func javaSet() *Set {
	return &Set{
		Language:        LanguageJava,
		Extensions:      []string{".java"},
		SystemPrompt:    systemPrompt("Java"),
		ContextTemplate: defaultContextTemplate,
		Rules: []Rule{
			{
				Name:     "avoid_null_pointer",
				Category: models.CategoryBug,
				Severity: models.SeverityError,
				Prompt: "Check if this Java code properly handles null values. " +
					"Look for potential NullPointerException risks.",
			},
			{
				Name:     "resource_leak",
				Category: models.CategoryBug,
				Severity: models.SeverityWarning,
				Prompt: "Check if Java resources (streams, connections, readers) " +
					"are properly closed using try-with-resources or finally blocks.",
			},
			{
				Name:     "exception_handling",
				Category: models.CategoryBestPractice,
				Severity: models.SeverityWarning,
				Prompt: "Check if Java exception handling follows best practices. " +
					"Avoid empty catch blocks and catching generic Exception.",
			},
			{
				Name:     "naming_conventions",
				Category: models.CategoryBestPractice,
				Severity: models.SeverityInfo,
				Prompt: "Check if Java naming conventions are followed: " +
					"classes (PascalCase), methods (camelCase), constants (UPPER_SNAKE_CASE).",
			},
			{
				Name:     "code_complexity",
				Category: models.CategoryCodeSmell,
				Severity: models.SeverityWarning,
				Prompt: "Check for code complexity issues: long methods, deep nesting, " +
					"high cyclomatic complexity.",
			},
			{
				Name:     "unused_imports",
				Category: models.CategoryCodeSmell,
				Severity: models.SeverityInfo,
				Prompt:   "Check if import statements are actually used in the code.",
			},
			{
				Name:     "magic_numbers",
				Category: models.CategoryBestPractice,
				Severity: models.SeverityInfo,
				Prompt:   "Check for magic numbers that should be named constants.",
			},
			{
				Name:     "long_methods",
				Category: models.CategoryCodeSmell,
				Severity: models.SeverityWarning,
				Prompt: "Check if method exceeds recommended length (50 lines). " +
					"Consider breaking into smaller methods.",
			},
		},
	}
}

// typescriptSet covers TypeScript with Angular-oriented rules. Plain .ts
// files share the set; the Angular rules are phrased so they no-op on
// non-component code.
func typescriptSet() *Set {
	return &Set{
		Language:        LanguageTypeScript,
		Extensions:      []string{".ts", ".tsx"},
		SystemPrompt:    systemPrompt("TypeScript/Angular"),
		ContextTemplate: defaultContextTemplate,
		Rules: []Rule{
			{
				Name:     "unsubscribe_observables",
				Category: models.CategoryBug,
				Severity: models.SeverityWarning,
				Prompt: "Check if Angular Observable subscriptions are properly unsubscribed. " +
					"Look for subscriptions without takeUntil, async pipe, or ngOnDestroy cleanup.",
			},
			{
				Name:     "change_detection_performance",
				Category: models.CategoryBestPractice,
				Severity: models.SeverityInfo,
				Prompt: "Check if Angular component uses appropriate change detection strategy. " +
					"Consider OnPush strategy for better performance.",
			},
			{
				Name:     "dependency_injection",
				Category: models.CategoryBestPractice,
				Severity: models.SeverityWarning,
				Prompt: "Check if Angular dependency injection follows best practices. " +
					"Services should be injected via constructor, not created manually.",
			},
			{
				Name:     "template_syntax",
				Category: models.CategoryBestPractice,
				Severity: models.SeverityInfo,
				Prompt: "Check Angular template syntax for best practices. " +
					"Use structural directives properly, avoid complex expressions in templates.",
			},
			{
				Name:     "rxjs_best_practices",
				Category: models.CategoryBestPractice,
				Severity: models.SeverityWarning,
				Prompt: "Check RxJS usage for best practices. " +
					"Use appropriate operators, avoid nested subscriptions, prefer higher-order operators.",
			},
			{
				Name:     "async_pipe_usage",
				Category: models.CategoryBestPractice,
				Severity: models.SeverityInfo,
				Prompt: "Check if async pipe could be used instead of manual subscription. " +
					"Async pipe automatically handles subscription lifecycle.",
			},
			{
				Name:     "memory_leaks",
				Category: models.CategoryBug,
				Severity: models.SeverityError,
				Prompt: "Check for potential memory leaks in Angular components. " +
					"Look for event listeners, intervals, or subscriptions not cleaned up.",
			},
			{
				Name:     "component_communication",
				Category: models.CategoryBestPractice,
				Severity: models.SeverityInfo,
				Prompt: "Check component communication patterns. " +
					"Use @Input/@Output for parent-child, services for sibling communication.",
			},
		},
	}
}
