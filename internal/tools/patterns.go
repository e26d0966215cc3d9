package tools

import (
	"context"
	"regexp"
	"strings"

	"github.com/ashwinrachhavt/code-review-agent/internal/state"
)

// PatternAdapter is an in-process scanner for well-known dangerous constructs.
// It has no external dependency, so the fan-out always has at least one
// runnable adapter.
type PatternAdapter struct{}

func (a *PatternAdapter) Name() string { return "patterns" }

type pattern struct {
	re       *regexp.Regexp
	kind     string
	severity string
	message  string
}

var securityPatterns = []pattern{
	{regexp.MustCompile(`\beval\s*\(`), "dangerous-eval", "high", "eval() executes arbitrary code; avoid it or strictly validate input"},
	{regexp.MustCompile(`\bexec\s*\(`), "dangerous-exec", "high", "exec() executes arbitrary code; avoid it or strictly validate input"},
	{regexp.MustCompile(`subprocess\..*shell\s*=\s*True`), "shell-injection", "high", "shell=True with untrusted input allows command injection"},
	{regexp.MustCompile(`pickle\.loads?\s*\(`), "unsafe-deserialization", "high", "unpickling untrusted data executes arbitrary code"},
	{regexp.MustCompile(`yaml\.load\s*\([^)]*\)`), "unsafe-yaml-load", "medium", "yaml.load without SafeLoader can construct arbitrary objects"},
	{regexp.MustCompile(`(?i)(password|secret|api_?key|token)\s*=\s*["'][^"']{4,}["']`), "hardcoded-secret", "medium", "possible hardcoded credential"},
	{regexp.MustCompile(`\bos\.system\s*\(`), "os-system", "medium", "os.system spawns a shell; prefer subprocess with an argument list"},
	{regexp.MustCompile(`innerHTML\s*=`), "dom-xss", "medium", "assigning to innerHTML with untrusted data enables XSS"},
	{regexp.MustCompile(`(?i)select\s+.+\s+from\s+.+(\+|%s|\$\{|\bformat\b)`), "sql-injection", "high", "string-built SQL query; use parameterized queries"},
	{regexp.MustCompile(`math/rand|random\.random\(\)`), "weak-random", "low", "non-cryptographic randomness; use a CSPRNG for security decisions"},
}

func (a *PatternAdapter) Run(ctx context.Context, target Target) state.ToolResult {
	var findings []state.Finding
	for _, f := range target.Files {
		if err := ctx.Err(); err != nil {
			return Unavailable(a.Name(), "cancelled")
		}
		lines := strings.Split(f.Content, "\n")
		for i, line := range lines {
			for _, p := range securityPatterns {
				if p.re.MatchString(line) {
					findings = append(findings, state.Finding{
						Path:     f.Path,
						Line:     i + 1,
						Kind:     p.kind,
						Severity: p.severity,
						Message:  p.message,
						Snippet:  clip(strings.TrimSpace(line), 200),
					})
				}
			}
		}
	}
	return state.ToolResult{Tool: a.Name(), Available: true, Findings: findings}
}
