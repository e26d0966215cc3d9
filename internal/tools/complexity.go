package tools

import (
	"context"
	"regexp"
	"strings"

	"github.com/ashwinrachhavt/code-review-agent/internal/state"
)

// ComplexityAdapter estimates per-function branching complexity with a
// language-agnostic token count. It is deliberately rough; the point is a
// deterministic quality signal that needs no installed tooling.
type ComplexityAdapter struct {
	// Threshold above which a function is reported; defaults to 10.
	Threshold int
}

func (a *ComplexityAdapter) Name() string { return "complexity" }

var (
	funcStartRe = regexp.MustCompile(`^\s*(def\s+(\w+)|func\s+(?:\([^)]*\)\s*)?(\w+)|function\s+(\w+)|(?:public|private|protected)[\w\s]*\s(\w+)\s*\()`)
	branchRe    = regexp.MustCompile(`\b(if|else if|elif|for|while|case|catch|except|&&|\|\|)\b`)
)

func (a *ComplexityAdapter) Run(ctx context.Context, target Target) state.ToolResult {
	threshold := a.Threshold
	if threshold <= 0 {
		threshold = 10
	}

	var findings []state.Finding
	for _, f := range target.Files {
		if err := ctx.Err(); err != nil {
			return Unavailable(a.Name(), "cancelled")
		}
		findings = append(findings, scanComplexity(f, threshold)...)
	}
	return state.ToolResult{Tool: a.Name(), Available: true, Findings: findings}
}

func scanComplexity(f state.File, threshold int) []state.Finding {
	lines := strings.Split(f.Content, "\n")

	var findings []state.Finding
	name, start, score := "", 0, 0
	flush := func(end int) {
		if name == "" {
			return
		}
		if score >= threshold {
			findings = append(findings, state.Finding{
				Path:     f.Path,
				Line:     start,
				Kind:     "cyclomatic_complexity",
				Severity: "medium",
				Message:  "function " + name + " has high branching complexity; split it into smaller pieces",
			})
		}
		name, score = "", 0
		_ = end
	}

	for i, line := range lines {
		if m := funcStartRe.FindStringSubmatch(line); m != nil {
			flush(i)
			name = firstGroup(m[2:])
			start = i + 1
			score = 1
			continue
		}
		if name != "" {
			score += len(branchRe.FindAllString(line, -1))
		}
	}
	flush(len(lines))
	return findings
}

func firstGroup(groups []string) string {
	for _, g := range groups {
		if g != "" {
			return g
		}
	}
	return "anonymous"
}
