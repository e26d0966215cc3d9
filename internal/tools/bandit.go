package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ashwinrachhavt/code-review-agent/internal/state"
)

// BanditAdapter shells out to the bandit CLI for python security findings.
// Non-python targets are reported as unavailable rather than scanned.
type BanditAdapter struct {
	Bin string
}

func (a *BanditAdapter) Name() string { return "bandit" }

// runBandit is injectable in tests.
var runBandit = func(ctx context.Context, bin, dir string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, "-r", "-f", "json", "-q", dir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// bandit exits 1 when issues are found; stdout JSON is still valid.
		if stdout.Len() > 0 {
			return stdout.Bytes(), nil
		}
		return nil, fmt.Errorf("bandit: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (a *BanditAdapter) Run(ctx context.Context, target Target) state.ToolResult {
	if !strings.EqualFold(target.Language, "python") {
		return Unavailable(a.Name(), "bandit only scans python")
	}
	bin := a.Bin
	if bin == "" {
		bin = "bandit"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return Unavailable(a.Name(), "bandit binary not found")
	}

	dir, cleanup, err := materialize(target.Files)
	if err != nil {
		return Unavailable(a.Name(), err.Error())
	}
	defer cleanup()

	out, err := runBandit(ctx, bin, dir)
	if err != nil {
		if ctx.Err() != nil {
			return Unavailable(a.Name(), "bandit timed out")
		}
		return Unavailable(a.Name(), err.Error())
	}

	var payload struct {
		Results []struct {
			Filename    string `json:"filename"`
			LineNumber  int    `json:"line_number"`
			TestID      string `json:"test_id"`
			IssueSev    string `json:"issue_severity"`
			IssueText   string `json:"issue_text"`
			CodeSnippet string `json:"code"`
		} `json:"results"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return Unavailable(a.Name(), fmt.Sprintf("unparseable bandit output: %v", err))
	}

	findings := make([]state.Finding, 0, len(payload.Results))
	for _, r := range payload.Results {
		findings = append(findings, state.Finding{
			Path:     relativeTo(dir, r.Filename),
			Line:     r.LineNumber,
			Kind:     r.TestID,
			Severity: strings.ToLower(r.IssueSev),
			Message:  r.IssueText,
			Snippet:  clip(r.CodeSnippet, 200),
		})
	}
	return state.ToolResult{Tool: a.Name(), Available: true, Findings: findings}
}
