package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ashwinrachhavt/code-review-agent/internal/state"
)

// SemgrepAdapter shells out to the semgrep CLI with its auto config. The
// binary is optional; a missing install degrades to Available=false.
type SemgrepAdapter struct {
	Bin string
}

func (a *SemgrepAdapter) Name() string { return "semgrep" }

// runSemgrep is injectable in tests.
var runSemgrep = func(ctx context.Context, bin, dir string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, "scan", "--json", "--quiet", "--config", "auto", dir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// semgrep exits non-zero when findings exist; JSON on stdout still counts.
		if stdout.Len() > 0 {
			return stdout.Bytes(), nil
		}
		return nil, fmt.Errorf("semgrep: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (a *SemgrepAdapter) Run(ctx context.Context, target Target) state.ToolResult {
	bin := a.Bin
	if bin == "" {
		bin = "semgrep"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return Unavailable(a.Name(), "semgrep binary not found")
	}

	dir, cleanup, err := materialize(target.Files)
	if err != nil {
		return Unavailable(a.Name(), err.Error())
	}
	defer cleanup()

	out, err := runSemgrep(ctx, bin, dir)
	if err != nil {
		if ctx.Err() != nil {
			return Unavailable(a.Name(), "semgrep timed out")
		}
		return Unavailable(a.Name(), err.Error())
	}

	var payload struct {
		Results []struct {
			CheckID string `json:"check_id"`
			Path    string `json:"path"`
			Start   struct {
				Line int `json:"line"`
			} `json:"start"`
			Extra struct {
				Message  string `json:"message"`
				Severity string `json:"severity"`
				Lines    string `json:"lines"`
			} `json:"extra"`
		} `json:"results"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return Unavailable(a.Name(), fmt.Sprintf("unparseable semgrep output: %v", err))
	}

	findings := make([]state.Finding, 0, len(payload.Results))
	for _, r := range payload.Results {
		findings = append(findings, state.Finding{
			Path:     relativeTo(dir, r.Path),
			Line:     r.Start.Line,
			Kind:     r.CheckID,
			Severity: strings.ToLower(r.Extra.Severity),
			Message:  r.Extra.Message,
			Snippet:  clip(r.Extra.Lines, 200),
		})
	}
	return state.ToolResult{Tool: a.Name(), Available: true, Findings: findings}
}

// materialize writes the in-memory file list to a scratch dir for CLI tools.
func materialize(files []state.File) (string, func(), error) {
	dir, err := os.MkdirTemp("", "review-scan-*")
	if err != nil {
		return "", nil, fmt.Errorf("scratch dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	for _, f := range files {
		rel := filepath.Clean(strings.TrimLeft(f.Path, "/"))
		if rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
			continue
		}
		dst := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			cleanup()
			return "", nil, err
		}
		if err := os.WriteFile(dst, []byte(f.Content), 0o644); err != nil {
			cleanup()
			return "", nil, err
		}
	}
	return dir, cleanup, nil
}

func relativeTo(dir, path string) string {
	if rel, err := filepath.Rel(dir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
