package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ashwinrachhavt/code-review-agent/internal/state"
)

type panicAdapter struct{}

func (panicAdapter) Name() string { return "boom" }
func (panicAdapter) Run(context.Context, Target) state.ToolResult {
	panic("adapter exploded")
}

type slowAdapter struct{}

func (slowAdapter) Name() string { return "slow" }
func (slowAdapter) Run(ctx context.Context, _ Target) state.ToolResult {
	select {
	case <-ctx.Done():
		return Unavailable("slow", "cancelled")
	case <-time.After(5 * time.Second):
		return state.ToolResult{Tool: "slow", Available: true}
	}
}

func TestRunSafeRecoversPanic(t *testing.T) {
	res := RunSafe(context.Background(), panicAdapter{}, Target{}, time.Second)
	if res.Available {
		t.Fatal("panicking adapter reported available")
	}
	if res.Tool != "boom" || !strings.Contains(res.Reason, "panic") {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunSafeAppliesTimeout(t *testing.T) {
	start := time.Now()
	res := RunSafe(context.Background(), slowAdapter{}, Target{}, 50*time.Millisecond)
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout not applied")
	}
	if res.Available {
		t.Fatal("timed-out adapter reported available")
	}
}

func TestPatternAdapterFindsDangerousCalls(t *testing.T) {
	a := &PatternAdapter{}
	code := "import os\n" +
		"password = \"hunter22\"\n" +
		"os.system(cmd)\n" +
		"eval(user_input)\n"
	res := a.Run(context.Background(), Target{Language: "python", Files: []state.File{
		{Path: "app.py", Size: len(code), Content: code},
	}})
	if !res.Available {
		t.Fatalf("unavailable: %s", res.Reason)
	}

	kinds := make(map[string]state.Finding)
	for _, f := range res.Findings {
		kinds[f.Kind] = f
	}
	for _, want := range []string{"hardcoded-secret", "os-system", "dangerous-eval"} {
		if _, ok := kinds[want]; !ok {
			t.Fatalf("missing %s in %v", want, res.Findings)
		}
	}
	if f := kinds["dangerous-eval"]; f.Path != "app.py" || f.Line != 4 {
		t.Fatalf("bad location: %+v", f)
	}
}

func TestComplexityAdapterFlagsBranchyFunction(t *testing.T) {
	var b strings.Builder
	b.WriteString("def tangled(x):\n")
	for i := 0; i < 12; i++ {
		b.WriteString("    if x:\n        pass\n")
	}
	b.WriteString("def simple():\n    return 1\n")

	a := &ComplexityAdapter{Threshold: 10}
	res := a.Run(context.Background(), Target{Language: "python", Files: []state.File{
		{Path: "calc.py", Content: b.String()},
	}})
	if !res.Available {
		t.Fatalf("unavailable: %s", res.Reason)
	}
	if len(res.Findings) != 1 {
		t.Fatalf("findings = %+v, want exactly the tangled function", res.Findings)
	}
	if f := res.Findings[0]; f.Line != 1 || !strings.Contains(f.Message, "tangled") {
		t.Fatalf("unexpected finding: %+v", f)
	}
}

func TestJoinedSourceAnnotatesMultipleFiles(t *testing.T) {
	out := JoinedSource(Target{Files: []state.File{
		{Path: "a.py", Content: "print(1)"},
		{Path: "b.py", Content: "print(2)"},
	}}, 10)
	if !strings.Contains(out, "# File: a.py") || !strings.Contains(out, "# File: b.py") {
		t.Fatalf("annotations missing: %q", out)
	}

	single := JoinedSource(Target{Files: []state.File{{Path: "only.py", Content: "x = 1"}}}, 10)
	if single != "x = 1" {
		t.Fatalf("single file should pass through verbatim: %q", single)
	}
}
