package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ashwinrachhavt/code-review-agent/internal/event"
	"github.com/ashwinrachhavt/code-review-agent/internal/llm"
	"github.com/ashwinrachhavt/code-review-agent/internal/session"
	"github.com/ashwinrachhavt/code-review-agent/internal/state"
	"github.com/ashwinrachhavt/code-review-agent/internal/store"
	"github.com/ashwinrachhavt/code-review-agent/internal/tools"
)

type stubAdapter struct {
	name     string
	result   state.ToolResult
	panicMsg string
	block    bool
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Run(ctx context.Context, _ tools.Target) state.ToolResult {
	if a.panicMsg != "" {
		panic(a.panicMsg)
	}
	if a.block {
		<-ctx.Done()
		return tools.Unavailable(a.name, "cancelled")
	}
	res := a.result
	res.Tool = a.name
	res.Available = true
	return res
}

func testEnv(client llm.Client, mem *store.MemoryStore, adapters ...tools.Adapter) Env {
	if len(adapters) == 0 {
		adapters = []tools.Adapter{&stubAdapter{name: "stub"}}
	}
	return Env{
		LLM:      client,
		Adapters: adapters,
		Sessions: session.NewManager(mem, nil),
	}
}

func collect(stream *event.Stream) []event.Event {
	var out []event.Event
	for ev := range stream.Events() {
		out = append(out, ev)
	}
	return out
}

func analyzeState(id string) *state.State {
	st := state.New(id)
	st.Mode = state.ModeAnalyze
	st.Code = "import os\nos.system(cmd)\n"
	return st
}

func TestRunAnalyzeHappyPath(t *testing.T) {
	mem := store.NewMemory()
	fake := &llm.FakeClient{Reply: "## Review\nLooks risky."}
	orch := New(testEnv(fake, mem))

	st := analyzeState("t-1")
	stream := event.NewStream(256)
	if err := orch.Run(context.Background(), st, stream); err != nil {
		t.Fatalf("run: %v", err)
	}
	evs := collect(stream)

	// Exactly one terminal done, as the last event.
	done := 0
	for _, ev := range evs {
		if ev.Type == event.TypeDone {
			done++
		}
	}
	if done != 1 || evs[len(evs)-1].Type != event.TypeDone {
		t.Fatalf("terminal event contract violated: %+v", evs)
	}

	// Progress values never regress and end at 100.
	last := -1
	for _, ev := range evs {
		if ev.Type != event.TypeProgress {
			continue
		}
		if ev.Progress < last {
			t.Fatalf("progress regressed: %d after %d", ev.Progress, last)
		}
		last = ev.Progress
	}
	if last != 100 {
		t.Fatalf("final progress = %d", last)
	}

	if st.Report != fake.Reply {
		t.Fatalf("report = %q", st.Report)
	}
	if st.DetectedLanguage == "" {
		t.Fatal("router left language empty")
	}

	th, err := mem.GetThread(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("thread not persisted: %v", err)
	}
	if th.ReportText != st.Report {
		t.Fatal("persisted report mismatch")
	}
}

func TestRunAdapterFailureIsolated(t *testing.T) {
	mem := store.NewMemory()
	orch := New(testEnv(
		&llm.FakeClient{Reply: "report"},
		mem,
		&stubAdapter{name: "boom", panicMsg: "exploded"},
		&stubAdapter{name: "ok", result: state.ToolResult{Findings: []state.Finding{{Kind: "k", Message: "m"}}}},
	))

	st := analyzeState("t-2")
	stream := event.NewStream(256)
	if err := orch.Run(context.Background(), st, stream); err != nil {
		t.Fatalf("run: %v", err)
	}
	collect(stream)

	if res := st.ToolResults["boom"]; res.Available || !strings.Contains(res.Reason, "panic") {
		t.Fatalf("panicking adapter not degraded: %+v", res)
	}
	if res := st.ToolResults["ok"]; !res.Available || len(res.Findings) != 1 {
		t.Fatalf("sibling adapter affected: %+v", res)
	}
}

func TestRunAllDegradedStillCompletes(t *testing.T) {
	mem := store.NewMemory()
	orch := New(testEnv(
		&llm.FakeClient{Fail: true},
		mem,
		&stubAdapter{name: "a", panicMsg: "down"},
		&stubAdapter{name: "b", panicMsg: "down"},
	))

	st := analyzeState("t-3")
	stream := event.NewStream(256)
	if err := orch.Run(context.Background(), st, stream); err != nil {
		t.Fatalf("run should degrade, not fail: %v", err)
	}
	evs := collect(stream)
	if evs[len(evs)-1].Type != event.TypeDone {
		t.Fatal("degraded run did not emit done")
	}
	if strings.TrimSpace(st.Report) == "" {
		t.Fatal("degraded run produced empty report")
	}
	if !strings.Contains(st.Report, "No issues were detected") {
		t.Fatalf("zero-findings report missing explicit message: %q", st.Report)
	}
}

func TestRunCancellationMidFanout(t *testing.T) {
	mem := store.NewMemory()
	orch := New(testEnv(
		&llm.FakeClient{Reply: "unused"},
		mem,
		&stubAdapter{name: "blocker", block: true},
	))

	ctx, cancel := context.WithCancel(context.Background())
	st := analyzeState("t-4")
	stream := event.NewStream(256)

	errCh := make(chan error, 1)
	go func() { errCh <- orch.Run(ctx, st, stream) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}

	for _, ev := range collect(stream) {
		if ev.Type == event.TypeDone {
			t.Fatal("cancelled run emitted done")
		}
	}
	if !st.Cancelled {
		t.Fatal("cancellation not recorded")
	}
	if _, err := mem.GetThread(context.Background(), "t-4"); err != nil {
		t.Fatalf("cancelled run not checkpointed: %v", err)
	}
}

func TestRunBudgetExhaustionIsHardFailure(t *testing.T) {
	mem := store.NewMemory()
	env := testEnv(
		&llm.FakeClient{Reply: "unused"},
		mem,
		&stubAdapter{name: "blocker", block: true},
	)
	env.RunBudget = 100 * time.Millisecond
	orch := New(env)

	st := analyzeState("t-8")
	stream := event.NewStream(256)
	err := orch.Run(context.Background(), st, stream)

	var serr *StageError
	if !errors.As(err, &serr) || !errors.Is(err, errBudgetExceeded) {
		t.Fatalf("got %v, want StageError wrapping budget exhaustion", err)
	}
	if st.Cancelled {
		t.Fatal("budget exhaustion recorded as cancellation")
	}

	lastStatus, sawDone := "", false
	for _, ev := range collect(stream) {
		if ev.Type == event.TypeDone {
			sawDone = true
		}
		if ev.Type == event.TypeStatus {
			lastStatus = ev.Text
		}
	}
	if sawDone {
		t.Fatal("exhausted run emitted done")
	}
	if !strings.HasPrefix(lastStatus, "Error:") || !strings.Contains(lastStatus, "run budget exceeded") {
		t.Fatalf("no terminal budget status: %q", lastStatus)
	}

	if _, err := mem.GetThread(context.Background(), "t-8"); err != nil {
		t.Fatalf("exhausted run not checkpointed: %v", err)
	}
}

func TestRunRejectsAnalyzeWithoutInput(t *testing.T) {
	mem := store.NewMemory()
	orch := New(testEnv(&llm.FakeClient{}, mem))

	st := state.New("t-5")
	st.Mode = state.ModeAnalyze
	stream := event.NewStream(256)

	err := orch.Run(context.Background(), st, stream)
	var serr *StageError
	if !errors.As(err, &serr) || serr.Stage != StageModeGate {
		t.Fatalf("got %v, want StageError at mode_gate", err)
	}

	evs := collect(stream)
	if len(evs) == 0 {
		t.Fatal("hard failure emitted no events")
	}
	lastStatus := ""
	for _, ev := range evs {
		if ev.Type == event.TypeDone {
			t.Fatal("failed run emitted done")
		}
		if ev.Type == event.TypeStatus {
			lastStatus = ev.Text
		}
	}
	if !strings.HasPrefix(lastStatus, "Error:") {
		t.Fatalf("no terminal error status: %q", lastStatus)
	}
}

// partialStreamClient yields some completion text and then fails, simulating a
// provider dropping the connection mid-stream.
type partialStreamClient struct{}

func (partialStreamClient) Name() string { return "partial" }
func (partialStreamClient) Close() error { return nil }

func (partialStreamClient) Complete(context.Context, string) (string, error) {
	return "", llm.ErrUnavailable
}

func (partialStreamClient) Stream(context.Context, string) (<-chan string, <-chan error) {
	out := make(chan string, 1)
	errCh := make(chan error, 1)
	out <- "The code looks"
	close(out)
	errCh <- llm.ErrUnavailable
	close(errCh)
	return out, errCh
}

func TestRunSynthesisMidStreamFailureAnnouncesReplacement(t *testing.T) {
	mem := store.NewMemory()
	orch := New(testEnv(partialStreamClient{}, mem))

	st := analyzeState("t-9")
	stream := event.NewStream(256)
	if err := orch.Run(context.Background(), st, stream); err != nil {
		t.Fatalf("run should degrade, not fail: %v", err)
	}
	evs := collect(stream)
	if evs[len(evs)-1].Type != event.TypeDone {
		t.Fatal("degraded run did not emit done")
	}

	// The stored report is the template, not the truncated stream.
	if strings.Contains(st.Report, "The code looks") {
		t.Fatalf("partial completion persisted: %q", st.Report)
	}
	if !strings.Contains(st.Report, "Code Review Report") {
		t.Fatalf("template report missing: %q", st.Report)
	}

	// The client is told the streamed text was replaced and where to fetch the
	// stored report, and then receives the replacement as fragments.
	noticed, replacementStreamed := false, false
	for _, ev := range evs {
		if ev.Type == event.TypeStatus && strings.Contains(ev.Text, "incomplete") && strings.Contains(ev.Text, "GET /api/threads/{id}") {
			noticed = true
		}
		if ev.Type == event.TypeFragment && strings.Contains(ev.Text, "Code Review Report") {
			replacementStreamed = true
		}
	}
	if !noticed {
		t.Fatal("no status announcing the replacement report")
	}
	if !replacementStreamed {
		t.Fatal("replacement report not streamed to the client")
	}
}

func TestRunChatGroundedInStoredReport(t *testing.T) {
	mem := store.NewMemory()
	fake := &llm.FakeClient{Reply: "The eval call on line 4 is the main risk."}
	sessions := session.NewManager(mem, nil)
	orch := New(Env{
		LLM:      fake,
		Adapters: []tools.Adapter{&tools.PatternAdapter{}},
		Sessions: sessions,
	})

	// First run: analyze.
	st := state.New("t-6")
	st.Mode = state.ModeAnalyze
	st.Code = "eval(user_input)\n"
	stream := event.NewStream(256)
	if err := orch.Run(context.Background(), st, stream); err != nil {
		t.Fatalf("analyze run: %v", err)
	}
	collect(stream)

	// Second run: chat on the same thread, rehydrated from the store.
	_, prior, err := sessions.ResolveOrCreate(context.Background(), "t-6")
	if err != nil || prior == nil {
		t.Fatalf("rehydrate: prior=%v err=%v", prior, err)
	}
	prior.Mode = state.ModeChat
	prior.ChatQuery = "What is the most severe issue?"
	prior.Progress = 0

	stream = event.NewStream(256)
	if err := orch.Run(context.Background(), prior, stream); err != nil {
		t.Fatalf("chat run: %v", err)
	}
	evs := collect(stream)
	if evs[len(evs)-1].Type != event.TypeDone {
		t.Fatal("chat run did not complete")
	}

	// The chat prompt must carry the stored report as grounding context.
	prompts := fake.Prompts()
	chatPrompt := prompts[len(prompts)-1]
	if !strings.Contains(chatPrompt, "Stored report") || !strings.Contains(chatPrompt, "What is the most severe issue?") {
		t.Fatalf("chat prompt not grounded: %q", chatPrompt)
	}

	msgs, err := mem.ListMessages(context.Background(), "t-6")
	if err != nil {
		t.Fatal(err)
	}
	var lastAssistant string
	for _, m := range msgs {
		if m.Role == "assistant" {
			lastAssistant = m.Content
		}
	}
	if lastAssistant != fake.Reply {
		t.Fatalf("chat reply not persisted: %q", lastAssistant)
	}
}

func TestRunChatWithoutAnalysisFallsBackHonestly(t *testing.T) {
	mem := store.NewMemory()
	orch := New(testEnv(&llm.FakeClient{Fail: true}, mem))

	st := state.New("t-7")
	st.Mode = state.ModeChat
	st.ChatQuery = "Is my code safe?"
	stream := event.NewStream(256)
	if err := orch.Run(context.Background(), st, stream); err != nil {
		t.Fatalf("chat run: %v", err)
	}
	collect(stream)

	reply := st.Messages[len(st.Messages)-1]
	if reply.Role != "assistant" || !strings.Contains(reply.Content, "No stored analysis yet") {
		t.Fatalf("fallback reply wrong: %+v", reply)
	}
}

func TestModeGateDefaults(t *testing.T) {
	orch := New(testEnv(nil, store.NewMemory()))

	st := state.New("t")
	st.Code = "x = 1"
	if err := orch.modeGate(st); err != nil {
		t.Fatal(err)
	}
	if st.Mode != state.ModeAnalyze {
		t.Fatalf("mode = %q, want analyze when code present", st.Mode)
	}

	st = state.New("t")
	st.ChatQuery = "hello"
	if err := orch.modeGate(st); err != nil {
		t.Fatal(err)
	}
	if st.Mode != state.ModeChat {
		t.Fatalf("mode = %q, want chat without input", st.Mode)
	}

	st = state.New("t")
	st.Mode = "summarize"
	if err := orch.modeGate(st); !errors.Is(err, errBadMode) {
		t.Fatalf("got %v, want errBadMode", err)
	}
}

func TestDetectLanguageHeuristic(t *testing.T) {
	cases := []struct {
		code, path, want string
	}{
		{"def f():\n  pass", "", "python"},
		{"package main\nfunc main() {}", "", "go"},
		{"public static void main(String[] a) {}", "", "java"},
		{"#include <stdio.h>", "", "c"},
		{"anything", "lib.ts", "typescript"},
		{"???", "", "python"},
	}
	for _, c := range cases {
		if got := DetectLanguage(c.code, c.path); got != c.want {
			t.Fatalf("DetectLanguage(%q, %q) = %q, want %q", c.code, c.path, got, c.want)
		}
	}
}

func TestSampleFilesDeterministicTruncation(t *testing.T) {
	files := []state.File{
		{Path: "big.py", Size: 500, Content: strings.Repeat("a", 500)},
		{Path: "mid.py", Size: 200, Content: strings.Repeat("b", 200)},
		{Path: "small.py", Size: 100, Content: strings.Repeat("c", 100)},
	}
	got, truncated := sampleFiles(files, 10, 350)
	if !truncated {
		t.Fatal("truncation not reported")
	}
	// Smallest-first selection keeps mid+small; original order preserved.
	paths := []string{}
	for _, f := range got {
		paths = append(paths, f.Path)
	}
	if len(paths) != 2 || paths[0] != "mid.py" || paths[1] != "small.py" {
		t.Fatalf("sample = %v, want [mid.py small.py]", paths)
	}

	// Same input, same output.
	again, _ := sampleFiles(files, 10, 350)
	for i := range got {
		if got[i].Path != again[i].Path {
			t.Fatal("sampling not deterministic")
		}
	}

	// Under both limits nothing changes.
	same, truncated := sampleFiles(files, 10, 10000)
	if truncated || len(same) != 3 {
		t.Fatalf("untruncated input modified: %v %v", same, truncated)
	}
}

func TestBuildContextPasted(t *testing.T) {
	orch := New(testEnv(nil, store.NewMemory()))
	st := state.New("t")
	st.Source = state.SourcePasted
	st.Code = "print('hi')"
	st.DetectedLanguage = "python"

	stream := event.NewStream(64)
	if err := orch.buildContext(st, stream); err != nil {
		t.Fatal(err)
	}
	if len(st.Files) != 1 || st.Files[0].Path != pastedPath {
		t.Fatalf("files = %+v", st.Files)
	}
	if st.Context == nil || st.Context.FileCount != 1 || st.Context.TotalBytes != len(st.Code) {
		t.Fatalf("context = %+v", st.Context)
	}
}

func TestBuildContextFiltersUnknownExtensions(t *testing.T) {
	orch := New(testEnv(nil, store.NewMemory()))
	st := state.New("t")
	st.Source = state.SourceFileList
	st.Files = []state.File{
		{Path: "app.py", Content: "x = 1"},
		{Path: "photo.png", Content: "binary"},
		{Path: "", Content: "anonymous"},
	}

	stream := event.NewStream(64)
	if err := orch.buildContext(st, stream); err != nil {
		t.Fatal(err)
	}
	if len(st.Files) != 1 || st.Files[0].Path != "app.py" || st.Files[0].Language != "python" {
		t.Fatalf("files = %+v", st.Files)
	}
}
