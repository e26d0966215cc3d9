package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ashwinrachhavt/code-review-agent/internal/event"
	"github.com/ashwinrachhavt/code-review-agent/internal/llm"
	"github.com/ashwinrachhavt/code-review-agent/internal/state"
)

// synthesize produces the final report. Fragments are forwarded to the stream
// as they arrive from the provider; when the completion service is
// unavailable the deterministic template takes over, so the report is always
// non-empty.
func (o *Orchestrator) synthesize(ctx context.Context, st *state.State, stream *event.Stream) error {
	report, streamed, err := o.generate(ctx, buildReportPrompt(st), stream)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("pipeline: synthesis completion failed, using template: %v", err)
		report = fallbackReport(st)
		if streamed {
			// The client saw partial completion text that the stored report
			// does not contain.
			stream.Status("Completion service failed mid-stream; the text above is incomplete and has been replaced by a report assembled from tool results, available via GET /api/threads/{id}.")
			streamed = false
		} else {
			stream.Status("Completion service unavailable; report assembled from tool results.")
		}
	}
	if !streamed {
		emitParagraphs(stream, report)
	}
	if err := st.SetReport(report); err != nil {
		return err
	}
	st.AppendMessage(state.Message{ID: uuid.NewString(), Role: "assistant", Content: report})
	stream.Progress(st.AdvanceProgress(90))
	return nil
}

// generate streams a completion, forwarding fragments in token order, and
// returns the accumulated text. streamed reports whether at least one
// fragment was forwarded (so callers avoid double-emitting).
func (o *Orchestrator) generate(ctx context.Context, prompt string, stream *event.Stream) (string, bool, error) {
	if o.env.LLM == nil {
		return "", false, llm.ErrUnavailable
	}

	frags, errCh := o.env.LLM.Stream(ctx, prompt)
	var sb strings.Builder
	for frag := range frags {
		sb.WriteString(frag)
		stream.Fragment(frag)
	}
	if err := <-errCh; err != nil {
		// Discarding partial output keeps fallback reports deterministic.
		return "", sb.Len() > 0, err
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", false, llm.ErrEmptyCompletion
	}
	return sb.String(), true, nil
}

func buildReportPrompt(st *state.State) string {
	var b strings.Builder
	b.WriteString("You are a senior code reviewer. Write a concise markdown report of the analysis below.\n")
	b.WriteString("Group findings by severity, reference file and line, and finish with concrete recommendations.\n\n")

	if st.Context != nil {
		fmt.Fprintf(&b, "## Input\nLanguage: %s; %d files, %d bytes.\n\n",
			st.DetectedLanguage, st.Context.FileCount, st.Context.TotalBytes)
	}

	b.WriteString("## Tool results\n")
	for _, name := range st.ToolNames() {
		res := st.ToolResults[name]
		if !res.Available {
			fmt.Fprintf(&b, "- %s: unavailable (%s)\n", name, res.Reason)
			continue
		}
		fmt.Fprintf(&b, "- %s: %d findings\n", name, len(res.Findings))
		for _, f := range res.Findings {
			fmt.Fprintf(&b, "  - %s:%d [%s] %s: %s\n", f.Path, f.Line, f.Severity, f.Kind, f.Message)
		}
	}

	b.WriteString("\n## Code sample\n```\n")
	b.WriteString(clipString(sampleFor(st), 8000))
	b.WriteString("\n```\n")
	return b.String()
}

// fallbackReport assembles the deterministic template: findings itemized and
// grouped by tool, with an explicit message when nothing was found so the
// report is never an empty document.
func fallbackReport(st *state.State) string {
	var b strings.Builder
	b.WriteString("# Code Review Report\n\n")
	if st.Context != nil {
		fmt.Fprintf(&b, "Analyzed %d file(s), %d bytes. Detected language: %s.\n\n",
			st.Context.FileCount, st.Context.TotalBytes, st.DetectedLanguage)
	}

	total := 0
	var unavailable []string
	for _, name := range st.ToolNames() {
		res := st.ToolResults[name]
		if !res.Available {
			unavailable = append(unavailable, fmt.Sprintf("%s (%s)", name, res.Reason))
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", name)
		if len(res.Findings) == 0 {
			b.WriteString("No findings.\n\n")
			continue
		}
		total += len(res.Findings)
		for _, f := range sortedFindings(res.Findings) {
			loc := f.Path
			if f.Line > 0 {
				loc = fmt.Sprintf("%s:%d", f.Path, f.Line)
			}
			fmt.Fprintf(&b, "- `%s` **%s** [%s] — %s\n", loc, f.Kind, f.Severity, f.Message)
		}
		b.WriteString("\n")
	}

	if total == 0 {
		b.WriteString("## Summary\n\nNo issues were detected by the available analysis tools. ")
		b.WriteString("This does not guarantee the code is defect-free; consider a manual review of error handling and input validation.\n")
	} else {
		fmt.Fprintf(&b, "## Summary\n\n%d finding(s) in total. Address high-severity items first.\n", total)
	}
	if len(unavailable) > 0 {
		fmt.Fprintf(&b, "\n_Unavailable tools: %s._\n", strings.Join(unavailable, ", "))
	}
	return b.String()
}

func sortedFindings(findings []state.Finding) []state.Finding {
	out := make([]state.Finding, len(findings))
	copy(out, findings)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Line < out[j].Line
	})
	return out
}

func emitParagraphs(stream *event.Stream, text string) {
	for _, para := range strings.Split(text, "\n\n") {
		if p := strings.TrimSpace(para); p != "" {
			stream.Fragment(p + "\n\n")
		}
	}
}

func clipString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
