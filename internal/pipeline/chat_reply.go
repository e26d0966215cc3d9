package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/ashwinrachhavt/code-review-agent/internal/event"
	"github.com/ashwinrachhavt/code-review-agent/internal/state"
)

// chatReply answers a follow-up question grounded in the thread's stored
// report and recent messages. Streaming and fallback behave like synthesis,
// but the result is appended to messages instead of replacing the report.
func (o *Orchestrator) chatReply(ctx context.Context, st *state.State, stream *event.Stream) error {
	query := strings.TrimSpace(st.ChatQuery)
	st.AppendMessage(state.Message{ID: uuid.NewString(), Role: "user", Content: query})

	reply, streamed, err := o.generate(ctx, buildChatPrompt(st, o.env.HistoryLimit), stream)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("pipeline: chat completion failed, using fallback: %v", err)
		reply = fallbackChatReply(st)
	}
	if !streamed {
		emitParagraphs(stream, reply)
	}

	st.AppendMessage(state.Message{ID: uuid.NewString(), Role: "assistant", Content: reply})
	stream.Progress(st.AdvanceProgress(90))
	return nil
}

func buildChatPrompt(st *state.State, historyLimit int) string {
	var b strings.Builder
	b.WriteString("You are a concise code review assistant.\n")
	b.WriteString("Answer the user's question using the stored analysis below. Do not paste the full report; be specific and brief.\n\n")

	fmt.Fprintf(&b, "User question: %s\n\n", strings.TrimSpace(st.ChatQuery))

	if st.Report != "" {
		b.WriteString("## Stored report\n")
		b.WriteString(clipString(st.Report, 6000))
		b.WriteString("\n\n")
	} else {
		b.WriteString("No stored analysis exists for this conversation; say so and suggest running an analysis first if the question needs one.\n\n")
	}

	history := st.Messages
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	if len(history) > 1 {
		b.WriteString("## Recent conversation\n")
		for _, m := range history[:len(history)-1] {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, clipString(m.Content, 500))
		}
	}
	return b.String()
}

// fallbackChatReply is the non-LLM answer: short notes pulled from stored
// findings, or an honest pointer when no analysis exists yet.
func fallbackChatReply(st *state.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", strings.TrimSpace(st.ChatQuery))

	wrote := false
	for _, name := range st.ToolNames() {
		res := st.ToolResults[name]
		if !res.Available || len(res.Findings) == 0 {
			continue
		}
		wrote = true
		fmt.Fprintf(&b, "%s highlights:\n", name)
		for i, f := range sortedFindings(res.Findings) {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "- %s:%d %s [%s]\n", f.Path, f.Line, f.Kind, f.Severity)
		}
		b.WriteString("\n")
	}
	if !wrote {
		if st.Report != "" {
			b.WriteString("The stored report found no tool-level issues. Ask about a specific file or concern for a closer look.\n")
		} else {
			b.WriteString("No stored analysis yet. Run an analysis first to populate context for this conversation.\n")
		}
	}
	return b.String()
}
