package pipeline

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ashwinrachhavt/code-review-agent/internal/event"
	"github.com/ashwinrachhavt/code-review-agent/internal/state"
	"github.com/ashwinrachhavt/code-review-agent/internal/tools"
)

// fanout runs every configured adapter concurrently against the normalized
// context and merges each result independently. One adapter failing, timing
// out, or panicking never aborts its siblings; the stage finishes when the
// slowest adapter returns, bounded by the per-adapter timeout.
func (o *Orchestrator) fanout(ctx context.Context, st *state.State, stream *event.Stream) {
	target := tools.Target{Language: st.DetectedLanguage, Files: st.Files}

	var mu sync.Mutex
	g := new(errgroup.Group)
	for _, adapter := range o.env.Adapters {
		adapter := adapter
		g.Go(func() error {
			res := tools.RunSafe(ctx, adapter, target, o.env.ToolTimeout)
			mu.Lock()
			st.MergeToolResult(res)
			mu.Unlock()
			if res.Available {
				stream.Status(fmt.Sprintf("Tool %s: %d findings", res.Tool, len(res.Findings)))
			} else {
				stream.Status(fmt.Sprintf("Tool %s unavailable: %s", res.Tool, res.Reason))
			}
			return nil
		})
	}
	_ = g.Wait() // adapters never surface errors; the barrier is all we need

	stream.Progress(st.AdvanceProgress(40))
	stream.Status("Tools complete.")
	stream.Progress(st.AdvanceProgress(60))
	stream.Status(fmt.Sprintf("Analysis collected: %d findings across %d tools.", countFindings(st), len(st.ToolResults)))
}

func countFindings(st *state.State) int {
	n := 0
	for _, res := range st.ToolResults {
		n += len(res.Findings)
	}
	return n
}
