package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/ashwinrachhavt/code-review-agent/internal/state"
)

// Target is the normalized input handed to every adapter: the detected
// language plus the file list produced by the context builder.
type Target struct {
	Language string
	Files    []state.File
}

// Adapter wraps one external static-analysis capability. Run reports
// Available=false with a reason instead of returning errors; nothing an
// adapter does may escape its boundary.
type Adapter interface {
	Name() string
	Run(ctx context.Context, target Target) state.ToolResult
}

// RunSafe executes an adapter under a timeout and converts panics into an
// unavailable result so one adapter can never abort its siblings.
func RunSafe(ctx context.Context, a Adapter, target Target, timeout time.Duration) (res state.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			res = Unavailable(a.Name(), fmt.Sprintf("panic: %v", r))
		}
	}()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res = a.Run(ctx, target)
	res.Tool = a.Name()
	return res
}

// Unavailable builds the degraded marker for a tool that could not run.
func Unavailable(name, reason string) state.ToolResult {
	return state.ToolResult{Tool: name, Available: false, Reason: reason}
}

// JoinedSource concatenates target files into one annotated blob for tools
// that take a single code sample.
func JoinedSource(target Target, maxFiles int) string {
	if maxFiles <= 0 {
		maxFiles = 10
	}
	if len(target.Files) == 1 {
		return target.Files[0].Content
	}
	var out []byte
	for i, f := range target.Files {
		if i >= maxFiles {
			break
		}
		out = append(out, []byte(fmt.Sprintf("\n# File: %s\n", f.Path))...)
		out = append(out, []byte(f.Content)...)
	}
	return string(out)
}
