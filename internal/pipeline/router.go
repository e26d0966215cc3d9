package pipeline

import (
	"context"
	"log"
	"path/filepath"
	"strings"

	"github.com/ashwinrachhavt/code-review-agent/internal/event"
	"github.com/ashwinrachhavt/code-review-agent/internal/state"
)

// router sets the detected language, preferring a short completion-service
// call and falling back to a deterministic heuristic. It never aborts the run.
func (o *Orchestrator) router(ctx context.Context, st *state.State, stream *event.Stream) {
	lang := ""
	if o.env.LLM != nil {
		lang = o.routeViaLLM(ctx, st)
	}
	if lang == "" {
		lang = DetectLanguage(sampleFor(st), samplePath(st))
	}
	st.DetectedLanguage = lang
	stream.Progress(st.AdvanceProgress(10))
	stream.Status("Router: detected language = " + lang)
}

func (o *Orchestrator) routeViaLLM(ctx context.Context, st *state.State) string {
	ctx, cancel := context.WithTimeout(ctx, o.env.RouterTimeout)
	defer cancel()

	sample := sampleFor(st)
	if len(sample) > 2000 {
		sample = sample[:2000]
	}
	prompt := "Identify the primary programming language of this code. " +
		"Answer with a single lowercase word (e.g. python, javascript, go, java).\n\n" + sample
	answer, err := o.env.LLM.Complete(ctx, prompt)
	if err != nil {
		log.Printf("pipeline: router completion failed, using heuristic: %v", err)
		return ""
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer == "" || strings.ContainsAny(answer, " \n") {
		return ""
	}
	return answer
}

var extLanguages = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".go":    "go",
	".java":  "java",
	".rb":    "ruby",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".cs":    "csharp",
	".php":   "php",
	".kt":    "kotlin",
	".swift": "swift",
}

// DetectLanguage is the deterministic fallback: file extension first, then
// keyword sniffing, then python as the historical default.
func DetectLanguage(code, path string) string {
	if ext := strings.ToLower(filepath.Ext(path)); ext != "" {
		if lang, ok := extLanguages[ext]; ok {
			return lang
		}
	}
	switch {
	case strings.Contains(code, "public static void main"):
		return "java"
	case strings.Contains(code, "package main") && strings.Contains(code, "func "):
		return "go"
	case strings.Contains(code, "import React") || (strings.Contains(code, "function(") && strings.Contains(code, "export default")):
		return "javascript"
	case strings.Contains(code, "#include <"):
		return "c"
	case strings.Contains(code, "def ") || strings.Contains(code, "import "):
		return "python"
	default:
		return "python"
	}
}

func sampleFor(st *state.State) string {
	if strings.TrimSpace(st.Code) != "" {
		return st.Code
	}
	if len(st.Files) > 0 {
		return st.Files[0].Content
	}
	return ""
}

func samplePath(st *state.State) string {
	if len(st.Files) > 0 {
		return st.Files[0].Path
	}
	return ""
}
