package pipeline

import (
	"errors"
	"strings"

	"github.com/ashwinrachhavt/code-review-agent/internal/state"
)

var (
	errNoInput  = errors.New("no code, files, or folder path to analyze")
	errNoQuery  = errors.New("chat request has no user question")
	errBadMode  = errors.New("unsupported mode")
	errNoThread = errors.New("run has no thread id")
)

// modeGate decides analyze vs chat and validates the input contract before
// any external call. Chat is the default when no code is supplied.
// Deterministic, no external calls.
func (o *Orchestrator) modeGate(st *state.State) error {
	if strings.TrimSpace(st.ThreadID) == "" {
		return errNoThread
	}

	hasInput := strings.TrimSpace(st.Code) != "" || len(st.Files) > 0 || strings.TrimSpace(st.ServerPath) != ""

	switch st.Mode {
	case "":
		if hasInput {
			st.Mode = state.ModeAnalyze
		} else {
			st.Mode = state.ModeChat
		}
	case state.ModeAnalyze, state.ModeChat:
	default:
		return errBadMode
	}

	if st.Mode == state.ModeAnalyze && !hasInput {
		return errNoInput
	}
	if st.Mode == state.ModeChat && strings.TrimSpace(st.ChatQuery) == "" {
		return errNoQuery
	}
	return nil
}
