package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Mode selects which stage path a run executes.
type Mode string

const (
	ModeAnalyze Mode = "analyze"
	ModeChat    Mode = "chat"
)

// Source tags the input modality of a run.
type Source string

const (
	SourcePasted     Source = "pasted"
	SourceFileList   Source = "files"
	SourceServerPath Source = "server_path"
)

var (
	ErrThreadIDReassigned = errors.New("state: thread id is immutable once assigned")
	ErrReportReassigned   = errors.New("state: report is set at most once per run")
	ErrNotSerializable    = errors.New("state: not JSON-serializable")
)

// File is one normalized input file.
type File struct {
	Path     string `json:"path"`
	Language string `json:"language,omitempty"`
	Size     int    `json:"size"`
	Content  string `json:"content"`
}

// ContextSummary aggregates the normalized input, set by the context builder.
type ContextSummary struct {
	FileCount  int      `json:"file_count"`
	TotalBytes int      `json:"total_bytes"`
	Languages  []string `json:"languages"`
	Truncated  bool     `json:"truncated,omitempty"`
}

// ToolResult is one adapter's outcome merged into the state. Unavailable
// adapters record Available=false with a reason instead of failing the run.
type ToolResult struct {
	Tool      string    `json:"tool"`
	Available bool      `json:"available"`
	Reason    string    `json:"reason,omitempty"`
	Findings  []Finding `json:"findings,omitempty"`
}

// Finding is a single typed result row from an analysis tool.
type Finding struct {
	Path     string `json:"path,omitempty"`
	Line     int    `json:"line,omitempty"`
	Kind     string `json:"kind"`
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message"`
	Snippet  string `json:"snippet,omitempty"`
}

// Message is one conversation turn, persisted as a child of the thread.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// State is the JSON-serializable container threaded through every stage of one
// run. Ownership transfers stage to stage; no two stages hold it concurrently.
type State struct {
	ThreadID string `json:"thread_id"`
	Mode     Mode   `json:"mode"`

	Source     Source `json:"source"`
	Code       string `json:"code,omitempty"`
	Files      []File `json:"files,omitempty"`
	ServerPath string `json:"server_path,omitempty"`

	DetectedLanguage string                `json:"detected_language,omitempty"`
	Context          *ContextSummary       `json:"context,omitempty"`
	ToolResults      map[string]ToolResult `json:"tool_results,omitempty"`
	Report           string                `json:"report,omitempty"`

	ChatQuery string    `json:"chat_query,omitempty"`
	Messages  []Message `json:"messages,omitempty"`

	Progress  int  `json:"progress"`
	Cancelled bool `json:"cancelled,omitempty"`
}

// New constructs a run state with safe defaults.
func New(threadID string) *State {
	return &State{
		ThreadID:    strings.TrimSpace(threadID),
		Source:      SourcePasted,
		ToolResults: make(map[string]ToolResult),
	}
}

// SetThreadID assigns the thread id once; reassignment to a different id is a
// contract violation.
func (s *State) SetThreadID(id string) error {
	id = strings.TrimSpace(id)
	if s.ThreadID != "" && s.ThreadID != id {
		return ErrThreadIDReassigned
	}
	s.ThreadID = id
	return nil
}

// SetReport assigns the synthesized report once per run.
func (s *State) SetReport(report string) error {
	if s.Report != "" {
		return ErrReportReassigned
	}
	s.Report = report
	return nil
}

// MergeToolResult records an adapter outcome. Entries are never overwritten
// after the fan-out completes; the first write for a tool name wins.
func (s *State) MergeToolResult(res ToolResult) {
	name := strings.TrimSpace(res.Tool)
	if name == "" {
		return
	}
	if s.ToolResults == nil {
		s.ToolResults = make(map[string]ToolResult)
	}
	if _, exists := s.ToolResults[name]; exists {
		return
	}
	s.ToolResults[name] = res
}

// AppendMessage adds a conversation turn and returns it with identity assigned
// by the caller left intact (persistence dedups by this id, not content).
func (s *State) AppendMessage(m Message) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.Messages = append(s.Messages, m)
}

// AdvanceProgress clamps progress to a monotonically non-decreasing 0..100.
func (s *State) AdvanceProgress(pct int) int {
	if pct > 100 {
		pct = 100
	}
	if pct > s.Progress {
		s.Progress = pct
	}
	return s.Progress
}

// ToolNames returns the merged tool result keys in stable order.
func (s *State) ToolNames() []string {
	names := make([]string, 0, len(s.ToolResults))
	for name := range s.ToolResults {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot serializes the state for checkpointing. It is also the
// serializability check at stage boundaries.
func (s *State) Snapshot() (json.RawMessage, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	return raw, nil
}

// Restore rehydrates a state from a persisted snapshot.
func Restore(raw json.RawMessage) (*State, error) {
	if len(raw) == 0 {
		return nil, errors.New("state: empty snapshot")
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("state: decode snapshot: %w", err)
	}
	if s.ToolResults == nil {
		s.ToolResults = make(map[string]ToolResult)
	}
	return &s, nil
}
