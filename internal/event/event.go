package event

import (
	"fmt"
	"strconv"
	"strings"
)

// Type enumerates the outbound event kinds of one run.
type Type int

const (
	TypeUnspecified Type = iota
	TypeProgress
	TypeStatus
	TypeFragment
	TypeDone
)

// Event is one record on a run's ordered outbound stream.
type Event struct {
	Type     Type
	Progress int    // 0-100, TypeProgress only
	Text     string // status or fragment payload
}

const (
	progressMarker = ":::progress: "
	doneMarker     = ":::done"
)

// EncodeLine renders an event as one line of the text protocol. Fragment and
// status payloads pass through verbatim; consumers treat unknown marker-shaped
// lines as opaque status text.
func EncodeLine(ev Event) string {
	switch ev.Type {
	case TypeProgress:
		return progressMarker + strconv.Itoa(ev.Progress)
	case TypeDone:
		return doneMarker
	default:
		return ev.Text
	}
}

// DecodeLine parses one protocol line back into an event.
func DecodeLine(line string) Event {
	trimmed := strings.TrimRight(line, "\n")
	if trimmed == doneMarker {
		return Event{Type: TypeDone}
	}
	if rest, ok := strings.CutPrefix(trimmed, progressMarker); ok {
		if pct, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
			return Event{Type: TypeProgress, Progress: pct}
		}
	}
	return Event{Type: TypeStatus, Text: trimmed}
}

func (t Type) String() string {
	switch t {
	case TypeProgress:
		return "progress"
	case TypeStatus:
		return "status"
	case TypeFragment:
		return "fragment"
	case TypeDone:
		return "done"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}
