package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ashwinrachhavt/code-review-agent/internal/event"
	"github.com/ashwinrachhavt/code-review-agent/internal/llm"
	"github.com/ashwinrachhavt/code-review-agent/internal/session"
	"github.com/ashwinrachhavt/code-review-agent/internal/state"
	"github.com/ashwinrachhavt/code-review-agent/internal/tools"
)

// Stage names the steps of the run state machine.
type Stage string

const (
	StageModeGate  Stage = "mode_gate"
	StageRouter    Stage = "router"
	StageContext   Stage = "context_builder"
	StageFanout    Stage = "tools_fanout"
	StageSynthesis Stage = "synthesis"
	StageChatReply Stage = "chat_reply"
	StagePersist   Stage = "persist"
	StageEnd       Stage = "end"
)

// StageError is a hard failure: the run aborts, a terminal status event is
// emitted, and whatever partial state exists is still persisted best-effort.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

var errBudgetExceeded = errors.New("run budget exceeded")

// Env carries the run dependencies and limits. LLM may be nil; every stage
// that consults it must degrade deterministically.
type Env struct {
	LLM      llm.Client
	Adapters []tools.Adapter
	Sessions *session.Manager

	ToolTimeout   time.Duration
	RouterTimeout time.Duration
	RunBudget     time.Duration
	MaxFiles      int
	MaxTotalBytes int
	HistoryLimit  int
}

// Orchestrator sequences the stage state machine:
//
//	START -> mode_gate
//	mode_gate -(analyze)-> router -> context_builder -> tools_fanout -> synthesis -> persist -> END
//	mode_gate -(chat)----> chat_reply -> persist -> END
type Orchestrator struct {
	env Env
}

func New(env Env) *Orchestrator {
	if env.ToolTimeout <= 0 {
		env.ToolTimeout = 20 * time.Second
	}
	if env.RouterTimeout <= 0 {
		env.RouterTimeout = 8 * time.Second
	}
	if env.RunBudget <= 0 {
		env.RunBudget = 120 * time.Second
	}
	if env.MaxFiles <= 0 {
		env.MaxFiles = 200
	}
	if env.MaxTotalBytes <= 0 {
		env.MaxTotalBytes = 2 << 20
	}
	if env.HistoryLimit <= 0 {
		env.HistoryLimit = 20
	}
	return &Orchestrator{env: env}
}

// Run drives one state container through the machine, emitting ordered events
// on stream. The caller owns the stream's consumer side; Run owns the
// producer side and always terminates it: done on success, plain close on
// hard failure or cancellation.
func (o *Orchestrator) Run(ctx context.Context, st *state.State, stream *event.Stream) error {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, o.env.RunBudget)
	defer cancel()

	stream.Progress(st.AdvanceProgress(5))

	cur := StageModeGate
	for cur != StageEnd {
		// Caller cancellation is not an error; an exhausted run budget is a
		// hard failure with a terminal status.
		if ctx.Err() != nil {
			if parent.Err() != nil {
				return o.abortCancelled(st, stream)
			}
			return o.abortHard(cur, errBudgetExceeded, st, stream)
		}

		next, err := o.step(ctx, cur, st, stream)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if parent.Err() != nil {
					return o.abortCancelled(st, stream)
				}
				if ctx.Err() != nil {
					return o.abortHard(cur, errBudgetExceeded, st, stream)
				}
			}
			return o.abortHard(cur, err, st, stream)
		}
		// The container must stay serializable at every stage boundary so it
		// can be checkpointed.
		if _, serr := st.Snapshot(); serr != nil {
			return o.abortHard(cur, serr, st, stream)
		}
		cur = next
	}

	stream.Progress(st.AdvanceProgress(100))
	stream.Done()
	return nil
}

func (o *Orchestrator) step(ctx context.Context, cur Stage, st *state.State, stream *event.Stream) (Stage, error) {
	switch cur {
	case StageModeGate:
		if err := o.modeGate(st); err != nil {
			return "", err
		}
		if st.Mode == state.ModeChat {
			return StageChatReply, nil
		}
		return StageRouter, nil

	case StageRouter:
		o.router(ctx, st, stream)
		return StageContext, nil

	case StageContext:
		if err := o.buildContext(st, stream); err != nil {
			return "", err
		}
		return StageFanout, nil

	case StageFanout:
		o.fanout(ctx, st, stream)
		return StageSynthesis, nil

	case StageSynthesis:
		if err := o.synthesize(ctx, st, stream); err != nil {
			return "", err
		}
		return StagePersist, nil

	case StageChatReply:
		if err := o.chatReply(ctx, st, stream); err != nil {
			return "", err
		}
		return StagePersist, nil

	case StagePersist:
		o.persist(st, stream)
		return StageEnd, nil

	default:
		return "", fmt.Errorf("unknown stage %q", cur)
	}
}

// persist commits the container. Persistence failure is logged and degraded;
// it never invalidates the already-streamed report.
func (o *Orchestrator) persist(st *state.State, stream *event.Stream) {
	if o.env.Sessions == nil {
		return
	}
	// Persist on a fresh context: a cancelled run still checkpoints.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.env.Sessions.Commit(ctx, st); err != nil {
		log.Printf("pipeline: persist thread %s: %v", st.ThreadID, err)
		if stream != nil {
			stream.Status("Warning: result could not be persisted; follow-up chat may be ungrounded.")
		}
	}
}

func (o *Orchestrator) abortCancelled(st *state.State, stream *event.Stream) error {
	st.Cancelled = true
	o.persist(st, nil)
	stream.Close()
	return context.Canceled
}

func (o *Orchestrator) abortHard(at Stage, err error, st *state.State, stream *event.Stream) error {
	serr := &StageError{Stage: at, Err: err}
	log.Printf("pipeline: run aborted at %s: %v", at, err)
	stream.Status("Error: " + serr.Error())
	o.persist(st, nil)
	stream.Close()
	return serr
}
