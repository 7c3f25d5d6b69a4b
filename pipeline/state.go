package pipeline

import (
	"fmt"

	"voxgen/corpus"
)

// TaskState tracks where a generation task is in its life. Transitions
// are strictly sequential within a task; only the report is shared.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskSynthesizing
	TaskValidating
	TaskStoring
	TaskDone
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskSynthesizing:
		return "synthesizing"
	case TaskValidating:
		return "validating"
	case TaskStoring:
		return "storing"
	case TaskDone:
		return "done"
	case TaskFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// allowedTransition encodes the task state machine. Pending→Done is
// the idempotent-skip edge; Validating→Synthesizing is the single
// re-synthesis allowed after a validation failure.
func allowedTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskSynthesizing || to == TaskDone
	case TaskSynthesizing:
		return to == TaskValidating || to == TaskFailed
	case TaskValidating:
		return to == TaskStoring || to == TaskSynthesizing || to == TaskFailed
	case TaskStoring:
		return to == TaskDone || to == TaskFailed
	default:
		return false
	}
}

// Task is the atomic unit of work: render one variation in one voice.
// Path is fixed at fan-out time and is the task's identity.
type Task struct {
	Variation corpus.Variation
	Voice     corpus.VoiceProfile
	Path      string

	state TaskState
}

// State reports the task's current state.
func (t *Task) State() TaskState { return t.state }

// to performs a validated transition. An illegal transition is a
// programmer error, not an operational one.
func (t *Task) to(next TaskState) error {
	if !allowedTransition(t.state, next) {
		return fmt.Errorf("illegal task transition %s -> %s for %s", t.state, next, t.Path)
	}
	t.state = next
	return nil
}
