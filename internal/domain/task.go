package domain

type TaskState string

const (
	TaskStateQueued      TaskState = "queued"
	TaskStateFetching    TaskState = "fetching"
	TaskStateTranscoding TaskState = "transcoding"
	TaskStateValidating  TaskState = "validating"
	TaskStateAccepted    TaskState = "accepted"
	TaskStateRejected    TaskState = "rejected"
	TaskStateFailed      TaskState = "failed"
)

// Terminal reports whether the state is one of the three end states.
func (s TaskState) Terminal() bool {
	return s == TaskStateAccepted || s == TaskStateRejected || s == TaskStateFailed
}

// ClipTask tracks one candidate through the processing pipeline. A task is
// owned by exactly one worker at a time; only that worker mutates it until
// it reports a terminal state back to the scheduler.
type ClipTask struct {
	Descriptor   CandidateDescriptor
	State        TaskState
	AttemptCount int
	LastError    string

	// Duration measured after transcoding; falls back to the source
	// estimate when probing fails.
	Duration float64

	// Verdict is set once validation has run.
	Verdict *ValidationVerdict

	// StoredRef is the durable storage reference for accepted clips.
	StoredRef string
}

func NewClipTask(desc CandidateDescriptor) *ClipTask {
	return &ClipTask{
		Descriptor: desc,
		State:      TaskStateQueued,
		Duration:   desc.EstimatedDuration,
	}
}
