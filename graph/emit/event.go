package emit

// Event describes something that happened while a thread executed.
//
// Events are emitted for run start and end, every node execution, every
// checkpoint write, and every interrupt and resume. Meta carries structured
// details such as "duration_ms", "error", "next" or "interrupt_id".
type Event struct {
	// ThreadID identifies the run that emitted the event.
	ThreadID string

	// Step is the checkpoint version the event relates to. Zero for
	// thread-level events.
	Step int

	// NodeID is empty for thread-level events.
	NodeID string

	// Msg is a short event name, for example "node_end".
	Msg string

	Meta map[string]any
}

// Standard event names.
const (
	MsgRunStart   = "run_start"
	MsgRunEnd     = "run_end"
	MsgNodeStart  = "node_start"
	MsgNodeEnd    = "node_end"
	MsgNodeError  = "node_error"
	MsgCheckpoint = "checkpoint"
	MsgInterrupt  = "interrupt"
	MsgResume     = "resume"
)
