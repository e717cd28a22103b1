package emit

// Event is an observability record emitted while a workflow runs.
//
// These are operational signals (timing, errors, state writes, loop
// decisions) and are separate from the run trace the engine hands back to
// callers.
type Event struct {
	// RunID identifies the run that emitted the event.
	RunID string

	// Seq is the 1-based emission order within the run.
	Seq int

	// Step names the step the event concerns. Empty for run-level events
	// (run_start, run_end, run_error).
	Step string

	// Msg is the event type: run_start, step_start, step_end, step_error,
	// state_write, escalate, loop_pass, loop_exit, run_end, run_error.
	Msg string

	// Meta carries event-specific data. Common keys:
	//   - "duration_ms": elapsed milliseconds
	//   - "error": error text, marks the event as a failure
	//   - "iteration": current loop pass
	//   - "key": StateStore key written
	Meta map[string]interface{}
}

// IsError reports whether the event carries an error.
func (e Event) IsError() bool {
	_, ok := e.Meta["error"]
	return ok
}
