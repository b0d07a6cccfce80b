package harness

// Trace event kinds.
const (
	KindExec  = "exec"
	KindQuery = "query"
)

// TraceEvent records one step the harness ran.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Kind string `json:"kind"`

	// Name is the action name for exec events and the document for query
	// events.
	Name string `json:"name"`
	Args []any  `json:"args,omitempty"`

	// ID and WALID are set for applied mutations.
	ID    string `json:"id,omitempty"`
	WALID int64  `json:"wal_id,omitempty"`

	// Error is the error code of a failed step.
	Error string `json:"error,omitempty"`

	// Output holds the returned rows of an exec or the decoded result of a
	// query.
	Output any `json:"output,omitempty"`
}

// Applied reports whether the event is a mutation that committed.
func (e TraceEvent) Applied() bool {
	return e.Kind == KindExec && e.Error == ""
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// record appends ev to the trace with the next sequence number.
func (r *Result) record(ev TraceEvent) TraceEvent {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
	return ev
}

// applied returns the committed mutations in trace order.
func (r *Result) applied() []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Applied() {
			out = append(out, ev)
		}
	}
	return out
}
