package harness

// TraceEvent is one observable outcome of a scenario step. Alerts appear
// with the kind "Alert:<alert kind>", watchdog findings with their event
// kind, and every step ends with a summary event named after the action.
type TraceEvent struct {
	Seq    int    `json:"seq"`
	Step   int    `json:"step"`
	Action string `json:"action"`
	Kind   string `json:"kind"`
	Path   string `json:"path,omitempty"`
	State  string `json:"state,omitempty"`

	// Detail is for humans; it may hold temp paths and is kept out of
	// golden files.
	Detail string `json:"detail,omitempty"`
}

// Result is the outcome of one scenario run.
type Result struct {
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult returns a passing, empty result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}
