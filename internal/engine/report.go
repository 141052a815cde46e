package engine

// Failure is one record that could not be built or published.
type Failure struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// Report summarises a run. Counts refer to records in the (filtered)
// selection, except Removed which counts entries dropped from the state.
type Report struct {
	Total          int       `json:"total"`
	Succeeded      int       `json:"succeeded"`
	Failed         int       `json:"failed"`
	Skipped        int       `json:"skipped"`
	Removed        int       `json:"removed"`
	GeneratedFiles int       `json:"generated_files"`
	OutputRoot     string    `json:"output_root"`
	Failures       []Failure `json:"failures,omitempty"`
	DryRun         bool      `json:"dry_run"`
}

func (r *Report) fail(id, title string, err error) {
	r.Failed++
	r.Failures = append(r.Failures, Failure{ID: id, Title: title, Reason: err.Error()})
}
