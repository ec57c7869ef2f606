package api

// RescuePayload carries the raw text and diagnostic for a row that failed to
// fully conform to the schema under permissive parsing. Rescued rows are
// still inserted; the payload travels with them into the data file.
type RescuePayload struct {
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

// Record is one typed row. Values holds the typed field values keyed by
// field name; typed values are int64, float64, bool, string, or nil for
// null. Rescue is non-nil when the row was rescued under PERMISSIVE mode.
type Record struct {
	Values map[string]any
	Rescue *RescuePayload
}

// Rescued reports whether this record carries a rescue payload.
func (r Record) Rescued() bool {
	return r.Rescue != nil
}

// IngestResult summarizes one ingestion call. Every parsed row is counted
// exactly once: conforming rows under RowsInserted, rescued rows under
// RowsRescued.
type IngestResult struct {
	FilesProcessed int
	RowsInserted   int
	RowsRescued    int
}
