package batch

// Record is one unit of input text with a stable identifier. Records are
// immutable once created; the batch core never modifies them, only groups
// their IDs into units.
type Record struct {
	// ID is the dataset-assigned unique identifier (e.g. a news story ID).
	ID string

	// Text is the raw input text submitted for extraction.
	Text string

	// Metadata carries optional prior fields from the dataset loader.
	// Opaque to the batch core.
	Metadata map[string]string
}

// RecordIDs returns the IDs of records in input order.
func RecordIDs(records []Record) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}
