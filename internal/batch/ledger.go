package batch

// AlreadyProcessed returns the subset of recordIDs already covered by any
// child batch recorded in the parent batch directory's metadata. It is a
// pure read: no metadata is created or modified.
//
// A missing or malformed metadata file surfaces as ErrMetadataNotFound or
// ErrCorruptMetadata rather than an empty set. Silently treating every
// record as unprocessed would resubmit (and re-bill) work that may already
// be running.
func (s *Store) AlreadyProcessed(recordIDs []string, parentDir string) (map[string]struct{}, error) {
	parent, err := s.LoadParent(parentDir)
	if err != nil {
		return nil, err
	}

	processed := parent.processedSet()
	seen := make(map[string]struct{})
	for _, id := range recordIDs {
		if _, ok := processed[id]; ok {
			seen[id] = struct{}{}
		}
	}
	return seen, nil
}
