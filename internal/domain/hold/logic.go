package hold

import "slices"

// Applies reports whether a hold protects a record owned by ownerID in
// the given category. Each scope dimension is a wildcard when empty.
func Applies(h LegalHold, ownerID, category string) bool {
	if h.Status != StatusActive {
		return false
	}
	if len(h.Scope.DataCategories) > 0 && !slices.Contains(h.Scope.DataCategories, category) {
		return false
	}
	if len(h.Scope.UserIDs) > 0 && !slices.Contains(h.Scope.UserIDs, ownerID) {
		return false
	}
	return true
}

// Snapshot is a point-in-time view of active holds, taken once per page
// of records. A hold created after the snapshot protects only records
// in later pages.
type Snapshot struct {
	holds []LegalHold
}

func NewSnapshot(holds []LegalHold) Snapshot {
	return Snapshot{holds: holds}
}

func (s Snapshot) Held(ownerID, category string) bool {
	for _, h := range s.holds {
		if Applies(h, ownerID, category) {
			return true
		}
	}
	return false
}
