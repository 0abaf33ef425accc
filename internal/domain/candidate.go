package domain

// CandidateDescriptor identifies a clip a source has advertised but that has
// not been fetched yet. It is immutable once produced by a source adapter
// and uniquely identified by (SourceID, ExternalID).
type CandidateDescriptor struct {
	SourceID          string
	ExternalID        string
	URL               string
	Title             string
	EstimatedDuration float64 // seconds, source-reported
	Metadata          map[string]string
}

// Key returns the identity used for dedup and checkpoint bookkeeping.
func (d CandidateDescriptor) Key() string {
	return d.SourceID + "/" + d.ExternalID
}
