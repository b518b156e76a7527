package domain

// Phase names a stage of a reconstruction run.
type Phase string

const (
	PhaseSignatures   Phase = "signatures"
	PhaseTransactions Phase = "transactions"
	PhaseDecoding     Phase = "decoding"
	PhaseDone         Phase = "done"
)

// Progress is a snapshot reported to observers while a run is in flight.
type Progress struct {
	Phase   Phase  `json:"phase"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// ProgressFunc receives progress snapshots synchronously. A nil ProgressFunc
// is valid and discards updates.
type ProgressFunc func(Progress)

// Report calls f if it is non-nil.
func (f ProgressFunc) Report(p Progress) {
	if f != nil {
		f(p)
	}
}
