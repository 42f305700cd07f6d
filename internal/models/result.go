package models

// Disposition is the terminal classification of a processed email
type Disposition int

const (
	Rejected Disposition = iota
	Accepted
)

func (d Disposition) String() string {
	switch d {
	case Accepted:
		return "ACCEPTED"
	default:
		return "REJECTED"
	}
}

// ProcessingResult is produced once per dispatched record
type ProcessingResult struct {
	Record      EmailRecord
	Disposition Disposition
	Reason      string
	ListID      int64
	CardID      int64
}

// CountDispositions returns how many results were accepted and rejected
func CountDispositions(results []ProcessingResult) (accepted, rejected int) {
	for _, r := range results {
		if r.Disposition == Accepted {
			accepted++
		} else {
			rejected++
		}
	}
	return accepted, rejected
}
