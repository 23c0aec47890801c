package chat

// Status is a message's position in the delivery lattice.
//
// sent -> delivered -> read, strictly forward. StatusUnknown is a terminal
// sink reachable only from ingestion of ambiguous external data (e.g. a bulk
// import carrying a status string we do not recognize); no normal transition
// enters or leaves it.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusUnknown   Status = "unknown"
)

var statusRank = map[Status]int{
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// NormalizeStatus maps an external status string onto the lattice.
// Anything unrecognized lands in the unknown sink.
func NormalizeStatus(s string) Status {
	switch Status(s) {
	case StatusSent, StatusDelivered, StatusRead:
		return Status(s)
	case "":
		return StatusSent
	default:
		return StatusUnknown
	}
}

// CanAdvance reports whether moving cur -> next is a real forward
// transition. Backward moves and anything touching the unknown sink are not
// advances; callers treat those requests as accepted no-ops so that
// historical or out-of-order data cannot corrupt forward progress.
func CanAdvance(cur, next Status) bool {
	curRank, ok := statusRank[cur]
	if !ok {
		return false
	}
	nextRank, ok := statusRank[next]
	if !ok {
		return false
	}
	return nextRank > curRank
}
