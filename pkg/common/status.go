package common

// GraphStatus is the coarse build state of a graph. Transitions are
// forward-only: queued -> processing -> completed | failed. The only
// way back is an explicit requeue of a terminal graph (update path).
type GraphStatus string

const (
	StatusQueued     GraphStatus = "queued"
	StatusProcessing GraphStatus = "processing"
	StatusCompleted  GraphStatus = "completed"
	StatusFailed     GraphStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s GraphStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is a legal
// forward transition. Requeueing a terminal graph is not covered here;
// that path goes through the store's Requeue operation.
func (s GraphStatus) CanTransition(next GraphStatus) bool {
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}
