package client

// Outcome reports why a send/regenerate/continue call did or did not dispatch.
// Preconditions are checked before any ledger mutation, so a refused dispatch
// leaves the session untouched.
type Outcome int

const (
	Dispatched Outcome = iota
	AlreadyStreaming
	NoModelSelected
	NotConnected
	EmptyInput
	InvalidTarget
)

func (o Outcome) String() string {
	switch o {
	case Dispatched:
		return "dispatched"
	case AlreadyStreaming:
		return "already streaming"
	case NoModelSelected:
		return "no model selected"
	case NotConnected:
		return "not connected"
	case EmptyInput:
		return "empty input"
	case InvalidTarget:
		return "invalid target"
	}
	return "unknown"
}
