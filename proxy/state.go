package proxy

// State is the proxy lifecycle. Transitions:
//
//	Constructing → Ready    (Ready response to the Construct call)
//	Constructing → Closed   (construction error or transport failure)
//	Constructing → Closing  (Close before readiness)
//	Ready        → Closing  (Close)
//	Closing      → Closed   (worker exit / listener exit observed)
//	Ready        → Closed   (connection lost)
//
// Constructing→Ready happens at most once; Closed is terminal.
type State int32

const (
	StateConstructing State = iota
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConstructing:
		return "constructing"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
