package transfer

import "sync/atomic"

// State is a protocol stage of the transfer state machine.
type State uint32

// Transfer states, in protocol order.
const (
	// Ready is both the initial state and the state after success or failure.
	Ready State = iota
	// SendHeader waits for the ~M28 acknowledgement.
	SendHeader
	// SendFile streams the payload.
	SendFile
	// SendFooter waits for the ~M29 acknowledgement.
	SendFooter
	// SendStart waits for the ~M23 acknowledgement.
	SendStart
	// CheckStatus polls ~M119 until the printer reports it is building.
	CheckStatus
)

// String returns string representation of the state.
func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case SendHeader:
		return "send-header"
	case SendFile:
		return "send-file"
	case SendFooter:
		return "send-footer"
	case SendStart:
		return "send-start"
	case CheckStatus:
		return "check-status"
	default:
		return "unknown"
	}
}

// IsReady returns if s is the Ready state.
func (s State) IsReady() bool { return s == Ready }

// AtomicState is a State that can be read from any goroutine.
type AtomicState struct {
	state atomic.Uint32
}

// Get returns the current state.
func (st *AtomicState) Get() State {
	return State(st.state.Load())
}

// Set sets the current state.
func (st *AtomicState) Set(s State) {
	st.state.Store(uint32(s))
}

// CompareAndSwap moves from old to next and reports whether it did.
func (st *AtomicState) CompareAndSwap(old, next State) bool {
	return st.state.CompareAndSwap(uint32(old), uint32(next))
}

// String returns the current state name.
func (st *AtomicState) String() string {
	return st.Get().String()
}

// linkState is the socket lifecycle of a Conn.
type linkState uint32

const (
	linkClosed linkState = iota
	linkOpening
	linkOpened
	linkClosing
)

func (s linkState) String() string {
	switch s {
	case linkClosed:
		return "closed"
	case linkOpening:
		return "opening"
	case linkOpened:
		return "opened"
	case linkClosing:
		return "closing"
	default:
		return "unknown"
	}
}

type atomicLinkState struct {
	state atomic.Uint32
}

func (st *atomicLinkState) Get() linkState {
	return linkState(st.state.Load())
}

func (st *atomicLinkState) Set(s linkState) {
	st.state.Store(uint32(s))
}

func (st *atomicLinkState) ToOpening() bool {
	return st.state.CompareAndSwap(uint32(linkClosed), uint32(linkOpening))
}

func (st *atomicLinkState) ToOpened() bool {
	return st.state.CompareAndSwap(uint32(linkOpening), uint32(linkOpened))
}

func (st *atomicLinkState) ToClosing() bool {
	if st.state.CompareAndSwap(uint32(linkOpened), uint32(linkClosing)) {
		return true
	}

	return st.state.CompareAndSwap(uint32(linkOpening), uint32(linkClosing))
}
