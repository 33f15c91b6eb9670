package domain

// ProtocolState is the position of the asset in the ESSIM bidding protocol.
type ProtocolState string

const (
	StateUninitialized      ProtocolState = "UNINITIALIZED"
	StateConfigured         ProtocolState = "CONFIGURED"
	StateAwaitingBidRequest ProtocolState = "AWAITING_BID_REQUEST"
	StateAwaitingAllocation ProtocolState = "AWAITING_ALLOCATION"
	StateComplete           ProtocolState = "COMPLETE"
	StateError              ProtocolState = "ERROR"
)

// HasRun reports whether a run may be live in this state.
func (s ProtocolState) HasRun() bool {
	return s != StateUninitialized
}

// AcceptsConfig reports whether a configuration message starts a new run from this state.
func (s ProtocolState) AcceptsConfig() bool {
	return s == StateUninitialized || s == StateError
}
