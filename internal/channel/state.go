package channel


// RxState is the reliable-channel receive state machine from spec §3.
type RxState int

const (
	StateIdle RxState = iota
	StateWaitData
	StateSeqDone
	StateRcvCanceled
)

func (s RxState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateWaitData:
		return "WAIT_DATA"
	case StateSeqDone:
		return "SEQ_DONE"
	case StateRcvCanceled:
		return "RCV_CANCELED"
	default:
		return "UNKNOWN"
	}
}

// Condition flags, OR'd into State.CondFlags. Set by an incoming CMD
// packet, cleared by ResetCondition.
const (
	CondAppReset  uint8 = 1 << 0
	CondAppCancel uint8 = 1 << 1
)

// State is the small POD snapshotted atomically per reliable channel,
// replacing the original's eswb-backed rx_state topic. last_received_seq
// is only ever updated when a sequence completes or is canceled, never
// mid-sequence.
type State struct {
	RxState         RxState
	LastReceivedSeq uint16
	CondFlags       uint8
}

// readState returns the current snapshot, or the zero State for
// unreliable channels (which carry no rx_state at all).
func (h *Handle) readState() State {
	p := h.state.Load()
	if p == nil {
		return State{}
	}
	return *p
}

func (h *Handle) setState(s State) {
	h.state.Store(&s)
}

// setRx mirrors ch_state_set_rx: overwrite rx_state and
// last_received_seq, leave condition flags untouched.
func (h *Handle) setRx(rx RxState, seq uint16) {
	s := h.readState()
	s.RxState = rx
	s.LastReceivedSeq = seq
	h.setState(s)
}

// alterCondFlags mirrors ch_state_alter_cond_flags.
func (h *Handle) alterCondFlags(flags uint8, set bool) {
	s := h.readState()
	if set {
		s.CondFlags |= flags
	} else {
		s.CondFlags &^= flags
	}
	h.setState(s)
}

// returnCondition mirrors ch_state_return_condition: translate any
// currently-set out-of-band condition flag into its sentinel error.
// APP_RESET takes priority over APP_CANCEL, as in the original.
func (h *Handle) returnCondition() error {
	s := h.readState()
	switch {
	case s.CondFlags&CondAppReset != 0:
		return ErrAppReset
	case s.CondFlags&CondAppCancel != 0:
		return ErrAppCancel
	default:
		return nil
	}
}

// CheckResetCondition reports any pending application reset/cancel
// condition without clearing it.
func (h *Handle) CheckResetCondition() error {
	return h.returnCondition()
}

// ResetCondition clears every condition flag, mirroring
// sdtl_channel_reset_condition's alter_cond_flags(chh, 0xFF, 0).
func (h *Handle) ResetCondition() {
	h.alterCondFlags(0xFF, false)
}

// State returns a snapshot of the channel's current receive state.
// Valid only for reliable channels.
func (h *Handle) State() State {
	return h.readState()
}
