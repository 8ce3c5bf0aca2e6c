package channel

import "errors"

// Sentinel errors mirroring sdtl_rv_t's non-OK outcomes that cross the
// channel API boundary. Names follow sdtl_strerror in the original
// source with the SDTL_ prefix dropped.
var (
	ErrTimedOut           = errors.New("channel: ack/data wait timed out")
	ErrRxBufSmall         = errors.New("channel: receive buffer too small for incoming fragment")
	ErrTxBufSmall         = errors.New("channel: tx scratch buffer too small for frame")
	ErrRemoteRxCanceled   = errors.New("channel: remote receiver canceled the sequence")
	ErrRemoteRxNoClient   = errors.New("channel: remote has no receiver waiting")
	ErrAppReset           = errors.New("channel: application reset requested")
	ErrAppCancel          = errors.New("channel: application cancel requested")
	ErrInvalidChannelType = errors.New("channel: operation not valid for this channel's type")
	ErrNoChannelLocal     = errors.New("channel: no local channel for incoming ch_id")
	ErrRxFifoOverflow     = errors.New("channel: rx fifo overflow, consumer fell behind the rx thread")
)

// RxOutcome classifies one wait_data result, matching
// SDTL_OK/SDTL_OK_FIRST_PACKET/SDTL_OK_OMIT/SDTL_OK_REPEATED/
// SDTL_OK_MISSED_PKT_IN_SEQ from channel_recv_data's inner dispatch.
// Exposed for tests and diagnostics; RecvData itself resolves these
// internally.
type RxOutcome int

const (
	rxOK RxOutcome = iota
	rxFirstPacket
	rxOmit
	rxRepeated
	rxMissedPacket
)
