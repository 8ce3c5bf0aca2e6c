package channel

import "github.com/librescoot/sdtl/internal/sdtlpkt"

// HandleData processes one incoming DATA packet for this channel,
// mirroring rx_process_data: a trailing fragment of the last completed
// sequence is re-ACKed and dropped without being redelivered (the
// one-trailing-packet duplicate-suppression rule); otherwise the
// packet's fate depends on the current rx_state. Unreliable channels
// skip all of this and simply enqueue.
func (h *Handle) HandleData(hdr sdtlpkt.DataHeader, payload []byte) error {
	entry := dataEntry{
		seqCode:     hdr.SeqCode,
		cnt:         hdr.Cnt,
		flags:       hdr.Flags,
		payloadSize: len(payload),
		payload:     payload,
	}

	if !h.reliable() {
		return h.dataFIFO.Push(entry)
	}

	state := h.readState()

	if hdr.Flags&sdtlpkt.FlagLastPkt != 0 && hdr.SeqCode == state.LastReceivedSeq {
		return h.sendAck(hdr.Cnt, sdtlpkt.AckGotPkt)
	}

	switch state.RxState {
	case StateRcvCanceled:
		return h.sendAck(hdr.Cnt, sdtlpkt.AckCanceled)
	case StateSeqDone, StateIdle:
		return h.sendAck(hdr.Cnt, sdtlpkt.AckNoReceiver)
	case StateWaitData:
		return h.dataFIFO.Push(entry)
	default:
		return h.sendAck(hdr.Cnt, sdtlpkt.AckNoReceiver)
	}
}

// HandleAck processes one incoming ACK packet: push it onto the ack
// FIFO for whichever SendData/SendCmd call is waiting.
func (h *Handle) HandleAck(hdr sdtlpkt.AckHeader) error {
	return h.ackFIFO.Push(hdr)
}

// HandleCmd processes one incoming CMD packet (reliable channels
// only), mirroring rx_process_cmd: a CMD is only acted on the first
// time its sequence code is seen (duplicate CMDs, e.g. retransmitted
// while waiting for our ACK, are suppressed); acting on it sets the
// corresponding condition flag and pushes synthetic FIFO entries so
// any RecvData/SendData blocked on data_fifo/ack_fifo wakes up to
// observe it. A GOT_CMD ack is always sent, identifying the
// just-latched sequence code regardless of whether it was new. On an
// unreliable channel the CMD is ignored: no flag, no FIFO entry, no ack.
func (h *Handle) HandleCmd(hdr sdtlpkt.CmdHeader) error {
	if !h.reliable() {
		return nil
	}

	if uint32(hdr.SeqCode) != h.rxCmdLastSeqCode.Load() {
		h.rxCmdLastSeqCode.Store(uint32(hdr.SeqCode))

		var flags uint8
		switch hdr.Code {
		case sdtlpkt.CmdReset:
			flags |= CondAppReset
		case sdtlpkt.CmdCancel:
			flags |= CondAppCancel
		}
		h.alterCondFlags(flags, true)

		h.dataFIFO.Push(dataEntry{oob: true})
		h.ackFIFO.Push(sdtlpkt.AckHeader{Base: sdtlpkt.BaseHeader{ChID: h.cfg.ID}, Code: sdtlpkt.AckOutBandEvent})
	}

	return h.sendAck(uint8(h.rxCmdLastSeqCode.Load()), sdtlpkt.AckGotCmd)
}
