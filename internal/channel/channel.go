// Package channel implements an SDTL channel: its static config, its
// TX engine (fragmentation, per-fragment ACK wait with infinite
// timeout-retry), its RX engine (sequencing, duplicate/omit/missed
// classification) and, for reliable channels, its receive state
// machine.
package channel

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/librescoot/sdtl/internal/fifo"
	"github.com/librescoot/sdtl/internal/sdtlpkt"
)

// Type is the channel's delivery guarantee.
type Type int

const (
	Unreliable Type = iota
	Reliable
)

// Config is a channel's static, immutable configuration.
type Config struct {
	ID          uint8
	Name        string
	Type        Type
	MTUOverride int // 0 means "use the service MTU"

	// BaudRate feeds the per-fragment ACK timeout formula; 0 means the
	// original's hardcoded 57600 default.
	BaudRate int

	// FIFODepth sizes the data/ack FIFOs; 0 means the original's FIFO_SIZE (8).
	FIFODepth int
}

func (c Config) fifoDepth() int {
	if c.FIFODepth > 0 {
		return c.FIFODepth
	}
	return 8
}

func (c Config) baudRate() int {
	if c.BaudRate > 0 {
		return c.BaudRate
	}
	return 57600
}

// RxStats are the observable per-channel receive counters.
type RxStats struct {
	Sequences uint64
	Packets   uint64
	Bytes     uint64
	Acks      uint64
	Overflows uint64
}

// TxStats are the observable per-channel transmit counters.
type TxStats struct {
	Sequences uint64
	Packets   uint64
	Bytes     uint64
	Retries   uint64
}

type dataEntry struct {
	seqCode     uint16
	cnt         uint8
	flags       byte
	payloadSize int
	payload     []byte
	oob         bool // synthetic entry pushed to unblock a waiter on an out-of-band condition
}

// Transmitter is how a Handle actually puts bytes on the wire: encode
// the packet as a bbee frame and write it to the media. Supplied by
// internal/service, which owns the framer and the media driver.
type Transmitter interface {
	TransmitPacket(pkt []byte) error
}

// Handle is an open channel: FIFOs, sequence counters, stats, and (for
// reliable channels) the atomic rx-state snapshot.
type Handle struct {
	cfg            Config
	maxPayloadSize int
	tx             Transmitter
	log            *log.Logger

	dataFIFO *fifo.Queue[dataEntry]
	ackFIFO  *fifo.Queue[sdtlpkt.AckHeader]

	state atomic.Pointer[State] // nil for unreliable channels

	txSeqNum         atomic.Uint32
	txCmdSeqNum      atomic.Uint32
	rxCmdLastSeqCode atomic.Uint32

	armedTimeout time.Duration
	armedMu      sync.Mutex

	txStat atomicTxStats
	rxStat atomicRxStats
}

// New creates a channel Handle. maxPayloadSize must already account
// for the service MTU minus the DATA header (see Service.CreateChannel).
func New(cfg Config, maxPayloadSize int, tx Transmitter, logger *log.Logger) *Handle {
	if logger == nil {
		logger = log.Default()
	}

	h := &Handle{
		cfg:            cfg,
		maxPayloadSize: maxPayloadSize,
		tx:             tx,
		log:            logger,
		dataFIFO:       fifo.New[dataEntry](cfg.fifoDepth()),
		ackFIFO:        fifo.New[sdtlpkt.AckHeader](cfg.fifoDepth()),
	}

	if cfg.Type == Reliable {
		h.setState(State{RxState: StateIdle})
	}

	return h
}

func (h *Handle) ID() uint8    { return h.cfg.ID }
func (h *Handle) Name() string { return h.cfg.Name }
func (h *Handle) reliable() bool {
	return h.cfg.Type == Reliable
}

// MaxPayloadSize returns the largest payload one DATA fragment can
// carry on this channel.
func (h *Handle) MaxPayloadSize() int { return h.maxPayloadSize }

// RxStats returns a snapshot of receive counters.
func (h *Handle) RxStats() RxStats { return h.rxStat.snapshot() }

// TxStats returns a snapshot of transmit counters.
func (h *Handle) TxStats() TxStats { return h.txStat.snapshot() }

// Close cancels both FIFOs, unblocking any SendData/RecvData callers.
func (h *Handle) Close() {
	h.dataFIFO.Cancel()
	h.ackFIFO.Cancel()
}

// generateSeqCode mirrors generate_seq_code: seqNum plus the wall
// clock's Unix time in nanoseconds shifted right by 10, truncated to 16
// bits, decremented off zero since zero is reserved to mean "no
// sequence yet seen".
func generateSeqCode(seqNum uint32) uint16 {
	code := uint16(seqNum) + uint16(time.Now().UnixNano()>>10)
	if code == 0 {
		code--
	}
	return code
}

// ackTimeout mirrors the ACK_WAIT_TIMEOUT_uS_PER_BYTE(b) macro:
// 80ms plus a per-byte component derived from the channel's baud rate.
func (h *Handle) ackTimeout(dsize int) time.Duration {
	us := int64(80000) + int64(dsize)*8*1000000/int64(h.cfg.baudRate()/10)
	return time.Duration(us) * time.Microsecond
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// SendData fragments payload into MaxPayloadSize()-sized DATA packets
// and transmits them as one sequence. On a reliable channel, each
// fragment is retried with an infinite timeout-retry loop until
// acknowledged, the remote reports no receiver/cancel, or the
// application issues an out-of-band reset/cancel. On an unreliable
// channel every fragment is fired once, with no acknowledgement.
func (h *Handle) SendData(payload []byte) error {
	flags := sdtlpkt.FlagFirstPkt
	rel := h.reliable()
	if rel {
		flags |= sdtlpkt.FlagReliable
		h.ackFIFO.Flush()
	}

	seqCode := generateSeqCode(h.txSeqNum.Load())

	h.txStat.incSequences()

	offset := 0
	remaining := len(payload)
	pktNum := uint8(0)

	for {
		dsize := minInt(h.maxPayloadSize, remaining)
		if dsize == remaining {
			flags |= sdtlpkt.FlagLastPkt
		}

		for {
			if rel {
				if err := h.returnCondition(); err != nil {
					return err
				}
			}

			if err := h.sendData(pktNum, flags, seqCode, payload[offset:offset+dsize]); err != nil {
				return err
			}

			if !rel {
				break
			}

			ack, err := h.ackFIFO.PopTimeout(h.ackTimeout(dsize))
			switch {
			case err == fifo.ErrTimeout:
				h.log.Printf("channel %d: ack timeout on pkt #%d, retrying", h.cfg.ID, pktNum)
				h.txStat.incRetries()
				continue
			case err == fifo.ErrCanceled:
				return ErrAppCancel
			case err != nil:
				return err
			}

			switch ack.Code {
			case sdtlpkt.AckOutBandEvent:
				if cerr := h.returnCondition(); cerr != nil {
					return cerr
				}
			case sdtlpkt.AckCanceled:
				return ErrRemoteRxCanceled
			case sdtlpkt.AckNoReceiver:
				return ErrRemoteRxNoClient
			case sdtlpkt.AckGotPkt:
				// acknowledged; fall through to next fragment
			}
			break
		}

		flags &^= sdtlpkt.FlagFirstPkt
		pktNum++
		offset += dsize
		remaining -= dsize

		h.txStat.incPackets()
		h.txStat.addBytes(uint64(dsize))

		if remaining <= 0 {
			break
		}
	}

	h.txSeqNum.Add(1)
	return nil
}

func (h *Handle) sendData(cnt uint8, flags byte, seqCode uint16, payload []byte) error {
	pkt := sdtlpkt.EncodeData(sdtlpkt.DataHeader{
		Base:    sdtlpkt.BaseHeader{ChID: h.cfg.ID},
		SeqCode: seqCode,
		Cnt:     cnt,
		Flags:   flags,
	}, payload)
	return h.tx.TransmitPacket(pkt)
}

func (h *Handle) sendAck(cnt uint8, code sdtlpkt.AckCode) error {
	pkt := sdtlpkt.EncodeAck(sdtlpkt.AckHeader{
		Base: sdtlpkt.BaseHeader{ChID: h.cfg.ID},
		Code: code,
		Cnt:  cnt,
	})
	return h.tx.TransmitPacket(pkt)
}

// SendCmd sends a CMD packet (reset/cancel) and blocks, with infinite
// timeout-retry, until the remote acknowledges it with ACK_GOT_CMD or
// an application out-of-band condition supersedes the wait. Reliable
// channels only.
func (h *Handle) SendCmd(code sdtlpkt.CmdCode) error {
	if !h.reliable() {
		return ErrInvalidChannelType
	}

	seqCode := generateSeqCode(h.txCmdSeqNum.Load())
	h.ackFIFO.Flush()

	for {
		pkt := sdtlpkt.EncodeCmd(sdtlpkt.CmdHeader{
			Base:    sdtlpkt.BaseHeader{ChID: h.cfg.ID},
			SeqCode: seqCode,
			Code:    code,
		})
		if err := h.tx.TransmitPacket(pkt); err != nil {
			return err
		}

		ack, err := h.ackFIFO.PopTimeout(h.ackTimeout(20))
		switch {
		case err == fifo.ErrTimeout:
			continue
		case err == fifo.ErrCanceled:
			h.txCmdSeqNum.Add(1)
			return ErrAppCancel
		case err != nil:
			h.txCmdSeqNum.Add(1)
			return err
		}

		if ack.Code == sdtlpkt.AckOutBandEvent {
			h.txCmdSeqNum.Add(1)
			return h.returnCondition()
		}
		if ack.Code == sdtlpkt.AckGotCmd {
			h.txCmdSeqNum.Add(1)
			return nil
		}
		// any other code: keep waiting for the real ack
	}
}

// ArmRecvTimeout arms a single-shot timeout consumed by the next
// RecvData call's first wait_data iteration only; RecvData clears it
// immediately after use, mirroring sdtl_channel_recv_arm_timeout /
// the armed_timeout_us field.
func (h *Handle) ArmRecvTimeout(d time.Duration) {
	h.armedMu.Lock()
	h.armedTimeout = d
	h.armedMu.Unlock()
}

func (h *Handle) takeArmedTimeout() time.Duration {
	h.armedMu.Lock()
	d := h.armedTimeout
	h.armedTimeout = 0
	h.armedMu.Unlock()
	return d
}

// RecvData reassembles one sequence into buf, returning the number of
// bytes written. It classifies each incoming fragment by prev_pkt_num
// delta exactly as channel_recv_data/wait_data do:
//
//   - first fragment of a fresh sequence -> accepted, ACKed if reliable
//   - delta == 0                          -> duplicate, re-ACKed, dropped
//   - delta == 1                          -> accepted in order
//   - delta > 1                           -> OK_MISSED_PKT_IN_SEQ
//
// On OK_MISSED_PKT_IN_SEQ, unreliable channels reset and wait for a
// fresh FIRST_PKT fragment; reliable channels keep waiting for the
// expected fragment to eventually arrive, exactly as the original
// does. This is a known limitation carried over unchanged: a reliable
// sequence that permanently drops one fragment blocks RecvData until an
// out-of-band condition arrives or Close cancels the FIFO. The armed
// timeout (ArmRecvTimeout) bounds only the first wait, not the waits
// for later fragments.
func (h *Handle) RecvData(buf []byte) (int, error) {
	rel := h.reliable()

	if rel {
		s := h.readState()
		h.setRx(StateWaitData, s.LastReceivedSeq)
		h.dataFIFO.Flush()
	}

	var (
		offset          int
		remaining       = len(buf)
		prevPktNum      = -1
		sequenceStarted = false
		lastSeq         uint16
	)

	firstWait := true

	for {
		if rel {
			if err := h.returnCondition(); err != nil {
				h.setRx(StateRcvCanceled, 0)
				return 0, err
			}
		}

		timeout := time.Duration(0)
		if firstWait {
			timeout = h.takeArmedTimeout()
			firstWait = false
		}

		var (
			entry dataEntry
			err   error
		)
		if timeout > 0 {
			entry, err = h.dataFIFO.PopTimeout(timeout)
		} else {
			entry, err = h.dataFIFO.Pop()
		}

		switch {
		case err == fifo.ErrTimeout:
			return 0, ErrTimedOut
		case err == fifo.ErrCanceled:
			if rel {
				h.setRx(StateRcvCanceled, 0)
			}
			return 0, ErrAppCancel
		case err == fifo.ErrOverflow:
			// The rx thread overwrote an entry we hadn't consumed yet.
			// Terminal, like wait_data's eswb_e_fifo_rcvr_underrun: skip
			// classification of whatever we did pop and give up on this
			// sequence, but keep the bytes already copied into buf.
			h.rxStat.incOverflow()
			if rel {
				h.setRx(StateRcvCanceled, 0)
			}
			return offset, ErrRxFifoOverflow
		case err != nil:
			return 0, err
		}

		if entry.oob {
			// synthetic wake-up (a CMD arrived); loop back to re-check
			// returnCondition above.
			continue
		}

		outcome, err := h.classify(entry, prevPktNum, remaining)
		if err != nil {
			return 0, err
		}

		switch outcome {
		case rxRepeated:
			if rel {
				h.sendAck(entry.cnt, sdtlpkt.AckGotPkt)
				h.rxStat.incAcks()
			}
			continue

		case rxOmit:
			continue

		case rxMissedPacket:
			h.log.Printf("channel %d: missed pkt in seq (got #%d, expected #%d)", h.cfg.ID, entry.cnt, prevPktNum+1)
			if !rel {
				offset = 0
				remaining = len(buf)
				prevPktNum = -1
				sequenceStarted = false
			}
			continue

		case rxFirstPacket:
			h.rxStat.incSequences()
			sequenceStarted = true
			prevPktNum = 0
			fallthrough

		case rxOK:
			if !sequenceStarted {
				continue
			}
			if rel {
				h.sendAck(entry.cnt, sdtlpkt.AckGotPkt)
				h.rxStat.incAcks()
			}

			n := copy(buf[offset:], entry.payload)
			offset += n
			remaining -= n

			h.rxStat.incPackets()
			h.rxStat.addBytes(uint64(n))

			if outcome == rxOK {
				prevPktNum++
			}
			lastSeq = entry.seqCode

			if entry.flags&sdtlpkt.FlagLastPkt != 0 {
				if rel {
					h.setRx(StateSeqDone, lastSeq)
				}
				return offset, nil
			}
		}
	}
}

// classify reproduces wait_data's dc = cnt - prev_pkt_num%256 table.
func (h *Handle) classify(e dataEntry, prevPktNum int, remaining int) (RxOutcome, error) {
	if prevPktNum != -1 {
		dc := int(e.cnt) - (prevPktNum % 256)
		if dc < 0 {
			dc += 256
		}
		switch {
		case dc > 1:
			return rxMissedPacket, nil
		case dc == 0:
			return rxRepeated, nil
		default:
			if remaining < e.payloadSize {
				return 0, ErrRxBufSmall
			}
			return rxOK, nil
		}
	}

	if e.flags&sdtlpkt.FlagFirstPkt != 0 {
		return rxFirstPacket, nil
	}
	return rxOmit, nil
}

// atomic counter wrappers ---------------------------------------------------

type atomicRxStats struct {
	sequences, packets, bytes, acks, overflows atomic.Uint64
}

func (s *atomicRxStats) incSequences() { s.sequences.Add(1) }
func (s *atomicRxStats) incPackets()   { s.packets.Add(1) }
func (s *atomicRxStats) incAcks()      { s.acks.Add(1) }
func (s *atomicRxStats) incOverflow()  { s.overflows.Add(1) }
func (s *atomicRxStats) addBytes(n uint64) { s.bytes.Add(n) }
func (s *atomicRxStats) snapshot() RxStats {
	return RxStats{
		Sequences: s.sequences.Load(),
		Packets:   s.packets.Load(),
		Bytes:     s.bytes.Load(),
		Acks:      s.acks.Load(),
		Overflows: s.overflows.Load(),
	}
}

type atomicTxStats struct {
	sequences, packets, bytes, retries atomic.Uint64
}

func (s *atomicTxStats) incSequences() { s.sequences.Add(1) }
func (s *atomicTxStats) incPackets()   { s.packets.Add(1) }
func (s *atomicTxStats) incRetries()   { s.retries.Add(1) }
func (s *atomicTxStats) addBytes(n uint64) { s.bytes.Add(n) }
func (s *atomicTxStats) snapshot() TxStats {
	return TxStats{
		Sequences: s.sequences.Load(),
		Packets:   s.packets.Load(),
		Bytes:     s.bytes.Load(),
		Retries:   s.retries.Load(),
	}
}
