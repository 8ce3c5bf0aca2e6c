package channel

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/librescoot/sdtl/internal/sdtlpkt"
)

// pairedTransmitter wires a sender Handle's TransmitPacket calls
// straight into a receiver Handle's dispatch methods, standing in for
// the service RX loop + media link in these unit tests.
type pairedTransmitter struct {
	mu   sync.Mutex
	peer *Handle
	drop bool
}

func (p *pairedTransmitter) TransmitPacket(pkt []byte) error {
	p.mu.Lock()
	drop := p.drop
	p.mu.Unlock()
	if drop {
		return nil
	}

	typ, _, err := sdtlpkt.PeekType(pkt)
	if err != nil {
		return err
	}

	switch typ {
	case sdtlpkt.PktData:
		h, payload, err := sdtlpkt.DecodeData(pkt)
		if err != nil {
			return err
		}
		return p.peer.HandleData(h, payload)
	case sdtlpkt.PktAck:
		h, err := sdtlpkt.DecodeAck(pkt)
		if err != nil {
			return err
		}
		return p.peer.HandleAck(h)
	case sdtlpkt.PktCmd:
		h, err := sdtlpkt.DecodeCmd(pkt)
		if err != nil {
			return err
		}
		return p.peer.HandleCmd(h)
	}
	return nil
}

func newPair(t *testing.T, typ Type, maxPayload int) (tx *Handle, rx *Handle) {
	t.Helper()
	txToRx := &pairedTransmitter{}
	rxToTx := &pairedTransmitter{}

	tx = New(Config{ID: 1, Name: "c", Type: typ}, maxPayload, txToRx, nil)
	rx = New(Config{ID: 1, Name: "c", Type: typ}, maxPayload, rxToTx, nil)

	txToRx.peer = rx
	rxToTx.peer = tx
	return tx, rx
}

func TestReliableSendRecvSingleFragment(t *testing.T) {
	tx, rx := newPair(t, Reliable, 64)

	done := make(chan struct{})
	var n int
	var rerr error
	buf := make([]byte, 64)
	go func() {
		n, rerr = rx.RecvData(buf)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)

	payload := []byte("hello world")
	if err := tx.SendData(payload); err != nil {
		t.Fatalf("SendData: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecvData never returned")
	}

	if rerr != nil {
		t.Fatalf("RecvData: %v", rerr)
	}
	if string(buf[:n]) != string(payload) {
		t.Fatalf("got %q, want %q", buf[:n], payload)
	}
}

func TestReliableSendRecvMultiFragment(t *testing.T) {
	tx, rx := newPair(t, Reliable, 8)

	done := make(chan struct{})
	var n int
	var rerr error
	buf := make([]byte, 256)
	go func() {
		n, rerr = rx.RecvData(buf)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)

	payload := make([]byte, 37)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := tx.SendData(payload); err != nil {
		t.Fatalf("SendData: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecvData never returned")
	}

	if rerr != nil {
		t.Fatalf("RecvData: %v", rerr)
	}
	if n != len(payload) {
		t.Fatalf("n = %d, want %d", n, len(payload))
	}
	for i := range payload {
		if buf[i] != payload[i] {
			t.Fatalf("byte %d = %d, want %d", i, buf[i], payload[i])
		}
	}
}

func TestUnreliableSendRecv(t *testing.T) {
	tx, rx := newPair(t, Unreliable, 16)

	done := make(chan struct{})
	var n int
	buf := make([]byte, 64)
	go func() {
		n, _ = rx.RecvData(buf)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	payload := []byte("unreliable data")
	if err := tx.SendData(payload); err != nil {
		t.Fatalf("SendData: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecvData never returned")
	}

	if string(buf[:n]) != string(payload) {
		t.Fatalf("got %q, want %q", buf[:n], payload)
	}
}

// TestRxFifoOverflowIsPerChannel drives a burst of single-fragment
// sequences past the FIFO depth on one channel, with its consumer not
// yet popping, while a second, independent channel keeps delivering
// normally. Spec's concurrency model requires different channels stay
// independent even when one backs up.
func TestRxFifoOverflowIsPerChannel(t *testing.T) {
	busy := New(Config{ID: 1, Name: "busy", Type: Unreliable, FIFODepth: 2}, 16, &pairedTransmitter{}, nil)
	other := New(Config{ID: 2, Name: "other", Type: Unreliable, FIFODepth: 2}, 16, &pairedTransmitter{}, nil)

	seq := func(ch *Handle, n uint16, payload byte) {
		hdr := sdtlpkt.DataHeader{
			Base:    sdtlpkt.BaseHeader{ChID: ch.cfg.ID},
			SeqCode: n,
			Cnt:     0,
			Flags:   sdtlpkt.FlagFirstPkt | sdtlpkt.FlagLastPkt,
		}
		if err := ch.HandleData(hdr, []byte{payload}); err != nil {
			t.Fatalf("HandleData: %v", err)
		}
	}

	// Push 5 sequences into a depth-2 FIFO before anything pops: the
	// first 3 get overwritten.
	for i := uint16(0); i < 5; i++ {
		seq(busy, i, byte('a'+i))
	}

	// The other channel is untouched by busy's backlog.
	seq(other, 100, 'z')
	buf := make([]byte, 4)
	n, err := other.RecvData(buf)
	if err != nil {
		t.Fatalf("other.RecvData: %v", err)
	}
	if string(buf[:n]) != "z" {
		t.Fatalf("other.RecvData = %q, want %q", buf[:n], "z")
	}

	buf = make([]byte, 4)
	n, err = busy.RecvData(buf)
	if !errors.Is(err, ErrRxFifoOverflow) {
		t.Fatalf("busy.RecvData err = %v, want ErrRxFifoOverflow", err)
	}
	if n != 0 {
		t.Fatalf("busy.RecvData n = %d, want 0 (overrun hit before any byte copied)", n)
	}
	if got := busy.RxStats().Overflows; got != 1 {
		t.Fatalf("Overflows = %d, want 1", got)
	}
}

func TestReliableCmdRoundTrip(t *testing.T) {
	tx, rx := newPair(t, Reliable, 64)

	if err := tx.SendCmd(sdtlpkt.CmdReset); err != nil {
		t.Fatalf("SendCmd: %v", err)
	}

	if err := rx.CheckResetCondition(); !errors.Is(err, ErrAppReset) {
		t.Fatalf("rx condition = %v, want ErrAppReset", err)
	}
}

func TestCmdDuplicateSuppressed(t *testing.T) {
	tx, rx := newPair(t, Reliable, 64)

	if err := tx.SendCmd(sdtlpkt.CmdReset); err != nil {
		t.Fatalf("first SendCmd: %v", err)
	}
	rx.ResetCondition()

	// Replaying the exact same CMD packet (same seq code) must not
	// re-set the condition flag a second time.
	hdr := sdtlpkt.CmdHeader{Base: sdtlpkt.BaseHeader{ChID: 1}, SeqCode: uint16(rx.rxCmdLastSeqCode.Load()), Code: sdtlpkt.CmdReset}
	rx.HandleCmd(hdr)
	rx.HandleCmd(hdr)

	// condition was cleared and the duplicate must not resurrect it
	if err := rx.CheckResetCondition(); err != nil {
		t.Fatalf("condition after duplicate suppression = %v, want nil", err)
	}
}

func TestAckTimeoutFormula(t *testing.T) {
	h := New(Config{ID: 1, Type: Reliable}, 64, &pairedTransmitter{}, nil)
	got := h.ackTimeout(0)
	want := 80 * time.Millisecond
	if got != want {
		t.Fatalf("ackTimeout(0) = %v, want %v", got, want)
	}

	got = h.ackTimeout(576)
	// 80ms + 576*8*1e6/5760 us = 80ms + 800000us = 880ms
	want = 880 * time.Millisecond
	if got != want {
		t.Fatalf("ackTimeout(576) = %v, want %v", got, want)
	}
}

func TestSendDataNoReceiverReturnsRemoteRxNoClient(t *testing.T) {
	tx, rx := newPair(t, Reliable, 64)
	_ = rx // rx never calls RecvData, so it stays in StateIdle

	err := tx.SendData([]byte("x"))
	if !errors.Is(err, ErrRemoteRxNoClient) {
		t.Fatalf("err = %v, want ErrRemoteRxNoClient", err)
	}
}
