package media

import (
	"errors"
	"io"
)

// ErrClosed is returned by a closed Bridge endpoint's Read/Write.
var ErrClosed = errors.New("media: bridge endpoint closed")

// NewBridge creates a connected pair of in-memory full-duplex
// endpoints: whatever is written to one end's Handle becomes readable
// from the other end's Handle, and vice versa. It is the Go-native
// analogue of the C test suite's SDTLtestBridge (a pair of named
// ThreadSafeQueue<SDTLtestPacket> streams with write_call/read_call
// chunking helpers) — here backed by io.Pipe instead of a hand-rolled
// queue, since that's the standard library's own full-duplex byte-pipe
// primitive.
func NewBridge() (a, b Handle) {
	br, bw := io.Pipe()
	ar, aw := io.Pipe()

	return &bridgeEnd{r: br, w: aw}, &bridgeEnd{r: ar, w: bw}
}

type bridgeEnd struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (e *bridgeEnd) Read(buf []byte) (int, error) {
	n, err := e.r.Read(buf)
	if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
		return n, ErrClosed
	}
	return n, err
}

func (e *bridgeEnd) Write(buf []byte) (int, error) {
	n, err := e.w.Write(buf)
	if errors.Is(err, io.ErrClosedPipe) {
		return n, ErrClosed
	}
	return n, err
}

func (e *bridgeEnd) Close() error {
	e.r.Close()
	e.w.Close()
	return nil
}

// BridgeDriver wraps a pre-built Bridge endpoint as a Driver, for
// tests that want to go through Service.Start's Driver.Open call
// instead of constructing a media.Handle directly.
type BridgeDriver struct {
	Endpoint Handle
}

func (d BridgeDriver) Open(path string, params any) (Handle, error) {
	return d.Endpoint, nil
}
