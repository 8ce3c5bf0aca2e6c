// Package media defines the SDTL media driver contract — the
// four-operation vtable (open/read/write/close) over an opaque byte
// pipe — and provides two implementations: Serial, a real UART link,
// and Bridge, an in-memory full-duplex pipe used by tests in place of
// physical hardware.
package media

// Driver is the media driver contract a Service is configured with.
// Open is called once by Service.Start; Read/Write/Close operate on
// the handle it returns.
type Driver interface {
	Open(path string, params any) (Handle, error)
}

// Handle is an open media connection.
type Handle interface {
	// Read blocks until at least one byte is available (or the link is
	// closed) and returns what's currently available, never zero bytes
	// on a nil error.
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Close() error
}
