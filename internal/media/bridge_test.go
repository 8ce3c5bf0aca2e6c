package media

import (
	"testing"
	"time"
)

func TestBridgeRoundTrip(t *testing.T) {
	a, b := NewBridge()
	defer a.Close()
	defer b.Close()

	done := make(chan struct{})
	var n int
	var err error
	buf := make([]byte, 16)
	go func() {
		n, err = b.Read(buf)
		close(done)
	}()

	if _, werr := a.Write([]byte("hello")); werr != nil {
		t.Fatalf("Write: %v", werr)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Read never returned")
	}

	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q, want hello", buf[:n])
	}
}

func TestBridgeIsFullDuplex(t *testing.T) {
	a, b := NewBridge()
	defer a.Close()
	defer b.Close()

	go a.Write([]byte("a->b"))
	go b.Write([]byte("b->a"))

	bufA := make([]byte, 16)
	bufB := make([]byte, 16)

	n, err := b.Read(bufB)
	if err != nil {
		t.Fatalf("b.Read: %v", err)
	}
	if string(bufB[:n]) != "a->b" {
		t.Fatalf("b got %q, want a->b", bufB[:n])
	}

	n, err = a.Read(bufA)
	if err != nil {
		t.Fatalf("a.Read: %v", err)
	}
	if string(bufA[:n]) != "b->a" {
		t.Fatalf("a got %q, want b->a", bufA[:n])
	}
}

func TestBridgeCloseUnblocksRead(t *testing.T) {
	a, b := NewBridge()
	defer b.Close()

	done := make(chan error, 1)
	go func() {
		_, err := a.Read(make([]byte, 4))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	a.Close()

	select {
	case err := <-done:
		if err != ErrClosed {
			t.Fatalf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read never unblocked after Close")
	}
}
