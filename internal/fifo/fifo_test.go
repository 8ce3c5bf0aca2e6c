package fifo

import (
	"testing"
	"time"
)

func TestPushPopOrder(t *testing.T) {
	q := New[int](4)
	for i := 0; i < 4; i++ {
		if err := q.Push(i); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	for i := 0; i < 4; i++ {
		v, err := q.Pop()
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if v != i {
			t.Errorf("Pop() = %d, want %d", v, i)
		}
	}
}

func TestPopTimeout(t *testing.T) {
	q := New[int](1)
	_, err := q.PopTimeout(20 * time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New[string](1)
	done := make(chan string, 1)
	go func() {
		v, err := q.Pop()
		if err != nil {
			t.Errorf("Pop: %v", err)
		}
		done <- v
	}()

	time.Sleep(10 * time.Millisecond)
	if err := q.Push("hello"); err != nil {
		t.Fatalf("Push: %v", err)
	}

	select {
	case v := <-done:
		if v != "hello" {
			t.Errorf("got %q, want hello", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop never returned")
	}
}

func TestCancelUnblocksWaiters(t *testing.T) {
	q := New[int](1)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Pop()
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Cancel()

	select {
	case err := <-errCh:
		if err != ErrCanceled {
			t.Errorf("err = %v, want ErrCanceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop never unblocked after Cancel")
	}
}

func TestCancelDrainsQueuedEntriesFirst(t *testing.T) {
	q := New[int](2)
	q.Push(1)
	q.Push(2)
	q.Cancel()

	v, err := q.Pop()
	if err != nil || v != 1 {
		t.Fatalf("Pop() = (%d, %v), want (1, nil)", v, err)
	}
	v, err = q.Pop()
	if err != nil || v != 2 {
		t.Fatalf("Pop() = (%d, %v), want (2, nil)", v, err)
	}
	if _, err := q.Pop(); err != ErrCanceled {
		t.Fatalf("err = %v, want ErrCanceled once drained", err)
	}
}

func TestCancelIdempotent(t *testing.T) {
	q := New[int](1)
	q.Cancel()
	q.Cancel() // must not panic (closing a closed channel)
}

func TestPushAfterCancel(t *testing.T) {
	q := New[int](1)
	q.Cancel()
	if err := q.Push(1); err != ErrCanceled {
		t.Fatalf("err = %v, want ErrCanceled", err)
	}
}

func TestPushNeverBlocksOnFull(t *testing.T) {
	q := New[int](4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			if err := q.Push(i); err != nil {
				t.Errorf("Push(%d): %v", i, err)
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push blocked on a full queue instead of overwriting")
	}
}

func TestOverflowReportedOnNextPop(t *testing.T) {
	q := New[int](2)
	// Fill the queue, then push past capacity before any Pop: 0, 1 and
	// 2 (the oldest) get overwritten.
	for i := 0; i < 5; i++ {
		if err := q.Push(i); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}

	v, err := q.Pop()
	if err != ErrOverflow {
		t.Fatalf("Pop() err = %v, want ErrOverflow", err)
	}
	if v != 3 {
		t.Fatalf("Pop() = %d, want 3 (oldest surviving entry)", v)
	}

	// The overflow flag is cleared after being reported once.
	v, err = q.Pop()
	if err != nil {
		t.Fatalf("Pop() err = %v, want nil", err)
	}
	if v != 4 {
		t.Fatalf("Pop() = %d, want 4", v)
	}
}

func TestFlush(t *testing.T) {
	q := New[int](4)
	q.Push(1)
	q.Push(2)
	q.Flush()
	if _, err := q.PopTimeout(10 * time.Millisecond); err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout after Flush", err)
	}
}
