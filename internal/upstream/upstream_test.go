package upstream

import (
	"testing"
	"time"

	"github.com/librescoot/sdtl/internal/channel"
	"github.com/librescoot/sdtl/internal/media"
	"github.com/librescoot/sdtl/internal/sdtlpkt"
	"github.com/librescoot/sdtl/internal/service"
)

func newConnectedDrivers(t *testing.T, svcName string) (*Driver, *Driver) {
	t.Helper()
	a, b := media.NewBridge()

	s1 := service.New(svcName+"-a", 128, media.BridgeDriver{Endpoint: a}, nil)
	s2 := service.New(svcName+"-b", 128, media.BridgeDriver{Endpoint: b}, nil)

	if _, err := s1.CreateChannel(channel.Config{ID: 1, Name: "data", Type: channel.Reliable}); err != nil {
		t.Fatalf("CreateChannel a: %v", err)
	}
	if _, err := s2.CreateChannel(channel.Config{ID: 1, Name: "data", Type: channel.Reliable}); err != nil {
		t.Fatalf("CreateChannel b: %v", err)
	}

	if err := s1.Start("bridge", nil); err != nil {
		t.Fatalf("s1.Start: %v", err)
	}
	if err := s2.Start("bridge", nil); err != nil {
		t.Fatalf("s2.Start: %v", err)
	}
	t.Cleanup(func() {
		s1.Stop()
		s2.Stop()
	})

	d1, err := Connect(svcName+"-a", "data")
	if err != nil {
		t.Fatalf("Connect a: %v", err)
	}
	d2, err := Connect(svcName+"-b", "data")
	if err != nil {
		t.Fatalf("Connect b: %v", err)
	}

	return d1, d2
}

func TestConnectUnknownService(t *testing.T) {
	if _, err := Connect("no-such-service", "data"); err == nil {
		t.Fatal("expected error connecting to an unregistered service")
	}
}

func TestSendRecvOk(t *testing.T) {
	d1, d2 := newConnectedDrivers(t, "up-1")

	done := make(chan struct{})
	buf := make([]byte, 64)
	var n int
	var result Result
	go func() {
		n, result = d2.Recv(buf, time.Second)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)

	payload := []byte("hello upstream")
	sent, sres := d1.Send(payload)
	if sres != Ok {
		t.Fatalf("Send result = %v, want Ok", sres)
	}
	if sent != len(payload) {
		t.Fatalf("sent = %d, want %d", sent, len(payload))
	}

	<-done
	if result != Ok {
		t.Fatalf("Recv result = %v, want Ok", result)
	}
	if string(buf[:n]) != string(payload) {
		t.Fatalf("got %q, want %q", buf[:n], payload)
	}
}

func TestRecvTimeout(t *testing.T) {
	_, d2 := newConnectedDrivers(t, "up-2")

	buf := make([]byte, 64)
	_, result := d2.Recv(buf, 50*time.Millisecond)
	if result != Timedout {
		t.Fatalf("Recv result = %v, want Timedout", result)
	}
}

func TestCommandResetLocalStateClearsCheckState(t *testing.T) {
	d1, _ := newConnectedDrivers(t, "up-3")

	d1.ch.HandleCmd(sdtlpkt.CmdHeader{Base: sdtlpkt.BaseHeader{ChID: 1}, SeqCode: 0x1234, Code: sdtlpkt.CmdReset})
	if r := d1.CheckState(); r != ResetCmd {
		t.Fatalf("CheckState() = %v, want ResetCmd before reset", r)
	}
	if r := d1.Command(CmdResetLocalState); r != Ok {
		t.Fatalf("Command(ResetLocalState) = %v, want Ok", r)
	}
	if r := d1.CheckState(); r != Ok {
		t.Fatalf("CheckState() = %v, want Ok after reset", r)
	}
}

func TestDisconnect(t *testing.T) {
	d1, _ := newConnectedDrivers(t, "up-4")
	if r := d1.Disconnect(); r != Ok {
		t.Fatalf("Disconnect() = %v, want Ok", r)
	}
}
