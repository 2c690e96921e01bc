package fixfeed

import (
	"fmt"
	"net"
	"testing"
	"time"
)

func startListener(t *testing.T) (*Listener, string) {
	t.Helper()
	l := NewListener("127.0.0.1:0")
	errs := make(chan error, 1)
	go func() { errs <- l.Run() }()
	t.Cleanup(func() {
		l.Close()
		select {
		case err := <-errs:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after Close")
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for l.Addr() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	addr := l.Addr()
	if addr == nil {
		t.Fatal("listener never bound")
	}
	return l, addr.String()
}

func TestListenerDecodesFixes(t *testing.T) {
	l, addr := startListener(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	ms := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC).UnixMilli()
	fmt.Fprintf(conn, `{"latitude":37.5665,"longitude":126.9780,"capturedAtEpochMs":%d}`+"\n", ms)

	select {
	case fix := <-l.Fixes():
		if fix.Latitude != 37.5665 || fix.Longitude != 126.9780 {
			t.Errorf("coordinates %+v", fix)
		}
		if fix.CapturedAt.UnixMilli() != ms {
			t.Errorf("captured at %v, want epoch ms %d", fix.CapturedAt, ms)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fix never delivered")
	}
}

func TestListenerDefaultsTimestamp(t *testing.T) {
	l, addr := startListener(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	before := time.Now()
	fmt.Fprintln(conn, `{"latitude":1,"longitude":2}`)

	select {
	case fix := <-l.Fixes():
		if fix.CapturedAt.Before(before) || fix.CapturedAt.After(time.Now()) {
			t.Errorf("captured at %v not stamped with receive time", fix.CapturedAt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fix never delivered")
	}
}

func TestListenerMultipleFixesOneConn(t *testing.T) {
	l, addr := startListener(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	for i := 1; i <= 3; i++ {
		fmt.Fprintf(conn, `{"latitude":%d,"longitude":0}`+"\n", i)
	}
	for i := 1; i <= 3; i++ {
		select {
		case fix := <-l.Fixes():
			if fix.Latitude != float64(i) {
				t.Errorf("fix %d: latitude %v", i, fix.Latitude)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("fix %d never delivered", i)
		}
	}
}

func TestListenerCountsDroppedFixes(t *testing.T) {
	l, addr := startListener(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Nobody reads Fixes here, so a burst larger than the feed buffer
	// must overflow into the dropped counter.
	for i := 0; i < 64; i++ {
		fmt.Fprintln(conn, `{"latitude":1,"longitude":2}`)
	}
	deadline := time.Now().Add(2 * time.Second)
	for l.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if l.Dropped() == 0 {
		t.Fatal("overflowing burst never counted as dropped")
	}
}

func TestListenerCloseIdempotent(t *testing.T) {
	l := NewListener("127.0.0.1:0")
	l.Close()
	l.Close()
	// Run after Close returns immediately without binding.
	if err := l.Run(); err != nil {
		t.Errorf("Run after Close: %v", err)
	}
}
