package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"nuha.dev/guardian/internal/api"
	"nuha.dev/guardian/internal/token"
)

func newStreamClient(t *testing.T, base string, config *Config) (*Client, token.Store) {
	t.Helper()
	store := token.NewMemStore()
	if err := store.SetSession("stream-token", "refresh"); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	apic := api.NewClient(store, &api.ClientConfig{BaseURL: base})
	return NewClient(apic, store, config), store
}

func writeEvent(t *testing.T, w http.ResponseWriter, ev Event) {
	t.Helper()
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	fmt.Fprintf(w, "data: %s\n\n", raw)
	w.(http.Flusher).Flush()
}

// waitFor polls cond for up to two seconds.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConnectNoToken(t *testing.T) {
	store := token.NewMemStore()
	apic := api.NewClient(store, &api.ClientConfig{BaseURL: "http://localhost:0"})
	c := NewClient(apic, store, nil)

	errs := make(chan error, 1)
	c.Connect(&Options{OnError: func(err error) { errs <- err }})

	select {
	case err := <-errs:
		if !api.IsUnauthorized(err) {
			t.Errorf("expected unauthorized, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("OnError not called")
	}
	if c.Connected() {
		t.Error("client should not be connected without a token")
	}
}

func TestStreamDelivers(t *testing.T) {
	members := []api.MemberLocation{
		{UserID: 101, Name: "Minji", BatteryLevel: 80},
		{UserID: 102, Name: "Jiho", BatteryLevel: 55},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/members/locations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]api.MemberLocation{})
	})
	mux.HandleFunc("/members/locations/stream", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "stream-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(t, w, Event{Type: EventInitial, Timestamp: time.Now(), Payload: members})
		writeEvent(t, w, Event{Type: EventHeartbeat, Timestamp: time.Now()})
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := newStreamClient(t, srv.URL, nil)
	updates := make(chan []api.MemberLocation, 4)
	beats := make(chan time.Time, 4)
	c.Connect(&Options{
		OnUpdate:    func(list []api.MemberLocation) { updates <- list },
		OnHeartbeat: func(ts time.Time) { beats <- ts },
		OnError:     func(err error) { t.Errorf("unexpected stream error: %v", err) },
	})
	defer c.Disconnect()

	// The connect-time fallback fetch may deliver an empty snapshot first.
	deadline := time.After(2 * time.Second)
snapshot:
	for {
		select {
		case list := <-updates:
			if len(list) == 2 {
				if list[0].UserID != 101 || list[1].UserID != 102 {
					t.Fatalf("unexpected snapshot: %+v", list)
				}
				break snapshot
			}
		case <-deadline:
			t.Fatal("INITIAL snapshot never delivered")
		}
	}
	select {
	case <-beats:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat never delivered")
	}
	if st := c.Status(); !st.Connected || st.Events == 0 {
		t.Errorf("status %+v", st)
	}
}

func TestAuthTerminal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/members/locations/stream", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := newStreamClient(t, srv.URL, &Config{ReconnectDelay: 10 * time.Millisecond})
	errs := make(chan error, 1)
	c.Connect(&Options{OnError: func(err error) { errs <- err }})

	select {
	case err := <-errs:
		if !api.IsUnauthorized(err) {
			t.Errorf("expected unauthorized, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnError not called")
	}
	// A rejected token is terminal: no retry even after the delay passes.
	time.Sleep(50 * time.Millisecond)
	if c.Connected() {
		t.Error("client reconnected after auth failure")
	}
	if st := c.Status(); st.Reconnects != 0 {
		t.Errorf("expected 0 reconnects, got %d", st.Reconnects)
	}
}

func TestReconnectTransient(t *testing.T) {
	var attempts int64
	mux := http.NewServeMux()
	mux.HandleFunc("/members/locations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]api.MemberLocation{})
	})
	mux.HandleFunc("/members/locations/stream", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(t, w, Event{Type: EventInitial, Timestamp: time.Now(), Payload: []api.MemberLocation{{UserID: 101, Name: "Minji"}}})
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := newStreamClient(t, srv.URL, &Config{ReconnectDelay: 10 * time.Millisecond})
	updates := make(chan []api.MemberLocation, 4)
	c.Connect(&Options{
		OnUpdate: func(list []api.MemberLocation) { updates <- list },
		OnError:  func(err error) {},
	})
	defer c.Disconnect()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case list := <-updates:
			if len(list) == 1 && list[0].UserID == 101 {
				if st := c.Status(); st.Reconnects == 0 {
					t.Error("reconnect not counted")
				}
				return
			}
		case <-deadline:
			t.Fatal("stream never recovered after transient failure")
		}
	}
}

func TestMalformedEventKeepsConnection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/members/locations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]api.MemberLocation{})
	})
	mux.HandleFunc("/members/locations/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {not json\n\n")
		w.(http.Flusher).Flush()
		writeEvent(t, w, Event{Type: EventUpdate, Timestamp: time.Now(), Payload: []api.MemberLocation{{UserID: 101, Name: "Minji"}}})
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := newStreamClient(t, srv.URL, nil)
	updates := make(chan []api.MemberLocation, 4)
	errs := make(chan error, 4)
	c.Connect(&Options{
		OnUpdate: func(list []api.MemberLocation) { updates <- list },
		OnError:  func(err error) { errs <- err },
	})
	defer c.Disconnect()

	select {
	case err := <-errs:
		var ae *api.Error
		if !errors.As(err, &ae) || ae.Kind != api.KindUnknown {
			t.Errorf("expected unknown kind for malformed event, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("malformed event not surfaced")
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case list := <-updates:
			if len(list) == 1 {
				return
			}
		case <-deadline:
			t.Fatal("valid event after malformed one never delivered")
		}
	}
}

func TestSingletonConnection(t *testing.T) {
	var active int64
	mux := http.NewServeMux()
	mux.HandleFunc("/members/locations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]api.MemberLocation{})
	})
	mux.HandleFunc("/members/locations/stream", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&active, 1)
		defer atomic.AddInt64(&active, -1)
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(t, w, Event{Type: EventInitial, Timestamp: time.Now()})
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := newStreamClient(t, srv.URL, nil)
	opts := &Options{OnError: func(err error) {}}
	c.Connect(opts)
	waitFor(t, func() bool { return atomic.LoadInt64(&active) == 1 }, "first stream never opened")

	// A second Connect replaces the first connection instead of stacking one.
	c.Connect(opts)
	waitFor(t, func() bool { return atomic.LoadInt64(&active) == 1 }, "old stream not torn down")
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt64(&active); n != 1 {
		t.Fatalf("expected exactly 1 active stream, got %d", n)
	}

	c.Disconnect()
	waitFor(t, func() bool { return atomic.LoadInt64(&active) == 0 }, "stream not closed on disconnect")
	if c.Connected() {
		t.Error("still connected after Disconnect")
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	c, _ := newStreamClient(t, "http://localhost:0", nil)
	c.Disconnect()
	c.Disconnect()
	if c.Connected() {
		t.Error("connected without Connect")
	}
}
