package fixfeed

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"

	"nuha.dev/guardian/internal/gps"
)

// Listener accepts local connections from platform location providers that
// push line-delimited JSON fixes, and funnels them into a single channel for
// the reporter. Providers push; the agent never polls.
type Listener struct {
	logger log.Logger
	addr   string
	out    chan gps.Fix

	mu     sync.Mutex
	ln     net.Listener
	closed bool

	cid     uint64
	dropped uint64
}

// wireFix is the provider wire format. capturedAtEpochMs of zero means "now".
type wireFix struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	CapturedAtMs int64   `json:"capturedAtEpochMs"`
}

func NewListener(addr string) *Listener {
	l := &Listener{addr: addr, out: make(chan gps.Fix, 16)}
	l.logger = log.DefaultLogger
	l.logger.Context = log.NewContext(nil).Str("module", "fixfeed").Value()
	return l
}

// Fixes is the stream of decoded samples.
func (l *Listener) Fixes() <-chan gps.Fix {
	return l.out
}

// Run accepts provider connections until Close is called.
func (l *Listener) Run() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		ln.Close()
		return nil
	}
	l.ln = ln
	l.mu.Unlock()
	l.logger.Info().Str("addr", l.addr).Msg("listening for location providers")

	for {
		conn, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		cid := atomic.AddUint64(&l.cid, 1)
		go l.handle(newConn(conn, cid))
	}
}

// Dropped counts fixes discarded because the reporter was not keeping up.
func (l *Listener) Dropped() uint64 {
	return atomic.LoadUint64(&l.dropped)
}

// Addr returns the bound address, or nil before Run starts listening. Useful
// when the configured address was port zero.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Close stops accepting and unblocks Run. Idempotent.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	if l.ln != nil {
		l.ln.Close()
	}
}

func (l *Listener) handle(c *Conn) {
	l.logger.Info().Object("conn", c).Msg("location provider connected")
	defer c.Close()

	dec := json.NewDecoder(c)
	for {
		var wf wireFix
		if err := dec.Decode(&wf); err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.logger.Info().Err(err).Object("conn", c).Msg("location provider disconnected")
			}
			return
		}
		fix := gps.Fix{Latitude: wf.Latitude, Longitude: wf.Longitude}
		if wf.CapturedAtMs > 0 {
			fix.CapturedAt = time.UnixMilli(wf.CapturedAtMs)
		} else {
			fix.CapturedAt = time.Now()
		}
		select {
		case l.out <- fix:
		default:
			// Reporter is behind; a stale fix is worthless anyway.
			atomic.AddUint64(&l.dropped, 1)
			l.logger.Debug().Object("conn", c).Msg("dropping fix, feed full")
		}
	}
}
