package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nuha.dev/guardian/internal/api"
	"nuha.dev/guardian/internal/token"
)

const (
	EventInitial   = "INITIAL"
	EventUpdate    = "UPDATE"
	EventHeartbeat = "HEARTBEAT"

	defaultReconnectDelay = 5 * time.Second
)

// Event is one message off the member-location stream. INITIAL and UPDATE
// carry a full snapshot in Payload; HEARTBEAT carries nothing.
type Event struct {
	Type      string               `json:"type"`
	Timestamp time.Time            `json:"timestamp"`
	Payload   []api.MemberLocation `json:"payload"`
}

// Options carries the consumer callbacks for one connection. OnUpdate always
// receives a full replacement snapshot, never a diff: the connect-time
// fallback fetch and the server's own INITIAL event race, so it may fire
// twice in quick succession after connecting.
type Options struct {
	OnUpdate    func([]api.MemberLocation)
	OnHeartbeat func(time.Time)
	OnError     func(error)
}

type Config struct {
	// ReconnectDelay overrides the flat 5 second retry delay. Zero keeps
	// the default.
	ReconnectDelay time.Duration
}

// Client maintains the single live member-location stream of the agent.
// Transient failures reconnect after a flat delay with the same options;
// a 401 on the stream is terminal and surfaced through OnError.
type Client struct {
	api    *api.Client
	store  token.Store
	hc     *http.Client
	logger zerolog.Logger
	delay  time.Duration

	mu    sync.Mutex
	conn  *connection
	timer *time.Timer

	events     uint64
	reconnects uint64
}

// connection is the state of one physical stream attempt. The client holds
// at most one; a new Connect closes the previous one first.
type connection struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewClient(apic *api.Client, store token.Store, config *Config) *Client {
	c := &Client{}
	c.api = apic
	c.store = store
	// No client timeout here: the stream is expected to stay open.
	c.hc = &http.Client{}
	c.logger = log.With().Str("module", "stream").Logger()
	c.delay = defaultReconnectDelay
	if config != nil && config.ReconnectDelay > 0 {
		c.delay = config.ReconnectDelay
	}
	return c
}

// Connect opens the stream. Errors are reported through opts.OnError, never
// returned: connecting without an access token fails immediately that way.
func (c *Client) Connect(opts *Options) {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.conn != nil {
		c.conn.cancel()
		c.conn = nil
	}
	access := c.store.AccessToken()
	if access == "" {
		c.mu.Unlock()
		c.fail(opts, &api.Error{Kind: api.KindUnauthorized, Message: "no access token"})
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	conn := &connection{cancel: cancel, done: make(chan struct{})}
	c.conn = conn
	c.mu.Unlock()
	go c.run(ctx, conn, opts, access)
}

// Disconnect closes the connection and stops any pending reconnect. Safe to
// call when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.cancel()
		<-conn.done
	}
}

// Connected reports whether a stream attempt is live or in flight.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

type Status struct {
	Connected  bool   `json:"connected"`
	Events     uint64 `json:"events"`
	Reconnects uint64 `json:"reconnects"`
}

func (c *Client) Status() Status {
	return Status{
		Connected:  c.Connected(),
		Events:     atomic.LoadUint64(&c.events),
		Reconnects: atomic.LoadUint64(&c.reconnects),
	}
}

func (c *Client) run(ctx context.Context, conn *connection, opts *Options, access string) {
	defer close(conn.done)

	u := c.api.BaseURL() + "/members/locations/stream?token=" + url.QueryEscape(access)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		c.drop(conn)
		c.fail(opts, err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.fail(opts, &api.Error{Kind: api.KindNetwork, Message: err.Error()})
		c.scheduleReconnect(conn, opts)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// Session invalid, not a network hiccup: no reconnect.
		c.drop(conn)
		c.logger.Warn().Msg("stream rejected the token, giving up")
		c.fail(opts, &api.Error{Kind: api.KindUnauthorized, Status: resp.StatusCode, Message: "stream authentication failed"})
		return
	}
	if resp.StatusCode != http.StatusOK {
		c.fail(opts, &api.Error{Kind: api.KindUnknown, Status: resp.StatusCode, Message: "unexpected stream status"})
		c.scheduleReconnect(conn, opts)
		return
	}

	c.logger.Info().Msg("stream open")
	// The server may not push INITIAL promptly, so fetch one snapshot over
	// plain HTTP in parallel. Failures here are swallowed; the stream stays
	// the primary source.
	go c.fallbackFetch(ctx, opts)

	sc := newScanner(resp.Body)
	for {
		data, err := sc.next()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.fail(opts, &api.Error{Kind: api.KindNetwork, Message: err.Error()})
			c.scheduleReconnect(conn, opts)
			return
		}
		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			// Malformed payload: surface it, keep the connection.
			c.fail(opts, &api.Error{Kind: api.KindUnknown, Message: "malformed stream event: " + err.Error()})
			continue
		}
		switch ev.Type {
		case EventInitial, EventUpdate:
			atomic.AddUint64(&c.events, 1)
			if opts.OnUpdate != nil {
				opts.OnUpdate(Sanitize(ev.Payload))
			}
		case EventHeartbeat:
			if opts.OnHeartbeat != nil {
				opts.OnHeartbeat(ev.Timestamp)
			}
		default:
			c.logger.Debug().Str("type", ev.Type).Msg("ignoring unknown stream event")
		}
	}
}

func (c *Client) fallbackFetch(ctx context.Context, opts *Options) {
	list, err := c.api.MemberLocations(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("fallback location fetch failed")
		return
	}
	if opts.OnUpdate != nil {
		opts.OnUpdate(Sanitize(list))
	}
}

// scheduleReconnect arms one retry with the same options. Flat delay, no
// attempt cap. Skipped when the connection was replaced or torn down in the
// meantime.
func (c *Client) scheduleReconnect(conn *connection, opts *Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn = nil
	atomic.AddUint64(&c.reconnects, 1)
	c.logger.Warn().Dur("delay", c.delay).Msg("stream lost, reconnecting")
	c.timer = time.AfterFunc(c.delay, func() { c.Connect(opts) })
}

// drop detaches conn without scheduling anything.
func (c *Client) drop(conn *connection) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *Client) fail(opts *Options, err error) {
	if opts != nil && opts.OnError != nil {
		opts.OnError(err)
		return
	}
	c.logger.Err(err).Msg("stream error")
}
