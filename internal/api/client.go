package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nuha.dev/guardian/internal/token"
)

const requestTimeout = 10 * time.Second

type ClientConfig struct {
	BaseURL string
}

// Client is the single outbound HTTP client of the agent. It attaches the
// current access token to every request and transparently recovers from
// access-token expiry: the first 401 triggers one shared refresh round-trip
// and exactly one replay of the original request.
type Client struct {
	base   string
	hc     *http.Client
	store  token.Store
	logger zerolog.Logger
	*validator.Validate

	refreshMu sync.Mutex
	refresh   *refreshCall
}

// refreshCall is the shared pending result of an in-flight token refresh.
// Callers that hit a 401 while one is running wait on done instead of
// starting a second round-trip.
type refreshCall struct {
	done   chan struct{}
	access string
	err    error
}

func NewClient(store token.Store, config *ClientConfig) *Client {
	c := &Client{}
	c.base = strings.TrimRight(config.BaseURL, "/")
	c.hc = &http.Client{Timeout: requestTimeout}
	c.store = store
	c.logger = log.With().Str("module", "api").Logger()
	c.Validate = validator.New()
	return c
}

// do issues one JSON request. body may be nil; out may be nil. Authorization
// is attached from the store unless auth is false (login/refresh endpoints).
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, auth bool) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	resp, err := c.send(ctx, method, path, payload, "", auth)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized && auth {
		resp.Body.Close()
		access, rerr := c.refreshAccessToken(ctx)
		if rerr != nil {
			return rerr
		}
		// Replay the original request exactly once with the new token. A
		// second 401 falls through to the generic status check below and
		// propagates; there is no second refresh for the same request.
		resp, err = c.send(ctx, method, path, payload, access, auth)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Kind: KindUnknown, Status: resp.StatusCode, Message: "malformed response: " + err.Error()}
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, access string, auth bool) (*http.Response, error) {
	var body *bytes.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		if access == "" {
			access = c.store.AccessToken()
		}
		if access != "" {
			req.Header.Set("Authorization", "Bearer "+access)
		}
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, netError(err)
	}
	return resp, nil
}

// refreshAccessToken performs the single-flight refresh. At most one refresh
// round-trip is in flight at any time; concurrent callers share its outcome.
func (c *Client) refreshAccessToken(ctx context.Context) (string, error) {
	c.refreshMu.Lock()
	if call := c.refresh; call != nil {
		c.refreshMu.Unlock()
		select {
		case <-call.done:
			return call.access, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	c.refresh = call
	c.refreshMu.Unlock()

	call.access, call.err = c.doRefresh(ctx)

	c.refreshMu.Lock()
	c.refresh = nil
	c.refreshMu.Unlock()
	close(call.done)

	return call.access, call.err
}

func (c *Client) doRefresh(ctx context.Context) (string, error) {
	refresh := c.store.RefreshToken()
	if refresh == "" {
		_ = c.store.ClearSession()
		return "", &Error{Kind: KindUnauthorized, Message: "no refresh token"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/auth/refresh", nil)
	if err != nil {
		return "", err
	}
	// The refresh token travels in a cookie, not a bearer header.
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refresh})
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", netError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := statusError(resp)
		c.logger.Warn().Int("status", apiErr.Status).Msg("token refresh failed, clearing session")
		_ = c.store.ClearSession()
		return "", apiErr
	}

	var pair TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return "", &Error{Kind: KindUnknown, Message: "malformed refresh response: " + err.Error()}
	}
	if err := c.Struct(&pair); err != nil {
		return "", &Error{Kind: KindUnknown, Message: "incomplete refresh response: " + err.Error()}
	}
	if err := c.store.SetSession(pair.AccessToken, pair.RefreshToken); err != nil {
		return "", err
	}
	c.logger.Debug().Msg("access token refreshed")
	return pair.AccessToken, nil
}

// BaseURL returns the configured server base, without a trailing slash.
func (c *Client) BaseURL() string {
	return c.base
}
