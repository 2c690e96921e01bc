package api

import (
	"context"
	"net/http"
)

// Login exchanges credentials for a session and stores the pair.
func (c *Client) Login(ctx context.Context, email, password string) error {
	req := LoginRequest{Email: email, Password: password}
	if err := c.Struct(&req); err != nil {
		return err
	}
	var pair TokenPair
	if err := c.do(ctx, http.MethodPost, "/auth/login", &req, &pair, false); err != nil {
		return err
	}
	if err := c.Struct(&pair); err != nil {
		return &Error{Kind: KindUnknown, Message: "incomplete login response: " + err.Error()}
	}
	return c.store.SetSession(pair.AccessToken, pair.RefreshToken)
}

// Signup creates an account and stores the returned session.
func (c *Client) Signup(ctx context.Context, req *SignupRequest) error {
	if err := c.Struct(req); err != nil {
		return err
	}
	var pair TokenPair
	if err := c.do(ctx, http.MethodPost, "/auth/signup", req, &pair, false); err != nil {
		return err
	}
	if err := c.Struct(&pair); err != nil {
		return &Error{Kind: KindUnknown, Message: "incomplete signup response: " + err.Error()}
	}
	return c.store.SetSession(pair.AccessToken, pair.RefreshToken)
}

// Logout tells the server to drop the session, then clears the local pair.
// The local clear happens even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, true)
	if cerr := c.store.ClearSession(); cerr != nil {
		return cerr
	}
	return err
}

// RegisterDevice upserts this device's identity with the server.
func (c *Client) RegisterDevice(ctx context.Context, req *RegisterDeviceRequest) (DeviceRecord, error) {
	var rec DeviceRecord
	if err := c.Struct(req); err != nil {
		return rec, err
	}
	if err := c.do(ctx, http.MethodPost, "/devices/register", req, &rec, true); err != nil {
		return rec, err
	}
	if err := c.Struct(&rec); err != nil {
		return rec, &Error{Kind: KindUnknown, Message: "incomplete device record: " + err.Error()}
	}
	return rec, nil
}

// ReportGPS submits one location+battery report.
func (c *Client) ReportGPS(ctx context.Context, report *GPSReport) (GPSReportResponse, error) {
	var res GPSReportResponse
	err := c.do(ctx, http.MethodPost, "/devices/gps", report, &res, true)
	return res, err
}

// MemberLocations fetches the current member-location snapshot over plain
// HTTP. The stream client uses it as the connect-time fallback.
func (c *Client) MemberLocations(ctx context.Context) ([]MemberLocation, error) {
	var list []MemberLocation
	err := c.do(ctx, http.MethodGet, "/members/locations", nil, &list, true)
	return list, err
}
