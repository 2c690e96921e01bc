package token

// Store is the single source of truth for the credentials and device identity
// of this agent. Components never cache tokens in memory beyond a single
// request or refresh cycle.
type Store interface {
	AccessToken() string
	RefreshToken() string
	// SetSession stores a new access/refresh pair atomically.
	SetSession(access, refresh string) error
	// ClearSession removes both tokens. The device identity survives.
	ClearSession() error

	DeviceUUID() string
	SetDeviceUUID(id string) error
	DeviceID() int64
	SetDeviceID(id int64) error

	PushToken() string
	SetPushToken(tok string) error
}
