package api

import "time"

// TokenPair is what the auth endpoints hand back on login, signup and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken" validate:"required"`
	RefreshToken string `json:"refreshToken" validate:"required"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type SignupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required"`
}

type RegisterDeviceRequest struct {
	DeviceUUID string `json:"deviceUuid" validate:"required"`
	OSType     string `json:"osType,omitempty"`
	OSVersion  string `json:"osVersion,omitempty"`
	FCMToken   string `json:"fcmToken,omitempty"`
}

type DeviceRecord struct {
	DeviceID   int64  `json:"deviceId" validate:"required"`
	DeviceUUID string `json:"deviceUuid"`
}

type GPSReport struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	BatteryLevel int     `json:"batteryLevel" validate:"min=0,max=100"`
}

type GPSReportResponse struct {
	RecordedAt time.Time `json:"recordedAt"`
	Message    string    `json:"message"`
}

type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// MemberLocation is one member's latest position snapshot as the server
// reports it. UserID is the unique key; entries without one are dropped by
// the stream client before they reach any consumer.
type MemberLocation struct {
	UserID       int64   `json:"userId"`
	Name         string  `json:"name"`
	Relationship string  `json:"relationship"`
	BatteryLevel int     `json:"batteryLevel"`
	Distance     float64 `json:"distance"`
	Location     LatLng  `json:"location"`
}
