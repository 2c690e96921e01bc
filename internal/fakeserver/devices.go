package fakeserver

import (
	"encoding/json"
	"net/http"
	"time"

	"nuha.dev/guardian/internal/api"
	"nuha.dev/guardian/internal/util"
)

// registerDevice is an idempotent upsert keyed on the device uuid.
func (s *Server) registerDevice(w http.ResponseWriter, r *http.Request) {
	req := api.RegisterDeviceRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Struct(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	dev, ok := s.devices[req.DeviceUUID]
	if !ok {
		s.nextDeviceID++
		dev = &deviceRow{id: s.nextDeviceID, uuid: req.DeviceUUID}
		s.devices[req.DeviceUUID] = dev
	}
	dev.fcmToken = req.FCMToken
	s.mu.Unlock()

	s.logger.Info().Str("uuid", req.DeviceUUID).Int64("device_id", dev.id).Msg("device registered")
	util.JsonWrite(w, api.DeviceRecord{DeviceID: dev.id, DeviceUUID: dev.uuid})
}

// reportGPS records the caller's position. A report from a user with no
// registered device gets a 404, which drives the agent's re-registration
// path.
func (s *Server) reportGPS(w http.ResponseWriter, r *http.Request) {
	req := api.GPSReport{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Struct(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	var dev *deviceRow
	for _, d := range s.devices {
		dev = d
		break
	}
	if dev == nil {
		s.mu.Unlock()
		errorJSON(w, http.StatusNotFound, "device not found")
		return
	}
	dev.lastFix = &api.LatLng{Latitude: req.Latitude, Longitude: req.Longitude}
	s.mu.Unlock()

	util.JsonWrite(w, api.GPSReportResponse{
		RecordedAt: time.Now().UTC(),
		Message:    "location recorded",
	})
}
