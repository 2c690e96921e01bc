package fakeserver

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"nuha.dev/guardian/internal/api"
	"nuha.dev/guardian/internal/gps"
	"nuha.dev/guardian/internal/util"
)

const heartbeatInterval = 25 * time.Second

type memberState struct {
	id           int64
	name         string
	relationship string
	battery      int
	lat, lon     float64
}

func seedMembers() []memberState {
	// Clustered around Seoul city hall.
	return []memberState{
		{id: 101, name: "Minji", relationship: "daughter", battery: 84, lat: 37.5665, lon: 126.9780},
		{id: 102, name: "Jiho", relationship: "son", battery: 67, lat: 37.5651, lon: 126.9895},
		{id: 103, name: "Grandma", relationship: "mother", battery: 91, lat: 37.5796, lon: 126.9770},
	}
}

// snapshot builds the member list as seen from the registered device's last
// reported position. Distance is in kilometers.
func (s *Server) snapshot() []api.MemberLocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var origin *api.LatLng
	for _, d := range s.devices {
		if d.lastFix != nil {
			origin = d.lastFix
			break
		}
	}
	out := make([]api.MemberLocation, 0, len(s.members))
	for _, m := range s.members {
		ml := api.MemberLocation{
			UserID:       m.id,
			Name:         m.name,
			Relationship: m.relationship,
			BatteryLevel: m.battery,
			Location:     api.LatLng{Latitude: m.lat, Longitude: m.lon},
		}
		if origin != nil {
			ml.Distance = gps.HaversineMeters(origin.Latitude, origin.Longitude, m.lat, m.lon) / 1000
		}
		out = append(out, ml)
	}
	return out
}

func (s *Server) walkLoop() {
	ticker := time.NewTicker(s.config.WalkInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		for i := range s.members {
			s.members[i].lat += (rand.Float64() - 0.5) * 0.001
			s.members[i].lon += (rand.Float64() - 0.5) * 0.001
			if rand.Intn(10) == 0 && s.members[i].battery > 1 {
				s.members[i].battery--
			}
		}
		s.mu.Unlock()
		s.publish(s.snapshot())
	}
}

func (s *Server) subscribe() (int, chan []api.MemberLocation) {
	ch := make(chan []api.MemberLocation, 4)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()
	return id, ch
}

func (s *Server) unsubscribe(id int) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

func (s *Server) publish(snap []api.MemberLocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Drop for slow subscribers rather than blocking the walk.
		}
	}
}

func (s *Server) memberLocations(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, s.snapshot())
}

// streamEvent is the wire shape of one stream message.
type streamEvent struct {
	Type      string               `json:"type"`
	Timestamp time.Time            `json:"timestamp"`
	Payload   []api.MemberLocation `json:"payload,omitempty"`
}

// memberStream is the server-push endpoint. EventSource-style clients cannot
// set headers, so the token rides in the query string.
func (s *Server) memberStream(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.verifyAccess(r.URL.Query().Get("token")); !ok {
		errorJSON(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	fl, ok := w.(http.Flusher)
	if !ok {
		errorJSON(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	id, ch := s.subscribe()
	defer s.unsubscribe(id)
	s.logger.Info().Int("sub", id).Msg("stream subscriber connected")

	write := func(ev streamEvent) bool {
		raw, err := json.Marshal(ev)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", raw); err != nil {
			return false
		}
		fl.Flush()
		return true
	}

	if !write(streamEvent{Type: "INITIAL", Timestamp: time.Now().UTC(), Payload: s.snapshot()}) {
		return
	}

	hb := time.NewTicker(heartbeatInterval)
	defer hb.Stop()
	for {
		select {
		case <-r.Context().Done():
			s.logger.Info().Int("sub", id).Msg("stream subscriber disconnected")
			return
		case snap := <-ch:
			if !write(streamEvent{Type: "UPDATE", Timestamp: time.Now().UTC(), Payload: snap}) {
				return
			}
		case <-hb.C:
			if !write(streamEvent{Type: "HEARTBEAT", Timestamp: time.Now().UTC()}) {
				return
			}
		}
	}
}
