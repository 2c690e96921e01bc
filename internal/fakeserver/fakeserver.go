// Package fakeserver is a self-contained stand-in for the guardian backend,
// used for development and manual testing of the agent. Everything lives in
// memory; member positions drift on a timer so the stream has something to
// push.
package fakeserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nuha.dev/guardian/internal/api"
	"nuha.dev/guardian/internal/util"
)

type Config struct {
	ListenAddr   string
	JWTSecret    string
	AccessTTL    time.Duration
	DemoEmail    string
	DemoPassword string
	// WalkInterval is how often member positions drift. Zero disables
	// the simulation.
	WalkInterval time.Duration
}

type deviceRow struct {
	id       int64
	uuid     string
	fcmToken string
	lastFix  *api.LatLng
}

type Server struct {
	config Config
	logger zerolog.Logger
	server *http.Server
	*validator.Validate

	mu           sync.Mutex
	pwdHash      string
	refresh      map[string]string // refresh token -> user id
	devices      map[string]*deviceRow
	nextDeviceID int64
	members      []memberState

	subs    map[int]chan []api.MemberLocation
	nextSub int
}

func New(config *Config) *Server {
	s := &Server{config: *config}
	s.logger = log.With().Str("module", "fakeserver").Logger()
	s.Validate = validator.New()
	s.pwdHash = util.CryptPwd(config.DemoPassword)
	s.refresh = make(map[string]string)
	s.devices = make(map[string]*deviceRow)
	s.subs = make(map[int]chan []api.MemberLocation)
	s.members = seedMembers()

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/auth/login", s.login)
	r.Post("/auth/signup", s.signup)
	r.Post("/auth/refresh", s.refreshToken)
	r.With(s.requireAuth).Post("/auth/logout", s.logout)
	r.With(s.requireAuth).Post("/devices/register", s.registerDevice)
	r.With(s.requireAuth).Post("/devices/gps", s.reportGPS)
	r.With(s.requireAuth).Get("/members/locations", s.memberLocations)
	r.Get("/members/locations/stream", s.memberStream)

	s.server = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		// No write timeout: the stream endpoint holds its response open.
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

func (s *Server) Run() {
	if s.config.WalkInterval > 0 {
		go s.walkLoop()
	}
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("fakeserver listening")
	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(err)
	}
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func errorJSON(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
