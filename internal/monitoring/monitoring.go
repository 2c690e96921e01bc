package monitoring

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nuha.dev/guardian/internal/fixfeed"
	"nuha.dev/guardian/internal/reporter"
	"nuha.dev/guardian/internal/stream"
	"nuha.dev/guardian/internal/util"
)

type Config struct {
	ListenAddr string
}

type AgentStatus struct {
	ReporterRunning bool           `json:"reporter_running"`
	Reporter        reporter.Stats `json:"reporter"`
	Stream          stream.Status  `json:"stream"`
	FixFeedDropped  uint64         `json:"fixfeed_dropped"`
}

// Server exposes the agent's local status endpoint: JSON counters on /status
// and Prometheus metrics on /metrics. Listens on loopback only in the
// default configuration.
type Server struct {
	server *http.Server
	logger zerolog.Logger
	rep    *reporter.Reporter
	str    *stream.Client
	feed   *fixfeed.Listener
}

func New(rep *reporter.Reporter, str *stream.Client, feed *fixfeed.Listener, config *Config) *Server {
	m := &Server{rep: rep, str: str, feed: feed}
	m.logger = log.With().Str("module", "monitoring").Logger()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "guardian_gps_reports_sent_total",
			Help: "GPS reports delivered to the server.",
		}, func() float64 { return float64(rep.Snapshot().Sent) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "guardian_gps_reports_failed_total",
			Help: "GPS reports dropped after delivery failure.",
		}, func() float64 { return float64(rep.Snapshot().Failed) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "guardian_gps_fixes_rejected_total",
			Help: "Fixes rejected by the report throttle.",
		}, func() float64 { return float64(rep.Snapshot().Rejected) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "guardian_device_reregistrations_total",
			Help: "Times the device re-registered after a not-found report.",
		}, func() float64 { return float64(rep.Snapshot().Reregistered) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "guardian_stream_events_total",
			Help: "Location snapshots received over the stream.",
		}, func() float64 { return float64(str.Status().Events) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "guardian_stream_reconnects_total",
			Help: "Stream reconnect attempts scheduled.",
		}, func() float64 { return float64(str.Status().Reconnects) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "guardian_fixfeed_fixes_dropped_total",
			Help: "Fixes discarded because the reporter was not keeping up.",
		}, func() float64 { return float64(feed.Dropped()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "guardian_stream_connected",
			Help: "Whether the member-location stream is up.",
		}, func() float64 {
			if str.Connected() {
				return 1
			}
			return 0
		}),
	)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/status", m.serveStatus)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return m
}

func (m *Server) Run() {
	err := m.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(err)
	}
}

func (m *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	res := AgentStatus{
		ReporterRunning: m.rep.Running(),
		Reporter:        m.rep.Snapshot(),
		Stream:          m.str.Status(),
		FixFeedDropped:  m.feed.Dropped(),
	}
	util.JsonWrite(w, res)
}
