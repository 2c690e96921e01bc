package reporter

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nuha.dev/guardian/internal/api"
	"nuha.dev/guardian/internal/gps"
	"nuha.dev/guardian/internal/token"
	"nuha.dev/guardian/internal/util"
)

// API is the slice of the HTTP client the reporter needs.
type API interface {
	ReportGPS(ctx context.Context, report *api.GPSReport) (api.GPSReportResponse, error)
	RegisterDevice(ctx context.Context, req *api.RegisterDeviceRequest) (api.DeviceRecord, error)
}

type Config struct {
	OSType    string
	OSVersion string
	// Permissions is consulted once at Start. A non-nil error means
	// location permission was denied and the reporter must not run.
	Permissions func() error
}

var errAlreadyRunning = errors.New("reporter already running")

// Reporter bridges raw location samples into server-side GPS reports. It
// owns the single last-accepted-fix slot and applies the decision engine to
// every incoming sample. Failed deliveries are logged and dropped; the
// throttle window advances on acceptance either way.
type Reporter struct {
	api     API
	store   token.Store
	battery Battery
	config  Config
	logger  zerolog.Logger

	mu      sync.Mutex
	lastFix *gps.AcceptedFix
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	stats Stats
}

// Stats are process-lifetime counters, read by the monitoring endpoint.
type Stats struct {
	Skipped      uint64 `json:"skipped"`
	Rejected     uint64 `json:"rejected"`
	Accepted     uint64 `json:"accepted"`
	Sent         uint64 `json:"sent"`
	Failed       uint64 `json:"failed"`
	Reregistered uint64 `json:"reregistered"`
}

func New(a API, store token.Store, battery Battery, config Config) *Reporter {
	r := &Reporter{}
	r.api = a
	r.store = store
	r.battery = battery
	r.config = config
	r.logger = log.With().Str("module", "reporter").Logger()
	return r
}

// Start begins consuming fixes. It fails when permission is denied or the
// reporter is already running.
func (r *Reporter) Start(ctx context.Context, fixes <-chan gps.Fix) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errAlreadyRunning
	}
	if r.config.Permissions != nil {
		if err := r.config.Permissions(); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.running = true
	go r.loop(ctx, cancel, done, fixes)
	return nil
}

// Stop halts the reporter and waits for the in-flight sample, if any. No-op
// when not running.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	done := r.done
	r.mu.Unlock()
	<-done
}

func (r *Reporter) loop(ctx context.Context, cancel context.CancelFunc, done chan struct{}, fixes <-chan gps.Fix) {
	defer func() {
		cancel()
		r.mu.Lock()
		// A new Start may have installed a fresh run by now; only this
		// run's own state gets reset.
		if r.done == done {
			r.running = false
		}
		r.mu.Unlock()
		close(done)
	}()
	r.logger.Info().Msg("reporter started")
	for {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-fixes:
			if !ok {
				return
			}
			r.handleFix(ctx, fix)
		}
	}
}

// handleFix processes one raw sample end to end. It never returns an error:
// a background task has nothing to surface failures to.
func (r *Reporter) handleFix(ctx context.Context, fix gps.Fix) {
	if r.store.AccessToken() == "" {
		// Session not authenticated yet; skip silently.
		atomic.AddUint64(&r.stats.Skipped, 1)
		return
	}

	r.mu.Lock()
	dec := gps.ShouldReport(r.lastFix, fix)
	if !dec.Accept {
		r.mu.Unlock()
		atomic.AddUint64(&r.stats.Rejected, 1)
		return
	}
	// The throttle window advances on acceptance, not delivery. A dropped
	// report still counts against it.
	r.lastFix = &gps.AcceptedFix{Latitude: fix.Latitude, Longitude: fix.Longitude, Timestamp: fix.CapturedAt}
	r.mu.Unlock()
	atomic.AddUint64(&r.stats.Accepted, 1)
	r.logger.Debug().Str("reason", dec.Reason.String()).Float64("lat", fix.Latitude).Float64("lon", fix.Longitude).Msg("fix accepted")

	level, err := r.battery.Level(ctx)
	if err != nil {
		r.logger.Err(err).Msg("battery read failed, dropping sample")
		atomic.AddUint64(&r.stats.Failed, 1)
		return
	}
	report := &api.GPSReport{
		Latitude:     fix.Latitude,
		Longitude:    fix.Longitude,
		BatteryLevel: int(math.Round(level * 100)),
	}

	_, err = r.api.ReportGPS(ctx, report)
	if err == nil {
		atomic.AddUint64(&r.stats.Sent, 1)
		return
	}
	if !api.IsNotFound(err) {
		r.logger.Err(err).Msg("gps report failed, dropping sample")
		atomic.AddUint64(&r.stats.Failed, 1)
		return
	}

	// The server no longer recognizes this device. Re-register once and
	// retry the report once; a second failure drops the sample until the
	// next one arrives.
	if err := r.reregister(ctx); err != nil {
		r.logger.Err(err).Msg("device re-registration failed, dropping sample")
		atomic.AddUint64(&r.stats.Failed, 1)
		return
	}
	atomic.AddUint64(&r.stats.Reregistered, 1)
	if _, err := r.api.ReportGPS(ctx, report); err != nil {
		r.logger.Err(err).Msg("gps report retry failed, dropping sample")
		atomic.AddUint64(&r.stats.Failed, 1)
		return
	}
	atomic.AddUint64(&r.stats.Sent, 1)
}

func (r *Reporter) reregister(ctx context.Context) error {
	id := r.store.DeviceUUID()
	if id == "" {
		id = util.GenUUID()
		if err := r.store.SetDeviceUUID(id); err != nil {
			return err
		}
	}
	req := &api.RegisterDeviceRequest{
		DeviceUUID: id,
		OSType:     r.config.OSType,
		OSVersion:  r.config.OSVersion,
		FCMToken:   r.store.PushToken(),
	}
	rec, err := r.api.RegisterDevice(ctx, req)
	if err != nil {
		return err
	}
	r.logger.Info().Int64("device_id", rec.DeviceID).Msg("device re-registered")
	return r.store.SetDeviceID(rec.DeviceID)
}

// Snapshot returns a copy of the counters.
func (r *Reporter) Snapshot() Stats {
	return Stats{
		Skipped:      atomic.LoadUint64(&r.stats.Skipped),
		Rejected:     atomic.LoadUint64(&r.stats.Rejected),
		Accepted:     atomic.LoadUint64(&r.stats.Accepted),
		Sent:         atomic.LoadUint64(&r.stats.Sent),
		Failed:       atomic.LoadUint64(&r.stats.Failed),
		Reregistered: atomic.LoadUint64(&r.stats.Reregistered),
	}
}

// Running reports whether the reporter loop is live.
func (r *Reporter) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
