package supervisor

import (
	"context"
	"log"
	"time"

	"github.com/technosupport/ts-hikbridge/internal/backoff"
	"github.com/technosupport/ts-hikbridge/internal/catalog"
	"github.com/technosupport/ts-hikbridge/internal/config"
	"github.com/technosupport/ts-hikbridge/internal/events"
	"github.com/technosupport/ts-hikbridge/internal/hikvision"
	"github.com/technosupport/ts-hikbridge/internal/metrics"
)

// Session is one open alert stream.
type Session interface {
	Next() (hikvision.Alert, error)
	Close() error
}

// Source opens alert streams and fetches device metadata for one camera.
// *hikvision.Client satisfies it through cameraSource; tests substitute
// fakes.
type Source interface {
	Open(ctx context.Context) (Session, error)
	DeviceInfo(ctx context.Context) (hikvision.DeviceInfo, error)
}

// NewSource wraps a hikvision client as a Source.
func NewSource(c *hikvision.Client) Source {
	return cameraSource{c: c}
}

type cameraSource struct{ c *hikvision.Client }

func (s cameraSource) Open(ctx context.Context) (Session, error) {
	return s.c.OpenAlertStream(ctx)
}

func (s cameraSource) DeviceInfo(ctx context.Context) (hikvision.DeviceInfo, error) {
	return s.c.FetchDeviceInfo(ctx)
}

// Options bound the supervisor's timing behavior. Zero values take the
// documented defaults.
type Options struct {
	ConnectTimeout  time.Duration
	StabilityWindow time.Duration
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	DrainBudget     time.Duration
}

func (o *Options) applyDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = config.DefaultConnectTimeout
	}
	if o.StabilityWindow <= 0 {
		o.StabilityWindow = config.DefaultStabilityWindow
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 60 * time.Second
	}
	if o.DrainBudget <= 0 {
		o.DrainBudget = config.DefaultDrainBudget
	}
}

// Supervisor owns one camera's lifecycle: connect, stream, debounce,
// synthesize availability, reconnect with backoff. One per camera; no state
// is shared between supervisors except the catalog.
type Supervisor struct {
	cam    config.Camera
	source Source
	cat    *catalog.Catalog
	out    chan<- events.Update
	opts   Options

	device events.DeviceMeta
}

func New(cam config.Camera, source Source, cat *catalog.Catalog, out chan<- events.Update, opts Options) *Supervisor {
	opts.applyDefaults()
	return &Supervisor{cam: cam, source: source, cat: cat, out: out, opts: opts}
}

// Run drives the camera until ctx is cancelled. On cancellation every
// in-flight event is force-closed and the offline edge emitted before
// return, so downstream always sees a clean shutdown.
func (s *Supervisor) Run(ctx context.Context) {
	bo := backoff.New(s.opts.BackoffBase, s.opts.BackoffCap)
	first := true

	for {
		if !first {
			metrics.ReconnectsTotal.WithLabelValues(s.cam.ID).Inc()
		}
		first = false

		session, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if hikvision.IsAuthError(err) {
				log.Printf("[WARN] Supervisor (%s): authentication failed: %v", s.cam.ID, err)
			} else {
				log.Printf("[WARN] Supervisor (%s): connect failed: %v", s.cam.ID, err)
			}
			if !s.sleep(ctx, bo.Next()) {
				return
			}
			continue
		}

		log.Printf("[INFO] Supervisor (%s): alert stream established", s.cam.ID)
		s.send(ctx, events.AvailabilityChange{CameraID: s.cam.ID, Online: true})
		metrics.CameraUp.WithLabelValues(s.cam.ID).Set(1)

		started := time.Now()
		streamErr := s.stream(ctx, session)
		session.Close()
		metrics.CameraUp.WithLabelValues(s.cam.ID).Set(0)

		// Short-lived sessions do not count as recovered.
		if time.Since(started) >= s.opts.StabilityWindow {
			bo.Reset()
		}
		if ctx.Err() != nil {
			return
		}
		log.Printf("[WARN] Supervisor (%s): stream ended: %v; reconnecting", s.cam.ID, streamErr)
		if !s.sleep(ctx, bo.Next()) {
			return
		}
	}
}

func (s *Supervisor) connect(ctx context.Context) (Session, error) {
	connectCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()
	session, err := s.source.Open(connectCtx)
	if err != nil {
		return nil, err
	}

	// Device description enrichment is best-effort; streaming never waits
	// on it beyond the connect budget.
	infoCtx, cancelInfo := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancelInfo()
	if info, err := s.source.DeviceInfo(infoCtx); err == nil {
		s.device = events.DeviceMeta{
			DeviceName:      info.DeviceName,
			Model:           info.Model,
			FirmwareVersion: info.FirmwareVersion,
		}
	}
	return session, nil
}

type alertResult struct {
	alert hikvision.Alert
	err   error
}

// stream consumes the session until EOF, error or cancellation, then drains:
// force-closes every in-flight event and emits the offline edge.
func (s *Supervisor) stream(ctx context.Context, session Session) error {
	inflight := newInflightSet()

	alerts := make(chan alertResult)
	readerDone := make(chan struct{})
	go func() {
		for {
			a, err := session.Next()
			select {
			case alerts <- alertResult{alert: a, err: err}:
				if err != nil {
					return
				}
			case <-readerDone:
				return
			}
		}
	}()
	defer close(readerDone)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	var streamErr error
loop:
	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if deadline, ok := inflight.NextDeadline(); ok {
			timer.Reset(time.Until(deadline))
		} else {
			timer.Reset(time.Hour)
		}

		select {
		case <-ctx.Done():
			streamErr = ctx.Err()
			break loop
		case res := <-alerts:
			if res.err != nil {
				streamErr = res.err
				break loop
			}
			s.handleAlert(ctx, inflight, res.alert)
		case now := <-timer.C:
			for _, entry := range inflight.Expired(now) {
				log.Printf("[DEBUG] Supervisor (%s): %s expired without inactive part", s.cam.ID, entry.UniqueID())
				metrics.ExpiredEventsTotal.WithLabelValues(s.cam.ID).Inc()
				metrics.EventsTotal.WithLabelValues(s.cam.ID).Inc()
				s.send(ctx, events.StateChange{Entry: entry, On: false, Timestamp: time.Now()})
			}
		}
	}

	// Draining. Sends here must survive cancellation; the orchestrator keeps
	// consuming until every supervisor has exited, bounded by the budget.
	drainDeadline := time.Now().Add(s.opts.DrainBudget)
	for _, entry := range inflight.Drain() {
		metrics.EventsTotal.WithLabelValues(s.cam.ID).Inc()
		s.sendUntil(events.StateChange{Entry: entry, On: false, Timestamp: time.Now()}, drainDeadline)
	}
	s.sendUntil(events.AvailabilityChange{CameraID: s.cam.ID, Online: false}, drainDeadline)
	return streamErr
}

func (s *Supervisor) handleAlert(ctx context.Context, inflight *inflightSet, a hikvision.Alert) {
	if s.cam.Ignores(a.EventType) {
		return
	}

	entry, isNew := s.cat.Observe(s.cam.ID, a.ChannelID, a.EventType)
	if isNew {
		metrics.CatalogEntries.Set(float64(s.cat.Size()))
		s.send(ctx, events.Discovery{Entry: entry, Device: s.device})
	}

	ts := a.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	if a.Active {
		deadline := time.Now().Add(s.cam.EventTimeout.Std())
		if inflight.Refresh(entry, deadline) {
			metrics.EventsTotal.WithLabelValues(s.cam.ID).Inc()
			s.send(ctx, events.StateChange{Entry: entry, On: true, Timestamp: ts, Count: a.Count, Raw: a.Raw})
		}
		return
	}
	if inflight.Remove(entry) {
		metrics.EventsTotal.WithLabelValues(s.cam.ID).Inc()
		s.send(ctx, events.StateChange{Entry: entry, On: false, Timestamp: ts, Count: a.Count, Raw: a.Raw})
	}
}

func (s *Supervisor) send(ctx context.Context, u events.Update) {
	select {
	case s.out <- u:
	case <-ctx.Done():
		// Drain-phase emission happens via sendUntil; anything else lost to
		// shutdown is acceptable.
	}
}

func (s *Supervisor) sendUntil(u events.Update, deadline time.Time) {
	wait := time.Until(deadline)
	if wait <= 0 {
		log.Printf("[ERROR] Supervisor (%s): drain budget exhausted, dropping %T", s.cam.ID, u)
		return
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case s.out <- u:
	case <-t.C:
		log.Printf("[ERROR] Supervisor (%s): drain budget exhausted, dropping %T", s.cam.ID, u)
	}
}

// sleep waits for the backoff delay, honoring cancellation. Returns false
// when ctx ended.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
