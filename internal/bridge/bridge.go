// Package bridge wires the per-camera supervisors into the shared MQTT
// publisher and keeps the catalog persisted.
package bridge

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/technosupport/ts-hikbridge/internal/catalog"
	"github.com/technosupport/ts-hikbridge/internal/config"
	"github.com/technosupport/ts-hikbridge/internal/events"
	"github.com/technosupport/ts-hikbridge/internal/hikvision"
	"github.com/technosupport/ts-hikbridge/internal/httpapi"
	"github.com/technosupport/ts-hikbridge/internal/supervisor"
)

// Sink is the publisher surface the orchestrator writes into.
// *mqtt.Publisher satisfies it.
type Sink interface {
	PublishDiscovery(cameraName string, e catalog.Entry, dev events.DeviceMeta)
	PublishState(e catalog.Entry, on bool)
	PublishAvailability(cameraID string, online bool)
	QueueDepth() int
}

// Exporter optionally mirrors state changes to a secondary stream.
type Exporter interface {
	Export(sc events.StateChange) error
}

type Bridge struct {
	cfg   *config.Config
	cat   *catalog.Catalog
	sink  Sink
	exp   Exporter // nil when not configured
	names map[string]string

	// newSource is overridable in tests.
	newSource func(cam config.Camera) supervisor.Source

	mu        sync.RWMutex
	online    map[string]bool
	startedAt time.Time

	persistCh chan struct{}
}

func New(cfg *config.Config, cat *catalog.Catalog, sink Sink, exp Exporter) *Bridge {
	names := make(map[string]string, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		names[cam.ID] = cam.Name
	}
	b := &Bridge{
		cfg:       cfg,
		cat:       cat,
		sink:      sink,
		exp:       exp,
		names:     names,
		online:    make(map[string]bool),
		startedAt: time.Now(),
		persistCh: make(chan struct{}, 1),
	}
	b.newSource = func(cam config.Camera) supervisor.Source {
		return supervisor.NewSource(hikvision.NewClient(hikvision.ClientConfig{
			ID:             cam.ID,
			BaseURL:        cam.BaseURL(),
			Username:       cam.Username,
			Password:       cam.Password,
			AllowBasic:     cam.AllowBasicAuth,
			ConnectTimeout: config.DefaultConnectTimeout,
		}))
	}
	return b
}

// Run spawns one supervisor per camera and multiplexes their updates into
// the sink. It returns after ctx ends and every supervisor has drained, so
// the caller can flush the publisher afterwards.
func (b *Bridge) Run(ctx context.Context) {
	updates := make(chan events.Update, 256)

	var wg sync.WaitGroup
	for _, cam := range b.cfg.Cameras {
		sup := supervisor.New(cam, b.newSource(cam), b.cat, updates, supervisor.Options{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			sup.Run(ctx)
		}()
	}
	go func() {
		wg.Wait()
		close(updates)
	}()

	persistDone := make(chan struct{})
	go b.persistLoop(persistDone)

	for u := range updates {
		b.dispatch(u)
	}

	close(persistDone)
	if err := b.cat.Persist(b.cfg.General.CatalogPath); err != nil {
		log.Printf("[WARN] Bridge: final catalog persist failed: %v", err)
	}
}

func (b *Bridge) dispatch(u events.Update) {
	switch u := u.(type) {
	case events.Discovery:
		b.sink.PublishDiscovery(b.names[u.Entry.CameraID], u.Entry, u.Device)
		b.requestPersist()
	case events.StateChange:
		b.sink.PublishState(u.Entry, u.On)
		if b.exp != nil {
			if err := b.exp.Export(u); err != nil {
				log.Printf("[WARN] Bridge: NATS export failed: %v", err)
			}
		}
	case events.AvailabilityChange:
		b.sink.PublishAvailability(u.CameraID, u.Online)
		b.mu.Lock()
		b.online[u.CameraID] = u.Online
		b.mu.Unlock()
	}
}

func (b *Bridge) requestPersist() {
	select {
	case b.persistCh <- struct{}{}:
	default:
	}
}

// persistLoop writes the catalog on new entries and on a slow interval,
// keeping file I/O off the dispatch path.
func (b *Bridge) persistLoop(done <-chan struct{}) {
	ticker := time.NewTicker(config.DefaultPersistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-b.persistCh:
		case <-ticker.C:
		}
		if err := b.cat.Persist(b.cfg.General.CatalogPath); err != nil {
			log.Printf("[WARN] Bridge: catalog persist failed: %v", err)
		}
	}
}

// Status implements httpapi.StatusProvider.
func (b *Bridge) Status() httpapi.Status {
	b.mu.RLock()
	cams := make([]httpapi.CameraStatus, 0, len(b.names))
	for id, name := range b.names {
		cams = append(cams, httpapi.CameraStatus{ID: id, Name: name, Online: b.online[id]})
	}
	b.mu.RUnlock()
	sort.Slice(cams, func(i, j int) bool { return cams[i].ID < cams[j].ID })

	return httpapi.Status{
		StartedAt:      b.startedAt,
		UptimeSeconds:  int64(time.Since(b.startedAt).Seconds()),
		Cameras:        cams,
		CatalogEntries: b.cat.Size(),
		MQTTQueueDepth: b.sink.QueueDepth(),
	}
}
