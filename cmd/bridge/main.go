package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/technosupport/ts-hikbridge/internal/bridge"
	"github.com/technosupport/ts-hikbridge/internal/catalog"
	"github.com/technosupport/ts-hikbridge/internal/config"
	"github.com/technosupport/ts-hikbridge/internal/httpapi"
	"github.com/technosupport/ts-hikbridge/internal/metrics"
	"github.com/technosupport/ts-hikbridge/internal/mqtt"
	"github.com/technosupport/ts-hikbridge/internal/natsexport"
)

const (
	exitOK          = 0
	exitConfigError = 1
	exitStartupIO   = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("[ERROR] Configuration error: %v", err)
		return exitConfigError
	}

	// Catalog boot: absence and staleness are fine, an unusable directory
	// is not.
	if dir := filepath.Dir(cfg.General.CatalogPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("[ERROR] Cannot create catalog directory %s: %v", dir, err)
			return exitStartupIO
		}
	}
	cat := catalog.New()
	if err := cat.Load(cfg.General.CatalogPath); err != nil {
		log.Printf("[WARN] Catalog load failed, starting empty: %v", err)
	}
	metrics.CatalogEntries.Set(float64(cat.Size()))
	log.Printf("[INFO] Catalog loaded with %d entries", cat.Size())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cat.Watch(ctx, cfg.General.CatalogPath); err != nil {
		log.Printf("[WARN] Catalog file watcher unavailable: %v", err)
	}

	pub := mqtt.NewPublisher(mqtt.Options{
		Broker: cfg.MQTT,
		Topics: mqtt.Topics{
			Base:            cfg.MQTT.BaseTopic,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		},
	})

	var exp bridge.Exporter
	if cfg.NATS.URL != "" {
		e, err := natsexport.Connect(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			log.Printf("[WARN] NATS export disabled: %v", err)
		} else {
			defer e.Close()
			exp = e
			log.Printf("[INFO] NATS export enabled on %s", cfg.NATS.Subject)
		}
	}

	br := bridge.New(cfg, cat, pub, exp)

	if cfg.General.HTTPListen != "" {
		api := httpapi.New(cfg.General.HTTPListen, br)
		if err := api.Start(); err != nil {
			log.Printf("[ERROR] HTTP listen on %s: %v", cfg.General.HTTPListen, err)
			return exitStartupIO
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = api.Shutdown(sctx)
		}()
		log.Printf("[INFO] HTTP API listening on %s", cfg.General.HTTPListen)
	}

	// The publisher outlives the bridge so the drained OFF/offline edges
	// still reach the broker after a signal.
	pubCtx, stopPub := context.WithCancel(context.Background())
	var pubWg sync.WaitGroup
	pubWg.Add(1)
	go func() {
		defer pubWg.Done()
		pub.Run(pubCtx)
	}()

	log.Printf("[INFO] Bridge running with %d camera(s)", len(cfg.Cameras))
	br.Run(ctx)

	stopPub()
	pubWg.Wait()

	log.Printf("[INFO] Clean shutdown")
	return exitOK
}
