package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CameraUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hikbridge_camera_up",
		Help: "Whether the camera's alert stream is currently healthy (1=online, 0=offline)",
	}, []string{"camera"})

	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hikbridge_events_total",
		Help: "Total state transitions emitted per camera",
	}, []string{"camera"})

	ExpiredEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hikbridge_expired_events_total",
		Help: "Total in-flight events closed by expiry rather than an explicit inactive part",
	}, []string{"camera"})

	ReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hikbridge_reconnects_total",
		Help: "Total camera stream connection attempts after the first",
	}, []string{"camera"})

	ParseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hikbridge_parse_errors_total",
		Help: "Total malformed multipart alert parts skipped",
	}, []string{"camera"})

	CatalogEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hikbridge_catalog_entries",
		Help: "Current number of known (camera, channel, event type) tuples",
	})

	MQTTQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hikbridge_mqtt_queue_depth",
		Help: "Messages buffered toward the MQTT broker",
	})

	MQTTDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hikbridge_mqtt_dropped_total",
		Help: "Messages dropped on queue overflow",
	}, []string{"class"})

	MQTTReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hikbridge_mqtt_reconnects_total",
		Help: "Total MQTT broker connection attempts after the first",
	})
)
