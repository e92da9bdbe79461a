package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/technosupport/ts-hikbridge/internal/catalog"
	"github.com/technosupport/ts-hikbridge/internal/events"
)

// discoveryPayload is the Home Assistant MQTT discovery config for one
// binary sensor entity.
type discoveryPayload struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	AvailabilityTopic string          `json:"availability_topic"`
	DeviceClass       string          `json:"device_class,omitempty"`
	Device            discoveryDevice `json:"device"`
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
	SwVersion    string   `json:"sw_version,omitempty"`
}

// DiscoveryPayload renders the retained config JSON for an entity.
// cameraName is the configured display name; dev enriches the device block
// when the device info fetch succeeded.
func DiscoveryPayload(t Topics, cameraName string, e catalog.Entry, dev events.DeviceMeta) ([]byte, error) {
	p := discoveryPayload{
		Name:              fmt.Sprintf("%s CH%d %s", cameraName, e.ChannelID, e.Label()),
		UniqueID:          e.UniqueID(),
		StateTopic:        t.State(e),
		AvailabilityTopic: t.CameraAvailability(e.CameraID),
		DeviceClass:       e.DeviceClass(),
		Device: discoveryDevice{
			Identifiers:  []string{e.CameraID},
			Name:         cameraName,
			Manufacturer: "Hikvision",
			Model:        dev.Model,
			SwVersion:    dev.FirmwareVersion,
		},
	}
	return json.Marshal(p)
}
