package mqtt

import (
	"fmt"

	"github.com/technosupport/ts-hikbridge/internal/catalog"
)

// Topics builds every topic path the bridge publishes to. The scheme is
// fixed; consumers depend on it bit-exact.
type Topics struct {
	Base            string // e.g. "hikvision"
	DiscoveryPrefix string // e.g. "homeassistant"
}

// State is <base>/<camera_id>/<channel>/<event_type>.
func (t Topics) State(e catalog.Entry) string {
	return fmt.Sprintf("%s/%s/%d/%s", t.Base, e.CameraID, e.ChannelID, e.EventType)
}

// CameraAvailability is <base>/<camera_id>/availability.
func (t Topics) CameraAvailability(cameraID string) string {
	return fmt.Sprintf("%s/%s/availability", t.Base, cameraID)
}

// BridgeAvailability is <base>/bridge/availability, also used as the
// connection's last will topic.
func (t Topics) BridgeAvailability() string {
	return fmt.Sprintf("%s/bridge/availability", t.Base)
}

// DiscoveryConfig is
// <discovery_prefix>/binary_sensor/<camera_id>_<channel>_<event_type>/config.
func (t Topics) DiscoveryConfig(e catalog.Entry) string {
	return fmt.Sprintf("%s/binary_sensor/%s/config", t.DiscoveryPrefix, e.UniqueID())
}
