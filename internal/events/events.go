// Package events defines the records flowing from camera supervisors
// through the orchestrator into the publisher.
package events

import (
	"time"

	"github.com/technosupport/ts-hikbridge/internal/catalog"
)

// DeviceMeta carries best-effort device description used to enrich
// discovery payloads. Zero values mean the info fetch failed; discovery
// still works without it.
type DeviceMeta struct {
	DeviceName      string
	Model           string
	FirmwareVersion string
}

// Update is one record emitted by a supervisor. Within a single camera,
// updates arrive in observation order.
type Update interface {
	isUpdate()
}

// Discovery requests a discovery config publication. It always precedes the
// first StateChange for its entity.
type Discovery struct {
	Entry  catalog.Entry
	Device DeviceMeta
}

// StateChange flips one entity on or off.
type StateChange struct {
	Entry     catalog.Entry
	On        bool
	Timestamp time.Time
	Count     int
	// Raw is the verbatim attribute bag of the triggering alert part; nil
	// for synthesized (expiry / drain) transitions.
	Raw map[string]string
}

// AvailabilityChange marks a camera online or offline.
type AvailabilityChange struct {
	CameraID string
	Online   bool
}

func (Discovery) isUpdate()          {}
func (StateChange) isUpdate()        {}
func (AvailabilityChange) isUpdate() {}
