package catalog

import "strings"

// classInfo pairs the human label with the Home Assistant binary_sensor
// device class for a known event type.
type classInfo struct {
	label       string
	deviceClass string
}

// Hikvision is inconsistent about event type casing, even within a single
// model, so the table is keyed lowercase. The verbatim string still flows
// into topics and ids unchanged.
var eventClasses = map[string]classInfo{
	"vmd":                  {"Motion", "motion"},
	"motion":               {"Motion", "motion"},
	"linedetection":        {"Line Crossing", "motion"},
	"fielddetection":       {"Field Detection", "motion"},
	"regionentrance":       {"Region Entering", "motion"},
	"regionexiting":        {"Region Exiting", "motion"},
	"scenechangedetection": {"Scene Change", "motion"},
	"facedetection":        {"Face Detection", "motion"},
	"facesnap":             {"Face Snapshot", "motion"},
	"unattendedbaggage":    {"Unattended Baggage", "motion"},
	"attendedbaggage":      {"Attended Baggage", "motion"},
	"audioexception":       {"Audio Exception", "motion"},
	"tamperdetection":      {"Tamper", "tamper"},
	"shelteralarm":         {"Tamper", "tamper"},
	"videoloss":            {"Video Loss", "connectivity"},
	"illaccess":            {"Illegal Access", "problem"},
	"videomismatch":        {"Video Mismatch", "problem"},
	"badvideo":             {"Bad Video", "problem"},
	"storagedetection":     {"Storage Detection", "problem"},
	"recordingfailure":     {"Recording Failure", "problem"},
	"diskfull":             {"Disk Full", "problem"},
	"diskerror":            {"Disk Error", "problem"},
	"nicbroken":            {"Network Card Broken", "problem"},
	"ipconflict":           {"IP Address Conflict", "problem"},
	"io":                   {"I/O Port", ""},
}

// Label returns the friendly name for an event type; unknown types keep
// their verbatim string so the discovery entity is still usable.
func Label(eventType string) string {
	if info, ok := eventClasses[strings.ToLower(eventType)]; ok {
		return info.label
	}
	return eventType
}

// DeviceClass returns the device class hint for an event type. Unknown
// types default to "problem"; an empty string means no class.
func DeviceClass(eventType string) string {
	if info, ok := eventClasses[strings.ToLower(eventType)]; ok {
		return info.deviceClass
	}
	return "problem"
}
