package hikvision

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Alert is one decoded EventNotificationAlert part.
type Alert struct {
	ChannelID   int
	EventType   string
	Active      bool
	Count       int
	Timestamp   time.Time
	Description string

	// Raw preserves every top-level element of the part verbatim for
	// downstream consumers.
	Raw map[string]string
}

// ParseAlert decodes an EventNotificationAlert document permissively:
// unknown elements land in Raw, a missing eventState is inferred from
// activePostCount. A missing eventType or an unusable eventState makes the
// part malformed.
func ParseAlert(data []byte) (Alert, error) {
	raw, err := flattenAlertXML(data)
	if err != nil {
		return Alert{}, err
	}

	eventType := raw["eventType"]
	if eventType == "" {
		return Alert{}, fmt.Errorf("alert missing eventType")
	}
	if !validEventType(eventType) {
		return Alert{}, fmt.Errorf("alert has malformed eventType %q", eventType)
	}

	a := Alert{
		EventType:   eventType,
		Description: raw["eventDescription"],
		Raw:         raw,
	}

	// Cameras report their single video channel as 1; NVR dynamic channels
	// arrive as dynChannelID.
	a.ChannelID = 1
	for _, key := range []string{"channelID", "dynChannelID"} {
		if v, ok := raw[key]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				a.ChannelID = n
				break
			}
		}
	}

	if v, ok := raw["activePostCount"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			a.Count = n
		}
	}

	switch raw["eventState"] {
	case "active":
		a.Active = true
	case "inactive":
		a.Active = false
	case "":
		// Some firmwares omit eventState entirely.
		a.Active = a.Count >= 1
	default:
		return Alert{}, fmt.Errorf("alert has invalid eventState %q", raw["eventState"])
	}

	if v, ok := raw["dateTime"]; ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			a.Timestamp = ts
		}
	}

	return a, nil
}

// flattenAlertXML walks the document and collects the direct text of every
// top-level child of EventNotificationAlert. Nested containers (Extensions,
// DetectionRegionList) contribute their element name with empty text.
func flattenAlertXML(data []byte) (map[string]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	// Locate the root element.
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid alert xml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if se.Name.Local != "EventNotificationAlert" {
			return nil, fmt.Errorf("unexpected root element %q", se.Name.Local)
		}
		break
	}

	raw := make(map[string]string)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return raw, nil
		}
		if err != nil {
			return nil, fmt.Errorf("invalid alert xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			text, err := collectElementText(dec)
			if err != nil {
				return nil, fmt.Errorf("invalid alert xml: %w", err)
			}
			raw[name] = text
		case xml.EndElement:
			if t.Name.Local == "EventNotificationAlert" {
				return raw, nil
			}
		}
	}
}

// collectElementText consumes tokens until the current element closes and
// returns its direct character data.
func collectElementText(dec *xml.Decoder) (string, error) {
	var text strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 1 {
				text.Write(t)
			}
		}
	}
	return strings.TrimSpace(text.String()), nil
}

// validEventType rejects types that cannot form a topic segment or entity
// id. Hikvision types are plain ASCII alphanumerics; anything else indicates
// a mangled part.
func validEventType(s string) bool {
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			continue
		}
		return false
	}
	return true
}
