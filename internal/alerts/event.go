// Package alerts implements the event and alert engine: edge-triggered
// threshold rules with hysteresis, discrete state-change detection, and a
// durable rotated event log.
package alerts

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// EventKind classifies an emitted event.
type EventKind string

const (
	KindThreshold        EventKind = "threshold"
	KindStateChange      EventKind = "state_change"
	KindAnomaly          EventKind = "anomaly"
	KindPredictedFailure EventKind = "predicted_failure"
)

// Severity ranks an event's impact.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one immutable occurrence tied to a series. Fingerprint
// identifies the (series, rule) pair across occurrences so resolution and
// acknowledgement can match later events to earlier ones.
type Event struct {
	ID           string            `json:"id" cbor:"1,keyasint"`
	Kind         EventKind         `json:"kind" cbor:"2,keyasint"`
	Severity     Severity          `json:"severity" cbor:"3,keyasint"`
	SeriesID     string            `json:"series_id" cbor:"4,keyasint"`
	Timestamp    int64             `json:"timestamp" cbor:"5,keyasint"`
	Value        float64           `json:"value" cbor:"6,keyasint"`
	Threshold    float64           `json:"threshold,omitempty" cbor:"7,keyasint,omitempty"`
	Message      string            `json:"message" cbor:"8,keyasint"`
	Fingerprint  string            `json:"fingerprint" cbor:"9,keyasint"`
	Resolved     bool              `json:"resolved" cbor:"10,keyasint"`
	Acknowledged bool              `json:"acknowledged" cbor:"11,keyasint"`
	Tags         map[string]string `json:"tags,omitempty" cbor:"12,keyasint,omitempty"`
}

func fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:8])
}

func eventID(fp string, ts int64) string {
	return fmt.Sprintf("%s-%d", fp, ts)
}

// NewEvent builds an event stamped with the current time when ts is zero.
func NewEvent(kind EventKind, severity Severity, seriesID string, ts int64, value float64, msg string) Event {
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	fp := fingerprint(string(kind), seriesID)
	return Event{
		ID:          eventID(fp, ts),
		Kind:        kind,
		Severity:    severity,
		SeriesID:    seriesID,
		Timestamp:   ts,
		Value:       value,
		Message:     msg,
		Fingerprint: fp,
	}
}
