package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FailureKind says how a failure event was produced
type FailureKind string

const (
	AppDown       FailureKind = "APP_DOWN"
	ManualTrigger FailureKind = "MANUAL_TRIGGER"
)

// HealthCheckResult is the outcome of a single probe.
// Reachable is true only for a 200 response within the probe timeout.
type HealthCheckResult struct {
	Timestamp      time.Time `json:"timestamp"`
	Reachable      bool      `json:"reachable"`
	StatusCode     *int      `json:"status_code,omitempty"`
	LatencyMs      *int64    `json:"latency_ms,omitempty"`
	TransportError *string   `json:"transport_error,omitempty"`
}

// Describe renders the probe result as a short human readable line.
func (r HealthCheckResult) Describe() string {
	switch {
	case r.TransportError != nil:
		return fmt.Sprintf("unreachable: %s", *r.TransportError)
	case r.StatusCode != nil && r.LatencyMs != nil:
		return fmt.Sprintf("status %d in %dms", *r.StatusCode, *r.LatencyMs)
	case r.StatusCode != nil:
		return fmt.Sprintf("status %d", *r.StatusCode)
	default:
		return "no response"
	}
}

// FailureEvent is one detected or manually triggered outage.
// It is passed by value and never mutated after creation.
type FailureEvent struct {
	ID         string      `json:"id"`
	Kind       FailureKind `json:"kind"`
	StatusCode int         `json:"status_code"`
	Timestamp  time.Time   `json:"timestamp"`
	TargetURL  string      `json:"target_url"`
}

// NewFailureEvent creates a failure event stamped with a fresh id
func NewFailureEvent(kind FailureKind, statusCode int, targetURL string, at time.Time) FailureEvent {
	return FailureEvent{
		ID:         uuid.New().String(),
		Kind:       kind,
		StatusCode: statusCode,
		Timestamp:  at,
		TargetURL:  targetURL,
	}
}

// FailureFromProbe converts a failed probe into an AppDown event.
// A transport failure has no status code and is recorded as 0.
func FailureFromProbe(result HealthCheckResult, targetURL string) FailureEvent {
	code := 0
	if result.StatusCode != nil {
		code = *result.StatusCode
	}
	return NewFailureEvent(AppDown, code, targetURL, result.Timestamp)
}
