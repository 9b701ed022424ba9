package domain

import (
	"fmt"
	"time"
)

const (
	HealthStatusOK          HealthStatus = "ok"
	HealthStatusTimeout     HealthStatus = "timeout"
	HealthStatusUnreachable HealthStatus = "unreachable"
	HealthStatusUnknown     HealthStatus = "unknown"
)

// HealthStatus is the outcome of the most recent ping against a server.
type HealthStatus string

// Duration wraps time.Duration to render human-readable latency in JSON.
type Duration time.Duration

// ServerHealth is one server's ping-derived health record.
type ServerHealth struct {
	Name           string       `json:"name"`
	Status         HealthStatus `json:"status"`
	Latency        *Duration    `json:"latency"`
	LastChecked    *time.Time   `json:"last_checked"`
	LastSuccessful *time.Time   `json:"last_successful"`
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	s := fmt.Sprintf(`"%s"`, time.Duration(*d).String())
	return []byte(s), nil
}
