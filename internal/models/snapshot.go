package models

import (
	"strings"
	"time"
)

// DatacenterRole identifies which side of the deployment a signal refers to.
type DatacenterRole string

const (
	RolePrimary   DatacenterRole = "primary"
	RoleSecondary DatacenterRole = "secondary"
)

// DatacenterHealth summarises the lifecycle state of one datacenter as seen
// through the management API. Reachable=false means the API itself could not
// be queried; the state fields are then empty.
type DatacenterHealth struct {
	Reachable     bool
	InstanceState string
	JobState      string
	JobHealth     string
}

// Healthy reports whether the datacenter is reachable with a running,
// healthy job.
func (h DatacenterHealth) Healthy() bool {
	return h.Reachable && strings.EqualFold(h.JobState, "running") && strings.EqualFold(h.JobHealth, "healthy")
}

// StatusSnapshot is the result of one poll cycle across all signal sources.
// Immutable once created; partial snapshots (some sources failed) are valid.
type StatusSnapshot struct {
	Timestamp       time.Time
	PrimaryHealth   DatacenterHealth
	SecondaryHealth DatacenterHealth
	Metrics         map[string]float64
	LogHits         []string
	// Errors holds one note per signal source that failed during this
	// poll. Absence of signal is informative and must be recorded.
	Errors []string
}
