package model

import "time"

// RunStatus represents the current state of a batch run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one execution of the scoring and recommendation pipeline over a
// snapshot of the instrument table.
type Run struct {
	ID          string     `json:"id"`
	Status      RunStatus  `json:"status"`
	ConfigHash  string     `json:"config_hash"`
	Instruments int        `json:"instruments"`
	Clients     int        `json:"clients"`
	Warnings    []Warning  `json:"warnings,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Recommendation is everything produced for one client in a run.
type Recommendation struct {
	ClientID   string           `json:"client_id" yaml:"client_id"`
	Profile    ClientProfile    `json:"profile" yaml:"profile"`
	Allocation TierAllocation   `json:"allocation" yaml:"allocation"`
	Portfolio  Portfolio        `json:"portfolio" yaml:"portfolio"`
	Projection ProjectionSeries `json:"projection" yaml:"projection"`
	Warnings   []Warning        `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}
