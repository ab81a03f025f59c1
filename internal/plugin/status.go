package plugin

import "time"

type Snapshot struct {
	Time    time.Time `json:"time"`
	Plugins []Status  `json:"plugins"`
}

type Status struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Running bool   `json:"running"`

	Quarantined   bool      `json:"quarantined"`
	QuarantineErr string    `json:"quarantine_err,omitempty"`
	QuarantinedAt time.Time `json:"quarantined_at,omitempty"`

	Health string `json:"health,omitempty"`
	// Goroutines counts the plugin supervisor's active tasks.
	Goroutines int64 `json:"goroutines"`
}
