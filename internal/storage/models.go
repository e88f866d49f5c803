package storage

import "time"

// RunRecord is the audit entry for one simulation request. Only metadata
// is stored; result series are never persisted.
type RunRecord struct {
	ID          string     `json:"id" db:"id"`
	RequestID   string     `json:"request_id" db:"request_id"`
	Status      string     `json:"status" db:"status"` // success, validation, timeout, engine_failed, ...
	FailedState string     `json:"failed_state,omitempty" db:"failed_state"`
	Error       string     `json:"error,omitempty" db:"error"`
	Duration    int        `json:"duration" db:"duration"`
	Volatility  float64    `json:"volatility" db:"volatility"`
	Seed        int64      `json:"seed" db:"seed"`
	NumAssets   int        `json:"num_assets" db:"num_assets"`
	Exposures   []float64  `json:"exposures" db:"exposures"`
	Points      int        `json:"points" db:"points"`
	DurationMS  int64      `json:"duration_ms" db:"duration_ms"`
	ClientIP    string     `json:"client_ip" db:"client_ip"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// RunFilter provides criteria for querying runs.
type RunFilter struct {
	Status string
	Since  *time.Time
	Limit  int
	Offset int
}
