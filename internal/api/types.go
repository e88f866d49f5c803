package api

import (
	"factor-heston-sim/internal/engine"
	"factor-heston-sim/internal/storage"
)

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
	RunID     string `json:"run_id,omitempty"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string          `json:"status"`
	Engines  []engine.Status `json:"engines"`
	Database *bool           `json:"database,omitempty"`
	Pool     *PoolStatus     `json:"pool,omitempty"`
	Uptime   string          `json:"uptime"`
}

// PoolStatus reports worker pool occupancy.
type PoolStatus struct {
	Workers int   `json:"workers"`
	Active  int64 `json:"active"`
	Waiting int64 `json:"waiting"`
}

// RunListResponse wraps a page of audited runs.
type RunListResponse struct {
	Runs   []storage.RunRecord `json:"runs"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}
