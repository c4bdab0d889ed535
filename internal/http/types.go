package http

import (
	"time"

	"github.com/fyrsmithlabs/orgchart/internal/refresh"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// StatusResponse is the response body for GET /api/status.
type StatusResponse struct {
	HasData           bool            `json:"has_data"`
	Employees         int             `json:"employees"`
	BuiltAt           *time.Time      `json:"built_at,omitempty"`
	AgeSeconds        int64           `json:"age_seconds"`
	Refreshing        bool            `json:"refreshing"`
	Offline           bool            `json:"offline"`
	NextRefresh       *time.Time      `json:"next_refresh,omitempty"`
	LastRefresh       *refresh.Result `json:"last_refresh,omitempty"`
	ServerTime        time.Time       `json:"server_time"`
	NewEmployeeMonths int             `json:"new_employee_months"`
}

// UpdateResponse is the response body for POST /api/update-now and a
// successful POST /api/force-update.
type UpdateResponse struct {
	Status    string `json:"status"`
	Employees *int   `json:"employees,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Error string `json:"error"`
}
