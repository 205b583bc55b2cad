package api

import (
	"github.com/mattjoyce/hbrun/internal/history"
	"github.com/mattjoyce/hbrun/internal/session"
)

// RunResponse is returned by POST /runs. Error carries launch failures, which
// still produce a report.
type RunResponse struct {
	session.Report
	Error string `json:"error,omitempty"`
}

// RunListResponse is returned by GET /runs.
type RunListResponse struct {
	Runs []history.Entry `json:"runs"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Subcommands   int    `json:"subcommands"`
	InFlight      int    `json:"in_flight"`
	HistoryOn     bool   `json:"history_enabled"`
}
