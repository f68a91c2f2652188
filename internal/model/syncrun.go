package model

import (
	"time"
)

// Pass names a batch pass recorded in the sync log.
type Pass string

const (
	PassOpenings Pass = "openings"
	PassBridges  Pass = "bridges"
	PassEnrich   Pass = "enrich"
	PassLink     Pass = "link"
)

// SyncStatus is the state of a sync run.
type SyncStatus string

const (
	SyncStatusRunning  SyncStatus = "running"
	SyncStatusComplete SyncStatus = "complete"
	SyncStatusFailed   SyncStatus = "failed"
)

// SyncRun is one row of the sync log.
type SyncRun struct {
	ID          string         `json:"id"`
	Pass        Pass           `json:"pass"`
	Status      SyncStatus     `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	RowsSynced  int64          `json:"rows_synced"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SyncResult is what a pass reports when it completes.
type SyncResult struct {
	RowsSynced int64          `json:"rows_synced"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
