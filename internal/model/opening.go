// Package model defines the records shared by the ingest, linking and serving
// passes.
package model

import (
	"time"

	"github.com/sells-group/bridgeping/internal/geo"
)

// OpeningEvent is one version of a scheduled bridge opening from the NDW feed.
// Rows are append-only; a new version of a record is a new row.
type OpeningEvent struct {
	ID             int64     `json:"id"`
	IdentityKey    string    `json:"record_id"`
	SourceRecordID string    `json:"source_record_id"`
	Version        int       `json:"version"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	CreationTime   time.Time `json:"creation_time"`
	VersionTime    time.Time `json:"version_time"`
	Source         string    `json:"source"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// LocationKey returns the normalized key of the event's coordinate.
func (e OpeningEvent) LocationKey() geo.LocationKey {
	return geo.Normalize(e.Latitude, e.Longitude)
}

// Duration is the length of the opening window.
func (e OpeningEvent) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}

// ScheduledOpening is an opening event resolved to a watched bridge.
type ScheduledOpening struct {
	OpeningEvent
	BridgeID    int64  `json:"bridge_id"`
	BridgeLabel string `json:"bridge_label"`
	City        string `json:"city,omitempty"`
}
