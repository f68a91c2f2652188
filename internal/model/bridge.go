package model

import (
	"time"
)

// Bridge is a physical bridge from the OpenStreetMap catalog. OSMID is the
// stable identity; the enrichment fields are filled in lazily.
type Bridge struct {
	ID         int64             `json:"id"`
	OSMID      string            `json:"osm_id"`
	Name       string            `json:"name,omitempty"`
	City       string            `json:"city,omitempty"`
	Latitude   float64           `json:"latitude"`
	Longitude  float64           `json:"longitude"`
	BridgeType string            `json:"bridge_type,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`

	StreetName   string     `json:"street_name,omitempty"`
	WaterName    string     `json:"water_name,omitempty"`
	Neighborhood string     `json:"neighborhood,omitempty"`
	DisplayName  string     `json:"display_name,omitempty"`
	EnrichedAt   *time.Time `json:"enriched_at,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Enrichment is the set of derived attributes written back for one bridge.
type Enrichment struct {
	BridgeID     int64  `json:"bridge_id"`
	StreetName   string `json:"street_name,omitempty"`
	WaterName    string `json:"water_name,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
	DisplayName  string `json:"display_name"`
}
