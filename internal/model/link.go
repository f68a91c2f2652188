package model

import (
	"time"

	"github.com/sells-group/bridgeping/internal/geo"
)

// Link associates an opening location with its nearest bridge. The latitude
// and longitude are the opening side's rounded coordinate.
type Link struct {
	BridgeID    int64           `json:"bridge_id"`
	LocationKey geo.LocationKey `json:"opening_location_key"`
	Latitude    float64         `json:"latitude"`
	Longitude   float64         `json:"longitude"`
	CreatedAt   time.Time       `json:"created_at,omitempty"`
}

// NewLink builds a link for key pointing at bridgeID.
func NewLink(bridgeID int64, key geo.LocationKey) Link {
	return Link{BridgeID: bridgeID, LocationKey: key, Latitude: key.Lat(), Longitude: key.Lon()}
}
