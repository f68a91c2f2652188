package model

import (
	"time"
)

// Watchlist is an anonymous list of bridges addressed by its name in URLs.
// CalendarToken authorizes the calendar feed.
type Watchlist struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	CalendarToken string    `json:"calendar_token"`
	CreatedAt     time.Time `json:"created_at"`
}

// WatchlistBridge is one watched bridge with the label shown for it.
type WatchlistBridge struct {
	ID          int64     `json:"id"`
	WatchlistID int64     `json:"watchlist_id"`
	BridgeID    int64     `json:"bridge_id"`
	Label       string    `json:"label"`
	CreatedAt   time.Time `json:"created_at"`
}
