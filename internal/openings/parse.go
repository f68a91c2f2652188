package openings

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bridgeping/internal/geo"
	"github.com/sells-group/bridgeping/internal/model"
)

// Parse errors. A record failing with any of them is skipped, not fatal.
var (
	ErrMissingID          = eris.New("openings: missing record id")
	ErrBadVersion         = eris.New("openings: bad version")
	ErrBadTimestamp       = eris.New("openings: bad timestamp")
	ErrMissingCoordinates = eris.New("openings: missing coordinates")
	ErrBadCoordinates     = eris.New("openings: bad coordinates")
	ErrInvalidWindow      = eris.New("openings: start after end")
)

const (
	defaultVersion = "1"
	defaultSource  = "Unknown"
	defaultStatus  = "unknown"
)

// IdentityKey is the stable identity of one version of a record.
func IdentityKey(recordID, version string) string {
	if version == "" {
		version = defaultVersion
	}
	return recordID + "_v" + version
}

// IsBridgeOpening reports whether the record belongs in the opening store.
func (r RawRecord) IsBridgeOpening() bool {
	return r.ManagementType == BridgeOpeningType
}

// Parse validates a raw record and converts it to an event. Timestamps are
// returned in UTC with fractional seconds dropped.
func Parse(r RawRecord) (model.OpeningEvent, error) {
	var ev model.OpeningEvent

	id := strings.TrimSpace(r.ID)
	if id == "" {
		return ev, ErrMissingID
	}
	version := strings.TrimSpace(r.Version)
	if version == "" {
		version = defaultVersion
	}
	n, err := strconv.Atoi(version)
	if err != nil || n < 0 {
		return ev, eris.Wrapf(ErrBadVersion, "record %s version %q", id, version)
	}

	times := []struct {
		name string
		raw  string
		dst  *time.Time
	}{
		{"creation", r.CreationTime, &ev.CreationTime},
		{"version", r.VersionTime, &ev.VersionTime},
		{"start", r.StartTime, &ev.StartTime},
		{"end", r.EndTime, &ev.EndTime},
	}
	for _, ts := range times {
		t, err := ParseTimestamp(ts.raw)
		if err != nil {
			return ev, eris.Wrapf(err, "record %s %s time", id, ts.name)
		}
		*ts.dst = t
	}
	if ev.StartTime.After(ev.EndTime) {
		return ev, eris.Wrapf(ErrInvalidWindow, "record %s", id)
	}

	if strings.TrimSpace(r.Latitude) == "" || strings.TrimSpace(r.Longitude) == "" {
		return ev, eris.Wrapf(ErrMissingCoordinates, "record %s", id)
	}
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(r.Latitude), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(r.Longitude), 64)
	if latErr != nil || lonErr != nil || !geo.Valid(lat, lon) {
		return ev, eris.Wrapf(ErrBadCoordinates, "record %s (%q, %q)", id, r.Latitude, r.Longitude)
	}

	ev.IdentityKey = IdentityKey(id, version)
	ev.SourceRecordID = id
	ev.Version = n
	ev.Latitude = lat
	ev.Longitude = lon
	ev.Source = orDefault(r.Source, defaultSource)
	ev.Status = orDefault(r.Status, defaultStatus)
	return ev, nil
}

// ParseTimestamp parses an RFC 3339 instant with or without fractional seconds.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(ErrBadTimestamp, "%q", s)
	}
	return t.UTC().Truncate(time.Second), nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
