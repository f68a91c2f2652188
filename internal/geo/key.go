// Package geo canonicalizes coordinates into comparable keys and provides the
// small amount of planar geometry the linker needs.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

const (
	// LinkPrecision is the number of decimals in a LocationKey (~11 m).
	LinkPrecision = 4
	// ClusterPrecision is the number of decimals in a ClusterKey (~1 m).
	ClusterPrecision = 5
)

// LocationKey is a coordinate rounded to LinkPrecision decimals. Values are held
// as integer multiples of 1e-4 degree so equal rounded coordinates always
// compare equal and hash identically.
type LocationKey struct {
	lat int64
	lon int64
}

// Normalize rounds a coordinate to a LocationKey. It is total: callers reject
// NaN or out-of-range input before calling it (see Valid).
func Normalize(lat, lon float64) LocationKey {
	return LocationKey{lat: units(lat, LinkPrecision), lon: units(lon, LinkPrecision)}
}

// Lat returns the rounded latitude.
func (k LocationKey) Lat() float64 { return float64(k.lat) / 1e4 }

// Lon returns the rounded longitude.
func (k LocationKey) Lon() float64 { return float64(k.lon) / 1e4 }

// String renders the key as "lat,lon" with exactly four decimals.
func (k LocationKey) String() string {
	return formatUnits(k.lat, LinkPrecision) + "," + formatUnits(k.lon, LinkPrecision)
}

// ParseLocationKey parses a key previously produced by LocationKey.String.
// Inputs with more precision are re-normalized.
func ParseLocationKey(s string) (LocationKey, error) {
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return LocationKey{}, eris.Errorf("geo: malformed location key %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return LocationKey{}, eris.Wrapf(err, "geo: parse latitude of %q", s)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return LocationKey{}, eris.Wrapf(err, "geo: parse longitude of %q", s)
	}
	if !Valid(lat, lon) {
		return LocationKey{}, eris.Errorf("geo: location key %q out of range", s)
	}
	return Normalize(lat, lon), nil
}

// MustParseLocationKey is ParseLocationKey for constants and tests.
func MustParseLocationKey(s string) LocationKey {
	k, err := ParseLocationKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Less orders keys by latitude, then longitude.
func (k LocationKey) Less(o LocationKey) bool {
	if k.lat != o.lat {
		return k.lat < o.lat
	}
	return k.lon < o.lon
}

// ClusterKey is a coordinate rounded to ClusterPrecision decimals. It is finer
// than LocationKey so that distinct adjacent bridges are not merged.
type ClusterKey struct {
	lat int64
	lon int64
}

// Cluster rounds a coordinate to a ClusterKey.
func Cluster(lat, lon float64) ClusterKey {
	return ClusterKey{lat: units(lat, ClusterPrecision), lon: units(lon, ClusterPrecision)}
}

// String renders the key as "lat,lon" with exactly five decimals.
func (k ClusterKey) String() string {
	return formatUnits(k.lat, ClusterPrecision) + "," + formatUnits(k.lon, ClusterPrecision)
}

// Valid reports whether a coordinate is finite and within WGS84 range.
func Valid(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// units converts v to an integer count of 10^-decimals. Rounding goes through
// strconv, which rounds the exact binary value, so the result never depends on
// how v*10^decimals happens to round in float arithmetic.
func units(v float64, decimals int) int64 {
	s := strconv.FormatFloat(v, 'f', decimals, 64)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	s = strings.Replace(s, ".", "", 1)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Only reachable for NaN/Inf, which callers filter out.
		return 0
	}
	if neg {
		n = -n
	}
	return n
}

func formatUnits(n int64, decimals int) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	scale := int64(math.Pow10(decimals))
	return fmt.Sprintf("%s%d.%0*d", sign, n/scale, decimals, n%scale)
}
