// Package label turns a bridge record into a human-readable name.
package label

import (
	"fmt"
	"strings"

	"github.com/sells-group/bridgeping/internal/model"
)

// OpeningsMarker is appended to labels of bridges that have opening links.
const OpeningsMarker = " ⏰"

// Resolve returns the display label for b. The first non-empty candidate wins:
// name, enriched display name, "street over water", "street Bridge", each
// suffixed with the city when known; then "Bridge in city"; then the
// coordinates. The result is never empty.
func Resolve(b model.Bridge) string {
	name := strings.TrimSpace(b.Name)
	display := strings.TrimSpace(b.DisplayName)
	street := strings.TrimSpace(b.StreetName)
	water := strings.TrimSpace(b.WaterName)
	city := strings.TrimSpace(b.City)

	switch {
	case name != "":
		return withCity(name, city)
	case display != "":
		return withCity(display, city)
	case street != "" && water != "":
		return withCity(street+" over "+water, city)
	case street != "":
		return withCity(street+" Bridge", city)
	case city != "":
		return "Bridge in " + city
	default:
		return fmt.Sprintf("Bridge at %.5f, %.5f", b.Latitude, b.Longitude)
	}
}

// WithOpeningsMarker decorates a label for a bridge that has openings.
func WithOpeningsMarker(label string) string {
	if strings.HasSuffix(label, OpeningsMarker) {
		return label
	}
	return label + OpeningsMarker
}

func withCity(s, city string) string {
	if city == "" {
		return s
	}
	return s + ", " + city
}
