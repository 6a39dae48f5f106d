package geo

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrMalformedBounds is returned when the page URL carries no usable map
// bounds. Marker resolution yields no match for the whole batch then, and
// markers keep their prior visual state.
var ErrMalformedBounds = errors.New("malformed map bounds")

type LatLng struct {
	Lat float64
	Lng float64
}

// Bounds are the geographic corners of the visible map viewport.
type Bounds struct {
	NorthWest LatLng
	SouthEast LatLng
}

// ParseBounds reads the viewport corners from the search page URL's
// startloc/endloc query parameters.
func ParseBounds(pageURL string) (Bounds, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return Bounds{}, fmt.Errorf("%w: %w", ErrMalformedBounds, err)
	}

	params := u.Query()
	northWest, err := parseLatLng(params.Get("startloc"))
	if err != nil {
		return Bounds{}, fmt.Errorf("%w: startloc: %w", ErrMalformedBounds, err)
	}
	southEast, err := parseLatLng(params.Get("endloc"))
	if err != nil {
		return Bounds{}, fmt.Errorf("%w: endloc: %w", ErrMalformedBounds, err)
	}

	return Bounds{NorthWest: northWest, SouthEast: southEast}, nil
}

func parseLatLng(value string) (LatLng, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return LatLng{}, fmt.Errorf("expected lat,lng pair, got %q", value)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return LatLng{}, fmt.Errorf("invalid latitude %q", parts[0])
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return LatLng{}, fmt.Errorf("invalid longitude %q", parts[1])
	}
	return LatLng{Lat: lat, Lng: lng}, nil
}

// Resolver maps marker pixel offsets within the map container to
// geographic coordinates and finds the nearest known listing. It is built
// fresh for every marker batch; there is no incremental maintenance.
type Resolver struct {
	bounds Bounds
	width  float64
	height float64
	index  Index
}

func NewResolver(bounds Bounds, width, height float64, index Index) *Resolver {
	return &Resolver{bounds: bounds, width: width, height: height, index: index}
}

// Resolve converts a marker's pixel offset to a coordinate by linear
// interpolation between the viewport corners, then returns the nearest
// indexed listing URL. A degenerate viewport or empty index yields no
// match.
func (r *Resolver) Resolve(leftPx, topPx float64) (string, bool) {
	if r.width <= 0 || r.height <= 0 || len(r.index) == 0 {
		return "", false
	}

	coord := LatLng{
		Lat: r.bounds.NorthWest.Lat + topPx/r.height*(r.bounds.SouthEast.Lat-r.bounds.NorthWest.Lat),
		Lng: r.bounds.NorthWest.Lng + leftPx/r.width*(r.bounds.SouthEast.Lng-r.bounds.NorthWest.Lng),
	}

	return r.index.Nearest(coord)
}

// Coordinate ties a listing URL to its geographic position.
type Coordinate struct {
	URL string
	Lat float64
	Lng float64
}

// Index is the per-batch listing coordinate index, scanned linearly.
type Index []Coordinate

// Nearest returns the entry with the minimum Euclidean distance in lat/lng
// space. The viewport is small enough that geodesic distance buys nothing.
// Ties go to the earlier index entry.
func (idx Index) Nearest(p LatLng) (string, bool) {
	if len(idx) == 0 {
		return "", false
	}

	nearest := ""
	minDistance := -1.0
	for _, coord := range idx {
		dLat := p.Lat - coord.Lat
		dLng := p.Lng - coord.Lng
		distance := dLat*dLat + dLng*dLng

		if minDistance < 0 || distance < minDistance {
			nearest = coord.URL
			minDistance = distance
		}
	}

	return nearest, true
}
