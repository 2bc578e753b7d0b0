// Package geo provides the spherical distance and averaging primitives used
// by gate discovery and deduplication. Points are orb.Point values, which
// store coordinates as [lon, lat].
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// EarthRadius is the mean Earth radius in metres.
const EarthRadius = 6371000.0

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// Distance returns the great-circle distance between a and b in metres
// using the Haversine formula.
func Distance(a, b orb.Point) float64 {
	lat1 := radians(a.Lat())
	lat2 := radians(b.Lat())
	dLat := radians(b.Lat() - a.Lat())
	dLon := radians(b.Lon() - a.Lon())

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadius * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Centroid returns the arithmetic mean of the latitudes and longitudes of
// points. The zero point is returned for an empty slice.
func Centroid(points []orb.Point) orb.Point {
	if len(points) == 0 {
		return orb.Point{}
	}
	var sumLat, sumLon float64
	for _, p := range points {
		sumLat += p.Lat()
		sumLon += p.Lon()
	}
	n := float64(len(points))
	return orb.Point{sumLon / n, sumLat / n}
}

// Spread returns the diagonal of the bounding box of points in metres.
func Spread(points []orb.Point) float64 {
	if len(points) < 2 {
		return 0
	}
	b := orb.MultiPoint(points).Bound()
	return Distance(b.Min, b.Max)
}

// Offset returns the point reached by travelling meters from p along the
// initial bearing (degrees clockwise from north).
func Offset(p orb.Point, bearingDeg, meters float64) orb.Point {
	lat1 := radians(p.Lat())
	lon1 := radians(p.Lon())
	brg := radians(bearingDeg)
	ang := meters / EarthRadius

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ang) + math.Cos(lat1)*math.Sin(ang)*math.Cos(brg))
	lon2 := lon1 + math.Atan2(
		math.Sin(brg)*math.Sin(ang)*math.Cos(lat1),
		math.Cos(ang)-math.Sin(lat1)*math.Sin(lat2),
	)
	return orb.Point{degrees(lon2), degrees(lat2)}
}

// Projection maps points near an origin onto a local plane in metres
// (equirectangular). Adequate for venue-sized areas.
type Projection struct {
	origin orb.Point
	cosLat float64
}

// NewProjection returns a projection centred on origin.
func NewProjection(origin orb.Point) Projection {
	return Projection{origin: origin, cosLat: math.Cos(radians(origin.Lat()))}
}

// Forward returns the planar (x east, y north) offset of p from the origin in metres.
func (pr Projection) Forward(p orb.Point) (x, y float64) {
	x = radians(p.Lon()-pr.origin.Lon()) * pr.cosLat * EarthRadius
	y = radians(p.Lat()-pr.origin.Lat()) * EarthRadius
	return x, y
}
