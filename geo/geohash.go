package geo

import (
	"math"
	"strings"

	"github.com/mmcloughlin/geohash"
)

// StoredPrecision is the geohash length written on every located event.
const StoredPrecision = 10

const (
	base32        = "0123456789bcdefghjkmnpqrstuvwxyz"
	bitsPerChar   = 5
	maxBits       = 22 * bitsPerChar
	storedBits    = StoredPrecision * bitsPerChar
	metersPerLat  = 110574.0
	meridianCirc  = 40007860.0
	equatorRadius = 6378137.0
	eccentricity2 = 0.00669447819799
	epsilon       = 1e-12
)

// RangeEnd is the upper bound used when a range covers every hash with a
// given prefix. It sorts after every base32 character.
const RangeEnd = "~"

// Range is a half-open interval [Start, End) over geohash strings.
type Range struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Contains reports whether hash falls inside r.
func (r Range) Contains(hash string) bool {
	return hash >= r.Start && hash < r.End
}

// Encode returns the geohash of p at the given character precision.
func Encode(p Point, precision uint) string {
	return geohash.EncodeWithPrecision(p.Latitude, p.Longitude, precision)
}

// QueryBounds returns the geohash ranges whose union covers the circle of
// radiusMeters around center. Ranges may overshoot the circle; callers
// must confirm candidates with DistanceKm. The radius is in meters.
func QueryBounds(center Point, radiusMeters float64) []Range {
	bits := boundingBoxBits(center, radiusMeters)
	if bits < 1 {
		bits = 1
	}
	// Stored hashes are never longer than StoredPrecision characters.
	if bits > storedBits {
		bits = storedBits
	}
	precision := uint((bits + bitsPerChar - 1) / bitsPerChar)

	out := make([]Range, 0, 9)
	seen := make(map[Range]struct{}, 9)
	for _, p := range boundingBoxPoints(center, radiusMeters) {
		r := prefixRange(Encode(p, precision), bits)
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// prefixRange returns the range of hashes sharing the first bits bits of
// hash.
func prefixRange(hash string, bits int) Range {
	precision := (bits + bitsPerChar - 1) / bitsPerChar
	if len(hash) < precision {
		return Range{Start: hash, End: hash + RangeEnd}
	}
	hash = hash[:precision]
	base := hash[:len(hash)-1]
	last := strings.IndexByte(base32, hash[len(hash)-1])
	significant := bits - len(base)*bitsPerChar
	unused := bitsPerChar - significant

	start := (last >> unused) << unused
	end := start + (1 << unused)
	if end > len(base32)-1 {
		return Range{Start: base + string(base32[start]), End: base + RangeEnd}
	}
	return Range{Start: base + string(base32[start]), End: base + string(base32[end])}
}

// boundingBoxBits is the number of geohash bits whose cells are at least
// as large as the query box.
func boundingBoxBits(center Point, size float64) int {
	latDelta := size / metersPerLat
	north := math.Min(90, center.Latitude+latDelta)
	south := math.Max(-90, center.Latitude-latDelta)
	bitsLat := int(math.Floor(latitudeBits(size))) * 2
	bitsLngNorth := int(math.Floor(longitudeBits(size, north)))*2 - 1
	bitsLngSouth := int(math.Floor(longitudeBits(size, south)))*2 - 1
	return minInt(bitsLat, bitsLngNorth, bitsLngSouth, maxBits)
}

// boundingBoxPoints samples the centre, edges and corners of the box that
// encloses the circle.
func boundingBoxPoints(center Point, radius float64) []Point {
	latDeg := radius / metersPerLat
	north := math.Min(90, center.Latitude+latDeg)
	south := math.Max(-90, center.Latitude-latDeg)
	lngDeg := math.Max(metersToLongitudeDegrees(radius, north), metersToLongitudeDegrees(radius, south))
	west := wrapLongitude(center.Longitude - lngDeg)
	east := wrapLongitude(center.Longitude + lngDeg)

	pts := make([]Point, 0, 9)
	for _, lat := range []float64{center.Latitude, north, south} {
		for _, lng := range []float64{center.Longitude, west, east} {
			pts = append(pts, Point{Latitude: lat, Longitude: lng})
		}
	}
	return pts
}

func latitudeBits(resolution float64) float64 {
	return math.Min(math.Log2(meridianCirc/2/resolution), maxBits)
}

func longitudeBits(resolution, latitude float64) float64 {
	degs := metersToLongitudeDegrees(resolution, latitude)
	if math.Abs(degs) > 0.000001 {
		return math.Max(1, math.Log2(360/degs))
	}
	return 1
}

// metersToLongitudeDegrees converts a distance along a parallel into
// degrees of longitude on the WGS84 ellipsoid.
func metersToLongitudeDegrees(distance, latitude float64) float64 {
	rad := toRadians(latitude)
	num := math.Cos(rad) * equatorRadius * math.Pi / 180
	denom := 1 / math.Sqrt(1-eccentricity2*math.Sin(rad)*math.Sin(rad))
	delta := num * denom
	if delta < epsilon {
		if distance > 0 {
			return 360
		}
		return 0
	}
	return math.Min(360, distance/delta)
}

func wrapLongitude(lng float64) float64 {
	if lng >= -180 && lng <= 180 {
		return lng
	}
	adjusted := lng + 180
	if adjusted > 0 {
		return math.Mod(adjusted, 360) - 180
	}
	return 180 - math.Mod(-adjusted, 360)
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
