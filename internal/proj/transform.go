package proj

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// CRS is a coordinate reference system identified by its EPSG code
type CRS int

// Supported reference systems
const (
	Unknown     CRS = 0
	WGS84       CRS = 4326 // lon/lat, the frame map extracts are published in
	GDA94       CRS = 4283 // Australian census 2016 and earlier
	GDA2020     CRS = 7844 // Australian census 2021
	NAD83       CRS = 4269 // US TIGER
	WebMercator CRS = 3857
)

// ErrUnsupportedCRS is returned when two reference systems cannot be reconciled.
// Joining geometries across such systems silently produces wrong results, so callers
// must treat it as a precondition failure.
var ErrUnsupportedCRS = eris.New("unsupported coordinate reference system")

// geographic holds the lon/lat datums this package treats as coincident.
// The offsets between them are below two metres, far under the size of a
// statistical area, so no datum shift is applied.
var geographic = map[CRS]bool{
	WGS84:   true,
	GDA94:   true,
	GDA2020: true,
	NAD83:   true,
}

// IsGeographic reports whether coordinates are degrees of longitude and latitude
func (c CRS) IsGeographic() bool {
	return geographic[c]
}

// Supported reports whether c can take part in a transformation
func (c CRS) Supported() bool {
	return c.IsGeographic() || c == WebMercator
}

func (c CRS) String() string {
	if c == Unknown {
		return "unknown"
	}
	return "EPSG:" + strconv.Itoa(int(c))
}

// ParseCRS parses "4326", "EPSG:4326" or "epsg:7844"
func ParseCRS(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if len(s) > 5 && strings.EqualFold(s[:5], "EPSG:") {
		s = s[5:]
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return Unknown, eris.Wrapf(ErrUnsupportedCRS, "cannot parse %q", s)
	}
	crs := CRS(code)
	if !crs.Supported() {
		return Unknown, eris.Wrapf(ErrUnsupportedCRS, "%s", crs)
	}
	return crs, nil
}

// FromWKT guesses the CRS named by an ESRI .prj / OGC WKT definition.
// Returns Unknown when nothing recognisable is found.
func FromWKT(wkt string) CRS {
	upper := strings.ToUpper(wkt)
	switch {
	case strings.Contains(upper, "PSEUDO_MERCATOR"), strings.Contains(upper, "PSEUDO-MERCATOR"),
		strings.Contains(upper, "WEB_MERCATOR"):
		return WebMercator
	case strings.HasPrefix(upper, "PROJCS"):
		// Any other projected system is out of reach.
		return Unknown
	case strings.Contains(upper, "GDA2020"):
		return GDA2020
	case strings.Contains(upper, "GDA_1994"), strings.Contains(upper, "GDA94"):
		return GDA94
	case strings.Contains(upper, "NAD_1983"), strings.Contains(upper, "NAD83"),
		strings.Contains(upper, "NORTH_AMERICAN_1983"), strings.Contains(upper, "NORTH_AMERICAN_DATUM_1983"):
		return NAD83
	case strings.Contains(upper, "WGS_1984"), strings.Contains(upper, "WGS 84"), strings.Contains(upper, "WGS84"):
		return WGS84
	}
	return Unknown
}

// Transformer converts coordinates between two reference systems
type Transformer struct {
	Source CRS
	Target CRS
}

// NewTransformer creates a transformer from source to target
func NewTransformer(source, target CRS) (*Transformer, error) {
	if !source.Supported() {
		return nil, eris.Wrapf(ErrUnsupportedCRS, "source %s", source)
	}
	if !target.Supported() {
		return nil, eris.Wrapf(ErrUnsupportedCRS, "target %s", target)
	}
	return &Transformer{Source: source, Target: target}, nil
}

// NeedsTransform returns true if coordinates actually change
func (t *Transformer) NeedsTransform() bool {
	return t.Source.IsGeographic() != t.Target.IsGeographic()
}

// Transform converts x, y (lon, lat for geographic systems) from source to target
func (t *Transformer) Transform(x, y float64) (float64, float64) {
	switch {
	case !t.NeedsTransform():
		return x, y
	case t.Target == WebMercator:
		return lonLatToWebMercator(x, y)
	default:
		return webMercatorToLonLat(x, y)
	}
}

const (
	// Semi-major axis of WGS84 ellipsoid in meters
	earthRadius = 6378137.0
	// Maximum extent of Web Mercator
	maxExtent = 20037508.342789244
	// Latitude limit of the Web Mercator square
	maxLat = 85.06
)

func lonLatToWebMercator(lon, lat float64) (x, y float64) {
	if lat > maxLat {
		lat = maxLat
	} else if lat < -maxLat {
		lat = -maxLat
	}

	x = lon * maxExtent / 180.0

	// y = R * ln(tan(π/4 + φ/2))
	latRad := lat * math.Pi / 180.0
	y = math.Log(math.Tan(math.Pi/4.0+latRad/2.0)) * earthRadius

	return x, y
}

func webMercatorToLonLat(x, y float64) (lon, lat float64) {
	lon = x * 180.0 / maxExtent
	lat = (2*math.Atan(math.Exp(y/earthRadius)) - math.Pi/2) * 180.0 / math.Pi
	return lon, lat
}
