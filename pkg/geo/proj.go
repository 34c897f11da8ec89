package geo

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/wroge/wgs84"
)

// Common coordinate reference systems.
const (
	WGS84       = 4326
	WebMercator = 3857
	Lambert93   = 2154
	RGF93       = 4171
	// NTF (Paris) / Lambert zone II, the pre-2009 cadastral system.
	LambertIIExtended = 27572
)

// ErrUnsupportedEPSG is returned for coordinate systems ToWGS84 cannot invert.
var ErrUnsupportedEPSG = errors.New("unsupported coordinate system")

// ntf is the Nouvelle Triangulation Française datum: Clarke 1880 (IGN)
// shifted to WGS84 by the IGN three-parameter translation.
var ntf = wgs84.Helmert(6378249.2, 6378249.2/(6378249.2-6356515.0), -168, -60, 320, 0, 0, 0, 0)

// crs holds the library's repository plus the French systems it lacks.
// RGR92, RGAF09, RGFG95, RGM04 and RGSPM06 are ITRF realisations and
// coincide with WGS84 well below the metre.
var crs = func() *wgs84.Repository {
	r := wgs84.EPSG()
	// Lambert II étendu is tangent at 46.8N with k0=0.99987742; the
	// equivalent secant parallels keep it on the 2SP projection.
	r.Add(LambertIIExtended, ntf.LambertConformalConic2SP(2.337229166666667, 46.8,
		45.898918964419, 47.696014502038, 600000, 2200000))
	for code, z := range map[int]struct {
		zone  float64
		north bool
	}{
		2972: {22, true},  // RGFG95 / UTM 22N, Guyane
		2975: {40, false}, // RGR92 / UTM 40S, La Réunion
		4467: {21, true},  // RGSPM06 / UTM 21N, Saint-Pierre-et-Miquelon
		4471: {38, false}, // RGM04 / UTM 38S, Mayotte
		5490: {20, true},  // RGAF09 / UTM 20N, Antilles
	} {
		r.Add(code, wgs84.UTM(z.zone, z.north))
	}
	return r
}()

// Supported reports whether epsg can be converted.
func Supported(epsg int) bool {
	return crs.Code(epsg) != nil
}

// SupportedCodes lists the convertible EPSG codes in ascending order.
func SupportedCodes() []int {
	codes := crs.Codes()
	slices.Sort(codes)
	return codes
}

// ToWGS84 converts (x, y) expressed in epsg into longitude and latitude degrees.
// For geographic systems such as EPSG:4326 x is the longitude.
func ToWGS84(x, y float64, epsg int) (lon, lat float64, err error) {
	from := crs.Code(epsg)
	if from == nil {
		return 0, 0, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedEPSG, epsg)
	}
	if epsg == WGS84 {
		return x, y, nil
	}
	lon, lat, _ = wgs84.Transform(from, wgs84.LonLat())(x, y, 0)
	if math.IsNaN(lon) || math.IsNaN(lat) {
		return 0, 0, fmt.Errorf("EPSG:%d (%g, %g) has no geographic position", epsg, x, y)
	}
	return lon, lat, nil
}
