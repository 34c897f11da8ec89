// CLAUDE:SUMMARY Point-in-polygon join of coordinates against commune boundaries, using S2 loops and cell-grouped boundary fetches.
package geo

import (
	"github.com/golang/geo/s2"
)

// LonLat is a WGS84 position, longitude first as in GeoJSON.
type LonLat [2]float64

// Boundary is the outline of one commune: polygons made of rings, the first
// ring of each polygon being its shell.
type Boundary struct {
	Code     string
	Polygons [][][]LonLat
}

type shape struct {
	code  string
	poly  *s2.Polygon
	bound s2.Rect
}

// Index answers point-in-polygon queries over a set of boundaries.
type Index struct {
	shapes []shape
}

// NewIndex builds an Index. Rings with fewer than three distinct vertices are skipped.
func NewIndex(boundaries []Boundary) *Index {
	ix := &Index{}
	for _, b := range boundaries {
		for _, rings := range b.Polygons {
			var loops []*s2.Loop
			for _, ring := range rings {
				if l := ringLoop(ring); l != nil {
					loops = append(loops, l)
				}
			}
			if len(loops) == 0 {
				continue
			}
			poly := s2.PolygonFromLoops(loops)
			ix.shapes = append(ix.shapes, shape{code: b.Code, poly: poly, bound: poly.RectBound()})
		}
	}
	return ix
}

// ringLoop converts a GeoJSON ring into a normalized loop so that ring
// orientation in the source data does not matter.
func ringLoop(ring []LonLat) *s2.Loop {
	if n := len(ring); n > 1 && ring[0] == ring[n-1] {
		ring = ring[:n-1]
	}
	if len(ring) < 3 {
		return nil
	}
	pts := make([]s2.Point, len(ring))
	for i, p := range ring {
		pts[i] = s2.PointFromLatLng(s2.LatLngFromDegrees(p[1], p[0]))
	}
	l := s2.LoopFromPoints(pts)
	l.Normalize()
	return l
}

// Len returns the number of indexed polygons.
func (ix *Index) Len() int { return len(ix.shapes) }

// Locate returns the code of the commune containing (lon, lat), or "".
// On shared borders the lowest code wins.
func (ix *Index) Locate(lon, lat float64) string {
	ll := s2.LatLngFromDegrees(lat, lon)
	p := s2.PointFromLatLng(ll)
	found := ""
	for _, s := range ix.shapes {
		if !s.bound.ContainsLatLng(ll) || !s.poly.ContainsPoint(p) {
			continue
		}
		if found == "" || s.code < found {
			found = s.code
		}
	}
	return found
}
