package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/golang/geo/s2"

	"github.com/hazyhaar/french-cities/pkg/httpx"
)

// DefaultWFSURL is the IGN Géoplateforme WFS endpoint.
const DefaultWFSURL = "https://data.geopf.fr/wfs/ows"

// DefaultLayer holds the current commune boundaries of ADMIN EXPRESS COG.
const DefaultLayer = "ADMINEXPRESS-COG.LATEST:commune"

const wfsPageSize = 1000

// Source provides the commune boundaries intersecting a cell.
type Source interface {
	Boundaries(ctx context.Context, cell s2.CellID) ([]Boundary, error)
}

// WFS fetches boundaries from an OGC WFS 2.0 server returning GeoJSON.
type WFS struct {
	base   string
	layer  string
	client *httpx.Client
}

// NewWFS returns a WFS source. Empty base and layer select the IGN defaults.
func NewWFS(base, layer string, client *httpx.Client) *WFS {
	if base == "" {
		base = DefaultWFSURL
	}
	if layer == "" {
		layer = DefaultLayer
	}
	return &WFS{base: base, layer: layer, client: client}
}

type wfsGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

type wfsCollection struct {
	Features []struct {
		Properties map[string]any `json:"properties"`
		Geometry   *wfsGeometry   `json:"geometry"`
	} `json:"features"`
}

var codeProperties = []string{"code_insee", "insee_com", "INSEE_COM"}

// Boundaries pages through every commune whose geometry intersects cell.
func (w *WFS) Boundaries(ctx context.Context, cell s2.CellID) ([]Boundary, error) {
	rect := s2.CellFromCellID(cell).RectBound()
	bbox := strings.Join([]string{
		ftoa(rect.Lo().Lat.Degrees()), ftoa(rect.Lo().Lng.Degrees()),
		ftoa(rect.Hi().Lat.Degrees()), ftoa(rect.Hi().Lng.Degrees()),
		"urn:ogc:def:crs:EPSG::4326",
	}, ",")

	var out []Boundary
	for start := 0; ; start += wfsPageSize {
		q := url.Values{
			"SERVICE":      {"WFS"},
			"VERSION":      {"2.0.0"},
			"REQUEST":      {"GetFeature"},
			"TYPENAMES":    {w.layer},
			"OUTPUTFORMAT": {"application/json"},
			"SRSNAME":      {"EPSG:4326"},
			"BBOX":         {bbox},
			"COUNT":        {strconv.Itoa(wfsPageSize)},
			"STARTINDEX":   {strconv.Itoa(start)},
		}
		endpoint := w.base + "?" + q.Encode()
		var fc wfsCollection
		if err := w.client.GetJSON(ctx, endpoint, http.Header{"Accept": {"application/json"}}, &fc); err != nil {
			return nil, fmt.Errorf("wfs cell %s: %w", cell.ToToken(), err)
		}
		for _, f := range fc.Features {
			b, err := decodeFeature(f.Properties, f.Geometry)
			if err != nil {
				return nil, &httpx.UpstreamError{Service: w.client.Service(), URL: endpoint, Err: err}
			}
			if b.Code != "" {
				out = append(out, b)
			}
		}
		if len(fc.Features) < wfsPageSize {
			return out, nil
		}
	}
}

func decodeFeature(props map[string]any, geom *wfsGeometry) (Boundary, error) {
	var b Boundary
	for _, k := range codeProperties {
		if v, ok := props[k].(string); ok && v != "" {
			b.Code = v
			break
		}
	}
	if geom == nil {
		return b, nil
	}
	switch geom.Type {
	case "Polygon":
		var rings [][][]float64
		if err := json.Unmarshal(geom.Coordinates, &rings); err != nil {
			return b, fmt.Errorf("polygon %s: %w", b.Code, err)
		}
		b.Polygons = [][][]LonLat{toRings(rings)}
	case "MultiPolygon":
		var polys [][][][]float64
		if err := json.Unmarshal(geom.Coordinates, &polys); err != nil {
			return b, fmt.Errorf("multipolygon %s: %w", b.Code, err)
		}
		for _, rings := range polys {
			b.Polygons = append(b.Polygons, toRings(rings))
		}
	default:
		return b, fmt.Errorf("unexpected geometry %q for %s", geom.Type, b.Code)
	}
	return b, nil
}

func toRings(rings [][][]float64) [][]LonLat {
	out := make([][]LonLat, 0, len(rings))
	for _, ring := range rings {
		r := make([]LonLat, 0, len(ring))
		for _, p := range ring {
			if len(p) >= 2 {
				r = append(r, LonLat{p[0], p[1]})
			}
		}
		out = append(out, r)
	}
	return out
}

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', 6, 64) }
