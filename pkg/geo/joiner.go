package geo

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/golang/geo/s2"

	"github.com/hazyhaar/french-cities/pkg/cache"
	"github.com/hazyhaar/french-cities/pkg/pool"
)

// CellLevel groups points before fetching boundaries (about 10 km cells).
const CellLevel = 10

// Point is a coordinate pair in the caller's reference system.
type Point struct {
	X, Y float64
}

// Joiner maps points to current commune codes.
type Joiner struct {
	src     Source
	bucket  *cache.Bucket
	cells   *cache.LRU[s2.CellID, *Index]
	threads int
	logger  *slog.Logger
}

// NewJoiner returns a Joiner reading boundaries from src. Fetched cells are kept
// in an in-process LRU and persisted in the geo namespace of store.
func NewJoiner(src Source, store cache.Store, threads int, logger *slog.Logger) *Joiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Joiner{
		src:     src,
		bucket:  cache.NewBucket(store, cache.NSGeo),
		cells:   cache.NewLRU[s2.CellID, *Index](256, 0),
		threads: threads,
		logger:  logger,
	}
}

// Locate returns, for each point, the code of the commune containing it or ""
// when the point is invalid or outside every known boundary.
func (j *Joiner) Locate(ctx context.Context, pts []Point, epsg int) ([]string, error) {
	if !Supported(epsg) {
		return nil, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedEPSG, epsg)
	}
	type located struct {
		ll   s2.LatLng
		cell s2.CellID
		ok   bool
	}
	where := make([]located, len(pts))
	var cells []s2.CellID
	seen := make(map[s2.CellID]bool)
	for i, p := range pts {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) {
			continue
		}
		lon, lat, err := ToWGS84(p.X, p.Y, epsg)
		if err != nil {
			j.logger.Debug("point skipped", "x", p.X, "y", p.Y, "error", err)
			continue
		}
		ll := s2.LatLngFromDegrees(lat, lon)
		if !ll.IsValid() {
			continue
		}
		cell := s2.CellIDFromLatLng(ll).Parent(CellLevel)
		where[i] = located{ll: ll, cell: cell, ok: true}
		if !seen[cell] {
			seen[cell] = true
			cells = append(cells, cell)
		}
	}

	indexes, err := pool.Map(ctx, j.threads, cells, j.cellIndex)
	if err != nil {
		return nil, err
	}

	out := make([]string, len(pts))
	for i, w := range where {
		if w.ok {
			out[i] = indexes[w.cell].Locate(w.ll.Lng.Degrees(), w.ll.Lat.Degrees())
		}
	}
	return out, nil
}

func (j *Joiner) cellIndex(ctx context.Context, cell s2.CellID) (*Index, error) {
	if ix, ok := j.cells.Get(cell); ok {
		return ix, nil
	}
	key := cell.ToToken()
	boundaries, ok, err := cache.GetGob[[]Boundary](ctx, j.bucket, key)
	if err != nil {
		j.logger.Warn("boundary cache unreadable, refetching", "cell", key, "error", err)
	}
	if !ok {
		boundaries, err = j.src.Boundaries(ctx, cell)
		if err != nil {
			return nil, err
		}
		if err := cache.SetGob(ctx, j.bucket, key, boundaries); err != nil {
			return nil, err
		}
		j.logger.Debug("boundaries fetched", "cell", key, "communes", len(boundaries))
	}
	ix := NewIndex(boundaries)
	j.cells.Set(cell, ix)
	return ix, nil
}

// Reset drops the in-process cells.
func (j *Joiner) Reset() {
	j.cells.DeleteFunc(func(s2.CellID) bool { return true })
}
