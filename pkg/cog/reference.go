package cog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/french-cities/pkg/cache"
	"github.com/hazyhaar/french-cities/pkg/pool"
)

// Overseas collectivities split into one of these city-level types, tried in order.
var ultramarineChildTypes = []AreaType{Commune, CirconscriptionTerritoriale, District}

// Reference assembles the area lists the resolvers need on top of a Catalog.
type Reference struct {
	catalog Catalog
	bucket  *cache.Bucket
	threads int
	logger  *slog.Logger
	now     func() time.Time
}

// NewReference builds a Reference. Overseas city lists are cached in the
// ultramarine namespace of store.
func NewReference(catalog Catalog, store cache.Store, threads int, logger *slog.Logger) *Reference {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reference{
		catalog: catalog,
		bucket:  cache.NewBucket(store, cache.NSUltramarine),
		threads: threads,
		logger:  logger,
		now:     time.Now,
	}
}

// Catalog returns the underlying catalog.
func (r *Reference) Catalog() Catalog { return r.catalog }

// CurrentDate returns January 1st of the current year.
func (r *Reference) CurrentDate() string {
	return YearDate(r.now().Year())
}

// UltramarineCities returns the city-level areas of every overseas
// collectivity valid at date, each with Parent set to its collectivity.
// Descending relations do not support AllDates, which is replaced by the
// current date. With update set, the cached list is refetched.
func (r *Reference) UltramarineCities(ctx context.Context, date string, update bool) ([]Area, error) {
	coms, err := r.catalog.ListAreas(ctx, CollectiviteDOutreMer, date)
	if err != nil {
		return nil, err
	}
	if date == AllDates || date == "" {
		if date == AllDates {
			r.logger.Warn("descending relations do not support all dates, using current date instead",
				"area", CollectiviteDOutreMer, "date", r.CurrentDate())
		}
		date = r.CurrentDate()
	}

	if !update {
		cities, ok, err := cache.GetGob[[]Area](ctx, r.bucket, date)
		if err != nil {
			r.logger.Warn("ultramarine cache unreadable, refetching", "date", date, "error", err)
		} else if ok {
			return cities, nil
		}
	}

	codes := distinctCodes(coms)
	found, err := pool.Map(ctx, r.threads, codes, func(ctx context.Context, code string) ([]Area, error) {
		for _, childType := range ultramarineChildTypes {
			children, err := r.catalog.Descending(ctx, code, CollectiviteDOutreMer, date, childType)
			if err != nil {
				return nil, err
			}
			if len(children) > 0 {
				for i := range children {
					children[i].Parent = code
				}
				return children, nil
			}
		}
		r.logger.Info("no cities found for ultramarine territory", "code", code)
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ultramarine cities at %s: %w", date, err)
	}

	var cities []Area
	for _, code := range codes {
		cities = append(cities, found[code]...)
	}
	if err := cache.SetGob(ctx, r.bucket, date, cities); err != nil {
		return nil, err
	}
	return cities, nil
}

// CitiesAndUltramarines returns overseas city-level areas followed by the communes valid at date.
func (r *Reference) CitiesAndUltramarines(ctx context.Context, date string) ([]Area, error) {
	um, err := r.UltramarineCities(ctx, date, false)
	if err != nil {
		return nil, err
	}
	cities, err := r.catalog.ListAreas(ctx, Commune, date)
	if err != nil {
		return nil, err
	}
	out := make([]Area, 0, len(um)+len(cities))
	out = append(out, um...)
	return append(out, cities...), nil
}

// DepartementsAndUltramarines returns overseas collectivities followed by the departments valid at date.
func (r *Reference) DepartementsAndUltramarines(ctx context.Context, date string) ([]Area, error) {
	coms, err := r.catalog.ListAreas(ctx, CollectiviteDOutreMer, date)
	if err != nil {
		return nil, err
	}
	deps, err := r.catalog.ListAreas(ctx, Departement, date)
	if err != nil {
		return nil, err
	}
	out := make([]Area, 0, len(coms)+len(deps))
	out = append(out, coms...)
	return append(out, deps...), nil
}

// DepartementCodes returns the set of department and collectivity codes valid at date.
func (r *Reference) DepartementCodes(ctx context.Context, date string) (map[string]bool, error) {
	areas, err := r.DepartementsAndUltramarines(ctx, date)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(areas))
	for _, a := range areas {
		set[a.Code] = true
	}
	return set, nil
}

func distinctCodes(areas []Area) []string {
	seen := make(map[string]bool, len(areas))
	var out []string
	for _, a := range areas {
		if !seen[a.Code] {
			seen[a.Code] = true
			out = append(out, a.Code)
		}
	}
	return out
}
