// CLAUDE:SUMMARY City code resolution cascade: geolocation, historical fuzzy names, BAN field combinations, optional Nominatim, each stage on the records still unresolved.
package cityfinder

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/french-cities/pkg/ban"
	"github.com/hazyhaar/french-cities/pkg/cog"
	"github.com/hazyhaar/french-cities/pkg/departement"
	"github.com/hazyhaar/french-cities/pkg/geo"
	"github.com/hazyhaar/french-cities/pkg/metrics"
	"github.com/hazyhaar/french-cities/pkg/nominatim"
	"github.com/hazyhaar/french-cities/pkg/normalize"
	"github.com/hazyhaar/french-cities/pkg/table"
)

// Geocoder searches the address base in bulk or one query at a time.
type Geocoder interface {
	SearchCSV(ctx context.Context, queries []ban.Query, typ string, usePostcode bool) (map[string]ban.Result, error)
	Search(ctx context.Context, q ban.Query, typ string) (*ban.Result, error)
}

// Locator joins points to current city codes.
type Locator interface {
	Locate(ctx context.Context, pts []geo.Point, epsg int) ([]string, error)
}

// Projector projects city codes onto a year's nomenclature.
type Projector interface {
	Project(ctx context.Context, codes []string, year int) (map[string]string, error)
}

// PlaceSearcher geocodes free text into coordinates.
type PlaceSearcher interface {
	Search(ctx context.Context, q string) (*nominatim.Place, error)
}

// Finder resolves city codes.
type Finder struct {
	ref       *cog.Reference
	deps      *departement.Resolver
	projector Projector
	geocoder  Geocoder
	locator   Locator
	places    PlaceSearcher
	threads   int
	logger    *slog.Logger
	now       func() time.Time

	historyMu sync.Mutex
	history   map[string][]historyEntry
}

// New returns a Finder. locator and places may be nil, disabling the
// geolocation and Nominatim stages.
func New(ref *cog.Reference, deps *departement.Resolver, projector Projector, geocoder Geocoder,
	locator Locator, places PlaceSearcher, threads int, logger *slog.Logger) *Finder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finder{
		ref:       ref,
		deps:      deps,
		projector: projector,
		geocoder:  geocoder,
		locator:   locator,
		places:    places,
		threads:   threads,
		logger:    logger,
		now:       time.Now,
	}
}

// Reset drops the in-process index of historical city names.
func (f *Finder) Reset() {
	f.historyMu.Lock()
	f.history = nil
	f.historyMu.Unlock()
}

// record is one distinct combination of lexical fields.
type record struct {
	postcode, dep, city, address string
	cleaned                      string
	// checkDeps are the departments an accepted city must belong to.
	checkDeps []string
	code      string
	stage     string
	// current marks codes expressed in the current nomenclature.
	current bool
}

func (r *record) resolved() bool { return r.code != "" }

func (r *record) resolve(code, stage string, current bool) {
	r.code, r.stage, r.current = code, stage, current
}

// run is the state of one FindCity call.
type run struct {
	cols    Columns
	has     func(string) bool
	year    int
	current bool
	// nominatim enables the last-resort stage.
	nominatim bool
	records   []*record
}

// FindCity returns a copy of t with the resolved city code of each row in
// opts.Output. Unresolved rows get a null output.
func (f *Finder) FindCity(ctx context.Context, t *table.Table, opts Options) (*table.Table, error) {
	year, current, err := parseYear(opts.Year, f.now().Year())
	if err != nil {
		return nil, err
	}
	if opts.EPSG != 0 && !geo.Supported(opts.EPSG) {
		return nil, fmt.Errorf("%w: EPSG:%d is not a supported projection", ErrConfig, opts.EPSG)
	}
	cols := opts.Columns
	if cols == (Columns{}) {
		cols = DefaultColumns()
	}
	has := func(c string) bool { return c != "" && t.HasColumn(c) }
	withXY := has(cols.X) && has(cols.Y)
	if !withXY && !(has(cols.Postcode) && has(cols.City)) && !(has(cols.Dep) && has(cols.City)) {
		return nil, fmt.Errorf("%w: all columns among {%s, %s}, {%s, %s} or {%s, %s} are necessary",
			ErrConfig, cols.Postcode, cols.City, cols.Dep, cols.City, cols.X, cols.Y)
	}
	output := opts.Output
	if output == "" {
		output = DefaultOutput
	}

	out := t.Clone()
	out.AddColumn(output)
	ru := &run{cols: cols, has: has, year: year, current: current, nominatim: opts.UseNominatim}

	geoCodes := make([]string, len(out.Rows))
	switch {
	case !withXY:
	case opts.EPSG == 0:
		f.logger.Warn("x and y columns found without an EPSG projection, geolocation skipped")
	case f.locator == nil:
		f.logger.Warn("no boundary source configured, geolocation skipped")
	default:
		if geoCodes, err = f.geolocate(ctx, ru, out, opts.EPSG); err != nil {
			return nil, err
		}
	}

	// Rows sharing the same lexical fields share one record.
	rowRecord := make([]*record, len(out.Rows))
	byKey := make(map[string]*record)
	for i, row := range out.Rows {
		if geoCodes[i] != "" {
			continue
		}
		rec := &record{
			postcode: normalize.Postcode(cell(row, has, cols.Postcode)),
			dep:      normalizeDep(cell(row, has, cols.Dep)),
			city:     cell(row, has, cols.City),
			address:  cell(row, has, cols.Address),
		}
		if rec.city == "" && rec.postcode == "" && rec.dep == "" && rec.address == "" {
			continue
		}
		key := strings.Join([]string{rec.postcode, rec.dep, rec.city, rec.address}, "\x00")
		if existing, ok := byKey[key]; ok {
			rowRecord[i] = existing
			continue
		}
		byKey[key] = rec
		rowRecord[i] = rec
		ru.records = append(ru.records, rec)
	}

	if len(ru.records) > 0 {
		if err := f.cascade(ctx, ru); err != nil {
			return nil, err
		}
	}

	unresolved := 0
	for i, row := range out.Rows {
		code := geoCodes[i]
		if code == "" && rowRecord[i] != nil {
			code = rowRecord[i].code
		}
		row.Set(output, code)
		if code == "" {
			unresolved++
		}
	}
	metrics.UnresolvedTotal.Add(float64(unresolved))
	f.logger.Info("find city done", "rows", len(out.Rows), "unresolved", unresolved)
	return out, nil
}

// stage is one step of the lexical cascade. It only sees unresolved records.
type stage struct {
	name string
	run  func(context.Context, *run, []*record) error
}

func (f *Finder) cascade(ctx context.Context, ru *run) error {
	labels := normalize.NewCache(normalize.CityLabel)
	for _, rec := range ru.records {
		rec.cleaned = labels.Get(rec.city)
	}
	if err := f.crossCheck(ctx, ru); err != nil {
		return err
	}

	var stages []stage
	if ru.has(ru.cols.City) {
		stages = append(stages, stage{"fuzzy_history", f.fuzzyHistory})
	}
	if ru.has(ru.cols.Postcode) && ru.has(ru.cols.City) {
		stages = append(stages, stage{"ban_postcode_city", f.banPostcodeCity})
	}
	if ru.has(ru.cols.Address) && ru.has(ru.cols.Postcode) && ru.has(ru.cols.City) {
		stages = append(stages, stage{"ban_address", f.banAddress})
	}
	if ru.has(ru.cols.City) {
		stages = append(stages, stage{"ban_dep_city", f.banDepCity})
	}
	if ru.nominatim && f.places != nil && f.locator != nil {
		stages = append(stages, stage{"nominatim", f.nominatimStage})
	}

	for _, st := range stages {
		pending := unresolvedRecords(ru.records)
		if len(pending) == 0 {
			break
		}
		if err := st.run(ctx, ru, pending); err != nil {
			return fmt.Errorf("%s: %w", st.name, err)
		}
		n := len(pending) - len(unresolvedRecords(pending))
		metrics.StageResolvedTotal.WithLabelValues(st.name).Add(float64(n))
		f.logger.Info("stage done", "stage", st.name, "in", len(pending), "resolved", n)
	}

	return f.projectCurrent(ctx, ru)
}

// projectCurrent moves codes found in the current nomenclature to the target year.
func (f *Finder) projectCurrent(ctx context.Context, ru *run) error {
	if ru.current {
		return nil
	}
	var codes []string
	for _, rec := range ru.records {
		if rec.resolved() && rec.current {
			codes = append(codes, rec.code)
		}
	}
	if len(codes) == 0 {
		return nil
	}
	projected, err := f.projector.Project(ctx, codes, ru.year)
	if err != nil {
		return fmt.Errorf("project results to %d: %w", ru.year, err)
	}
	for _, rec := range ru.records {
		if rec.resolved() && rec.current {
			rec.code, rec.current = projected[rec.code], false
		}
	}
	return nil
}

func (f *Finder) geolocate(ctx context.Context, ru *run, t *table.Table, epsg int) ([]string, error) {
	if !ru.current {
		f.logger.Warn("boundaries are not vintaged: geolocation against a past year is approximate", "year", ru.year)
	}
	pts := make([]geo.Point, len(t.Rows))
	for i, row := range t.Rows {
		pts[i] = geo.Point{X: parseCoord(row.Value(ru.cols.X)), Y: parseCoord(row.Value(ru.cols.Y))}
	}
	codes, err := f.locator.Locate(ctx, pts, epsg)
	if err != nil {
		return nil, fmt.Errorf("geolocation: %w", err)
	}
	if !ru.current {
		projected, err := f.projector.Project(ctx, codes, ru.year)
		if err != nil {
			return nil, fmt.Errorf("project geolocated cities: %w", err)
		}
		for i, c := range codes {
			codes[i] = projected[c]
		}
	}
	n := 0
	for _, c := range codes {
		if c != "" {
			n++
		}
	}
	metrics.StageResolvedTotal.WithLabelValues("geoloc").Add(float64(n))
	f.logger.Info("stage done", "stage", "geoloc", "in", len(pts), "resolved", n)
	return codes, nil
}

func unresolvedRecords(records []*record) []*record {
	var out []*record
	for _, r := range records {
		if !r.resolved() {
			out = append(out, r)
		}
	}
	return out
}

func cell(row table.Row, has func(string) bool, col string) string {
	if !has(col) {
		return ""
	}
	return strings.TrimSpace(row.Value(col))
}

// normalizeDep restores the leading zero spreadsheets drop ("1" -> "01").
func normalizeDep(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) == 1 && s[0] >= '0' && s[0] <= '9' {
		return "0" + s
	}
	return s
}

func parseCoord(s string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
