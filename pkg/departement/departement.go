// CLAUDE:SUMMARY Resolves department codes from city codes, postcodes (postal table, BAN, Cedex, naive fallback) or free-text department names.
package departement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hazyhaar/french-cities/pkg/ban"
	"github.com/hazyhaar/french-cities/pkg/cache"
	"github.com/hazyhaar/french-cities/pkg/cog"
	"github.com/hazyhaar/french-cities/pkg/fuzzy"
	"github.com/hazyhaar/french-cities/pkg/metrics"
	"github.com/hazyhaar/french-cities/pkg/normalize"
	"github.com/hazyhaar/french-cities/pkg/pool"
	"github.com/hazyhaar/french-cities/pkg/postal"
	"github.com/hazyhaar/french-cities/pkg/table"
)

// Kind is the nature of the values departments are derived from.
type Kind string

const (
	KindPostcode  Kind = "postcode"
	KindInseeCode Kind = "insee"
	KindLabel     Kind = "label"
)

// DefaultAlias is the output column used when Options.Alias is empty.
const DefaultAlias = "DEP"

// labelCutoff is the minimum Ratio for a department name match.
const labelCutoff = 80

// ErrUnknownKind is returned for an unsupported Options.Kind.
var ErrUnknownKind = errors.New("unknown department source kind")

// ErrMissingColumn is returned when Options.Source is not a column of the table.
var ErrMissingColumn = errors.New("source column not found")

// PostcodeTable maps postcodes to city codes.
type PostcodeTable interface {
	Lookup(ctx context.Context, postcodes []string) (map[string][]string, error)
}

// Geocoder runs bulk address searches.
type Geocoder interface {
	SearchCSV(ctx context.Context, queries []ban.Query, typ string, usePostcode bool) (map[string]ban.Result, error)
}

// CedexSource lists the candidate cities of a Cedex code.
type CedexSource interface {
	Lookup(ctx context.Context, code string) ([]postal.CedexRecord, error)
}

// VintageProjector projects city codes onto a year's nomenclature.
type VintageProjector interface {
	Project(ctx context.Context, codes []string, year int) (map[string]string, error)
}

// Resolver derives department codes.
type Resolver struct {
	ref       *cog.Reference
	postcodes PostcodeTable
	geocoder  Geocoder
	cedex     CedexSource
	projector VintageProjector
	bucket    *cache.Bucket
	threads   int
	logger    *slog.Logger
	now       func() time.Time
}

// New returns a Resolver. Unambiguous postcode results are cached in the deps
// namespace of store. projector may be nil when insee codes never need projecting.
func New(ref *cog.Reference, postcodes PostcodeTable, geocoder Geocoder, cedex CedexSource,
	projector VintageProjector, store cache.Store, threads int, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		ref:       ref,
		postcodes: postcodes,
		geocoder:  geocoder,
		cedex:     cedex,
		projector: projector,
		bucket:    cache.NewBucket(store, cache.NSDeps),
		threads:   threads,
		logger:    logger,
		now:       time.Now,
	}
}

// Options drive FindDepartements.
type Options struct {
	// Source is the column holding postcodes, city codes or labels.
	Source string
	// Alias is the output column (DefaultAlias when empty).
	Alias string
	Kind  Kind
	// AuthorizeDuplicates keeps one row per candidate department for postcodes
	// spanning several departments, instead of nulling them.
	AuthorizeDuplicates bool
	// ProjectVintage projects city codes onto the current year before
	// deriving their department (KindInseeCode only).
	ProjectVintage bool
}

// FindDepartements returns a copy of t with the department of each row's
// Source value in Alias.
func (r *Resolver) FindDepartements(ctx context.Context, t *table.Table, opts Options) (*table.Table, error) {
	if opts.Alias == "" {
		opts.Alias = DefaultAlias
	}
	if !t.HasColumn(opts.Source) {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, opts.Source)
	}
	out := t.Clone()
	out.AddColumn(opts.Alias)
	values := out.Distinct(opts.Source)

	var single map[string]string
	switch opts.Kind {
	case KindPostcode:
		multi, err := r.FromPostcodes(ctx, values)
		if err != nil {
			return nil, err
		}
		if opts.AuthorizeDuplicates {
			return fanOut(out, opts.Source, opts.Alias, multi), nil
		}
		single = Unambiguous(multi)
	case KindInseeCode:
		codes := values
		var projected map[string]string
		if opts.ProjectVintage && r.projector != nil {
			var err error
			if projected, err = r.projector.Project(ctx, values, r.now().Year()); err != nil {
				return nil, err
			}
			codes = nil
			for _, v := range values {
				if p := projected[v]; p != "" {
					codes = append(codes, p)
				}
			}
		}
		deps, err := r.FromInseeCodes(ctx, codes)
		if err != nil {
			return nil, err
		}
		single = deps
		if projected != nil {
			single = make(map[string]string, len(values))
			for _, v := range values {
				single[v] = deps[projected[v]]
			}
		}
	case KindLabel:
		deps, err := r.FromLabels(ctx, values)
		if err != nil {
			return nil, err
		}
		single = deps
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, opts.Kind)
	}

	for _, row := range out.Rows {
		if v, ok := row.Get(opts.Source); ok {
			row.Set(opts.Alias, single[v])
		}
	}
	return out, nil
}

// fanOut writes each row's candidates, duplicating rows with several departments.
func fanOut(t *table.Table, source, alias string, candidates map[string][]string) *table.Table {
	rows := make([]table.Row, 0, len(t.Rows))
	for _, row := range t.Rows {
		v, _ := row.Get(source)
		deps := candidates[v]
		if len(deps) <= 1 {
			if len(deps) == 1 {
				row.Set(alias, deps[0])
			}
			rows = append(rows, row)
			continue
		}
		for _, d := range deps {
			dup := make(table.Row, len(row)+1)
			for k, val := range row {
				dup[k] = val
			}
			dup.Set(alias, d)
			rows = append(rows, dup)
		}
	}
	t.Rows = rows
	return t
}

// Unambiguous keeps the values with exactly one candidate department.
func Unambiguous(candidates map[string][]string) map[string]string {
	out := make(map[string]string, len(candidates))
	for k, deps := range candidates {
		if len(deps) == 1 {
			out[k] = deps[0]
		}
	}
	return out
}

// InseeDepartement applies the code prefix rule: two characters, or three
// for overseas codes starting with "97". It does not validate the result.
func InseeDepartement(code string) string {
	if len(code) < 2 {
		return ""
	}
	if code[:2] == "97" && len(code) >= 3 {
		return code[:3]
	}
	return code[:2]
}

// FromInseeCodes maps city codes to their department, keeping only
// departments and overseas collectivities known at any date.
func (r *Resolver) FromInseeCodes(ctx context.Context, codes []string) (map[string]string, error) {
	out := make(map[string]string, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	valid, err := r.ref.DepartementCodes(ctx, cog.AllDates)
	if err != nil {
		return nil, fmt.Errorf("department codes: %w", err)
	}
	for _, c := range codes {
		if dep := InseeDepartement(c); valid[dep] {
			out[c] = dep
		}
	}
	return out, nil
}

// FromLabels matches free-text department names against the official names
// of departments and overseas collectivities.
func (r *Resolver) FromLabels(ctx context.Context, labels []string) (map[string]string, error) {
	areas, err := r.ref.DepartementsAndUltramarines(ctx, cog.AllDates)
	if err != nil {
		return nil, fmt.Errorf("department names: %w", err)
	}
	var choices, codes []string
	seen := make(map[string]bool)
	for _, a := range areas {
		name := normalize.Label(a.Label)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		choices = append(choices, name)
		codes = append(codes, a.Code)
	}

	out := make(map[string]string, len(labels))
	for _, l := range labels {
		m, ok := fuzzy.ExtractOne(normalize.Label(l), choices, fuzzy.Ratio, labelCutoff)
		if ok {
			out[l] = codes[m.Index]
		}
	}
	return out, nil
}

// FromPostcodes returns every candidate department of each postcode, sorted.
// Stages run in order on the postcodes still unresolved: cache, postal table,
// bulk geocoder, Cedex dataset, then the city code prefix rule applied to the
// postcode itself. Postcodes with a single candidate are cached.
func (r *Resolver) FromPostcodes(ctx context.Context, postcodes []string) (map[string][]string, error) {
	out := make(map[string][]string)
	// raw input -> padded postcode
	padded := make(map[string]string, len(postcodes))
	var pending []string
	queued := make(map[string]bool)
	for _, raw := range postcodes {
		pc := normalize.Postcode(raw)
		if pc == "" {
			continue
		}
		padded[raw] = pc
		if v, ok, err := r.bucket.Get(ctx, pc); err != nil {
			r.logger.Warn("departments cache unreadable", "postcode", pc, "error", err)
		} else if ok {
			out[pc] = []string{string(v)}
			continue
		}
		if !queued[pc] {
			queued[pc] = true
			pending = append(pending, pc)
		}
	}
	cached := len(out)

	stages := []struct {
		name string
		run  func(context.Context, []string) (map[string][]string, error)
	}{
		{"dep_postal_table", r.fromPostalTable},
		{"dep_geocoder", r.fromGeocoder},
		{"dep_cedex", r.fromCedex},
		{"dep_naive", r.fromPrefix},
	}
	for _, st := range stages {
		if len(pending) == 0 {
			break
		}
		found, err := st.run(ctx, pending)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", st.name, err)
		}
		var rest []string
		for _, pc := range pending {
			if deps := found[pc]; len(deps) > 0 {
				out[pc] = deps
			} else {
				rest = append(rest, pc)
			}
		}
		metrics.StageResolvedTotal.WithLabelValues(st.name).Add(float64(len(pending) - len(rest)))
		r.logger.Info("postcode stage done", "stage", st.name, "in", len(pending), "resolved", len(pending)-len(rest))
		pending = rest
	}

	for pc, deps := range out {
		if len(deps) != 1 {
			continue
		}
		if err := r.bucket.Set(ctx, pc, []byte(deps[0])); err != nil {
			return nil, err
		}
	}
	r.logger.Debug("postcodes resolved", "cached", cached, "unresolved", len(pending))

	// Report under the caller's raw values as well.
	for raw, pc := range padded {
		if raw != pc {
			if deps, ok := out[pc]; ok {
				out[raw] = deps
			}
		}
	}
	return out, nil
}

func (r *Resolver) fromPostalTable(ctx context.Context, postcodes []string) (map[string][]string, error) {
	if r.postcodes == nil {
		return nil, nil
	}
	cities, err := r.postcodes.Lookup(ctx, postcodes)
	if err != nil {
		return nil, err
	}
	var all []string
	for _, codes := range cities {
		all = append(all, codes...)
	}
	deps, err := r.FromInseeCodes(ctx, all)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(cities))
	for pc, codes := range cities {
		for _, c := range codes {
			out[pc] = addSorted(out[pc], deps[c])
		}
	}
	return out, nil
}

func (r *Resolver) fromGeocoder(ctx context.Context, postcodes []string) (map[string][]string, error) {
	if r.geocoder == nil {
		return nil, nil
	}
	queries := make([]ban.Query, len(postcodes))
	for i, pc := range postcodes {
		queries[i] = ban.Query{ID: pc, Q: pc, Postcode: pc}
	}
	res, err := r.geocoder.SearchCSV(ctx, queries, "", true)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(res))
	for pc, hit := range res {
		if dep := hit.Departement(); dep != "" {
			out[pc] = []string{dep}
		}
	}
	return out, nil
}

func (r *Resolver) fromCedex(ctx context.Context, postcodes []string) (map[string][]string, error) {
	if r.cedex == nil {
		return nil, nil
	}
	r.logger.Info("postcodes unknown to the postal table and the geocoder, trying Cedex codes", "count", len(postcodes))
	best, err := pool.Map(ctx, r.threads, postcodes, func(ctx context.Context, pc string) (string, error) {
		records, err := r.cedex.Lookup(ctx, pc)
		if err != nil {
			return "", err
		}
		return bestCedex(records), nil
	})
	if err != nil {
		return nil, err
	}
	var codes []string
	for _, c := range best {
		if c != "" {
			codes = append(codes, c)
		}
	}
	deps, err := r.FromInseeCodes(ctx, codes)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(best))
	for pc, c := range best {
		if dep := deps[c]; dep != "" {
			out[pc] = []string{dep}
		}
	}
	return out, nil
}

// bestCedex picks the candidate whose routing label best matches its city name.
// Ties keep the first candidate.
func bestCedex(records []postal.CedexRecord) string {
	best, top := "", -1.0
	for _, rec := range records {
		if rec.Insee == "" {
			continue
		}
		score := fuzzy.TokenSetRatio(normalize.CityLabel(rec.Libelle), normalize.CityLabel(rec.NomCom))
		if score > top {
			best, top = rec.Insee, score
		}
	}
	return best
}

func (r *Resolver) fromPrefix(ctx context.Context, postcodes []string) (map[string][]string, error) {
	deps, err := r.FromInseeCodes(ctx, postcodes)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(deps))
	for pc, dep := range deps {
		out[pc] = []string{dep}
	}
	return out, nil
}

func addSorted(list []string, v string) []string {
	if v == "" {
		return list
	}
	i, found := slices.BinarySearch(list, v)
	if found {
		return list
	}
	return slices.Insert(list, i, v)
}
