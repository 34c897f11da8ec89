package cityfinder

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/hazyhaar/french-cities/pkg/ban"
	"github.com/hazyhaar/french-cities/pkg/cog"
	"github.com/hazyhaar/french-cities/pkg/departement"
	"github.com/hazyhaar/french-cities/pkg/fuzzy"
	"github.com/hazyhaar/french-cities/pkg/geo"
	"github.com/hazyhaar/french-cities/pkg/nominatim"
	"github.com/hazyhaar/french-cities/pkg/normalize"
	"github.com/hazyhaar/french-cities/pkg/pool"
)

// Thresholds of the historical name match: token set first, plain ratio when
// the first pass finds nothing or only ties.
const (
	historyTokenSetCutoff = 80
	historyRatioCutoff    = 90
)

// crossCheck gives every record the departments its result must belong to:
// the supplied department, or the candidates of its postcode.
func (f *Finder) crossCheck(ctx context.Context, ru *run) error {
	var postcodes []string
	seen := make(map[string]bool)
	for _, rec := range ru.records {
		if rec.dep != "" {
			rec.checkDeps = []string{rec.dep}
			continue
		}
		if rec.postcode != "" && !seen[rec.postcode] {
			seen[rec.postcode] = true
			postcodes = append(postcodes, rec.postcode)
		}
	}
	if len(postcodes) == 0 {
		return nil
	}
	candidates, err := f.deps.FromPostcodes(ctx, postcodes)
	if err != nil {
		return fmt.Errorf("departments of postcodes: %w", err)
	}
	for _, rec := range ru.records {
		if rec.dep == "" {
			rec.checkDeps = candidates[rec.postcode]
		}
	}
	return nil
}

// historyEntry is one (name, code) pair of a department, any date.
type historyEntry struct {
	name, code string
}

// historyIndex groups every city name ever valid by department.
func (f *Finder) historyIndex(ctx context.Context) (map[string][]historyEntry, error) {
	f.historyMu.Lock()
	defer f.historyMu.Unlock()
	if f.history != nil {
		return f.history, nil
	}
	areas, err := f.ref.CitiesAndUltramarines(ctx, cog.AllDates)
	if err != nil {
		return nil, fmt.Errorf("historical cities: %w", err)
	}
	idx := make(map[string][]historyEntry)
	seen := make(map[string]bool)
	for _, a := range areas {
		dep := a.Parent
		if dep == "" {
			dep = departement.InseeDepartement(a.Code)
		}
		name := normalize.CityLabel(a.Label)
		key := dep + "|" + name + "|" + a.Code
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		idx[dep] = append(idx[dep], historyEntry{name: name, code: a.Code})
	}
	f.history = idx
	return idx, nil
}

// uniqueBest returns the code of the best-scoring choice, unless the best
// score is shared by choices pointing to different codes.
func uniqueBest(query string, choices, codes []string, scorer fuzzy.Scorer, cutoff float64) (string, bool) {
	best := fuzzy.ExtractBest(query, choices, scorer, cutoff)
	if len(best) == 0 {
		return "", false
	}
	code := codes[best[0].Index]
	for _, m := range best[1:] {
		if codes[m.Index] != code {
			return "", false
		}
	}
	return code, true
}

// fuzzyHistory matches labels against every name the cities of the checked
// departments ever had, then projects the match onto the target year.
func (f *Finder) fuzzyHistory(ctx context.Context, ru *run, pending []*record) error {
	var todo []*record
	for _, rec := range pending {
		if rec.cleaned != "" && len(rec.checkDeps) > 0 {
			todo = append(todo, rec)
		}
	}
	if len(todo) == 0 {
		return nil
	}
	idx, err := f.historyIndex(ctx)
	if err != nil {
		return err
	}

	matched := make(map[*record]string)
	var codes []string
	for _, rec := range todo {
		var names, nameCodes []string
		for _, dep := range rec.checkDeps {
			for _, e := range idx[dep] {
				names = append(names, e.name)
				nameCodes = append(nameCodes, e.code)
			}
		}
		code, ok := uniqueBest(rec.cleaned, names, nameCodes, fuzzy.TokenSetRatio, historyTokenSetCutoff)
		if !ok {
			code, ok = uniqueBest(rec.cleaned, names, nameCodes, fuzzy.Ratio, historyRatioCutoff)
		}
		if ok {
			matched[rec] = code
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		return nil
	}
	projected, err := f.projector.Project(ctx, codes, ru.year)
	if err != nil {
		return err
	}
	for rec, code := range matched {
		if p := projected[code]; p != "" {
			rec.resolve(p, "fuzzy_history", false)
		}
	}
	return nil
}

// accept applies the uniform filter on geocoder answers: same department as
// checked, and a label match or a sufficient geocoder score.
func accept(rec *record, res ban.Result, resDep string) bool {
	if res.CityCode == "" || resDep == "" || !slices.Contains(rec.checkDeps, resDep) {
		return false
	}
	if rec.cleaned == "" {
		return res.Score > 0.4
	}
	return fuzzy.TokenSetRatio(rec.cleaned, normalize.Label(res.City)) > 80 || res.Score > 0.6
}

func (f *Finder) banPostcodeCity(ctx context.Context, _ *run, pending []*record) error {
	return f.banStage(ctx, pending, "ban_postcode_city", ban.TypeMunicipality, true, func(r *record) string {
		if r.postcode == "" {
			return ""
		}
		return join(r.postcode, r.cleaned)
	})
}

func (f *Finder) banAddress(ctx context.Context, _ *run, pending []*record) error {
	return f.banStage(ctx, pending, "ban_address", "", false, func(r *record) string {
		if r.address == "" {
			return ""
		}
		return join(r.address, r.postcode, r.cleaned)
	})
}

func (f *Finder) banDepCity(ctx context.Context, _ *run, pending []*record) error {
	return f.banStage(ctx, pending, "ban_dep_city", ban.TypeMunicipality, true, func(r *record) string {
		dep := r.dep
		if dep == "" && len(r.checkDeps) == 1 {
			dep = r.checkDeps[0]
		}
		if dep == "" || r.cleaned == "" {
			return ""
		}
		return join(dep, r.cleaned)
	})
}

// banStage runs one field combination in bulk. With retrySingle, records the
// bulk answer did not satisfy are queried again one by one.
func (f *Finder) banStage(ctx context.Context, pending []*record, name, typ string, retrySingle bool, query func(*record) string) error {
	recs := make(map[string]*record)
	byID := make(map[string]ban.Query)
	var queries []ban.Query
	for i, rec := range pending {
		q := query(rec)
		if q == "" {
			continue
		}
		id := strconv.Itoa(i)
		bq := ban.Query{ID: id, Q: q}
		queries = append(queries, bq)
		recs[id], byID[id] = rec, bq
	}
	if len(queries) == 0 {
		return nil
	}
	f.logger.Info("request BAN", "stage", name, "queries", len(queries))
	results, err := f.geocoder.SearchCSV(ctx, queries, typ, false)
	if err != nil {
		return err
	}
	if err := f.acceptResults(ctx, recs, results, name); err != nil {
		return err
	}
	if !retrySingle {
		return nil
	}

	var retry []string
	for _, q := range queries {
		if !recs[q.ID].resolved() {
			retry = append(retry, q.ID)
		}
	}
	if len(retry) == 0 {
		return nil
	}
	singles, err := pool.Map(ctx, f.threads, retry, func(ctx context.Context, id string) (ban.Result, error) {
		res, err := f.geocoder.Search(ctx, byID[id], typ)
		if err != nil || res == nil {
			return ban.Result{}, err
		}
		return *res, nil
	})
	if err != nil {
		return err
	}
	return f.acceptResults(ctx, recs, singles, name)
}

func (f *Finder) acceptResults(ctx context.Context, recs map[string]*record, results map[string]ban.Result, stageName string) error {
	var codes []string
	for _, r := range results {
		if r.CityCode != "" {
			codes = append(codes, r.CityCode)
		}
	}
	deps, err := f.deps.FromInseeCodes(ctx, codes)
	if err != nil {
		return err
	}
	for id, r := range results {
		rec := recs[id]
		if rec == nil || rec.resolved() {
			continue
		}
		if accept(rec, r, deps[r.CityCode]) {
			rec.resolve(r.CityCode, stageName, true)
		}
	}
	return nil
}

// nominatimStage geocodes "<postcode> <label>", then "<department> <label>",
// joins the coordinates to boundaries and keeps cities of the checked department.
func (f *Finder) nominatimStage(ctx context.Context, _ *run, pending []*record) error {
	prefixes := []func(*record) string{
		func(r *record) string { return r.postcode },
		func(r *record) string {
			if r.dep != "" || len(r.checkDeps) != 1 {
				return r.dep
			}
			return r.checkDeps[0]
		},
	}
	memo := make(map[string]*nominatim.Place)
	for _, prefix := range prefixes {
		var recs []*record
		var pts []geo.Point
		for _, rec := range pending {
			p := prefix(rec)
			if rec.resolved() || rec.cleaned == "" || p == "" || len(rec.checkDeps) == 0 {
				continue
			}
			q := join(p, rec.cleaned)
			place, ok := memo[q]
			if !ok {
				var err error
				if place, err = f.places.Search(ctx, q); err != nil {
					return err
				}
				memo[q] = place
			}
			pt := geo.Point{X: math.NaN(), Y: math.NaN()}
			if place != nil {
				pt = geo.Point{X: place.Lon, Y: place.Lat}
			}
			recs = append(recs, rec)
			pts = append(pts, pt)
		}
		if len(recs) == 0 {
			continue
		}
		codes, err := f.locator.Locate(ctx, pts, geo.WGS84)
		if err != nil {
			return err
		}
		deps, err := f.deps.FromInseeCodes(ctx, codes)
		if err != nil {
			return err
		}
		for i, rec := range recs {
			if c := codes[i]; c != "" && slices.Contains(rec.checkDeps, deps[c]) {
				rec.resolve(c, "nominatim", true)
			}
		}
	}
	return nil
}

func join(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += p
	}
	return out
}
