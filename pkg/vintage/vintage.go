// CLAUDE:SUMMARY Projects city codes onto a target year's nomenclature: overseas rule table, current lookup with sub-area parents, then oldest-first historical projections.
package vintage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/french-cities/pkg/cache"
	"github.com/hazyhaar/french-cities/pkg/cog"
	"github.com/hazyhaar/french-cities/pkg/metrics"
	"github.com/hazyhaar/french-cities/pkg/pool"
	"github.com/hazyhaar/french-cities/pkg/table"
)

// StartingDates are the historical nomenclatures a projection is tried from,
// oldest first. The first one yielding a result wins.
var StartingDates = []string{"1943-01-01", "1960-01-01", "1980-01-01", "2000-01-01", "2010-01-01"}

// inseeRequestsPerMinute is used for the duration estimate only.
const inseeRequestsPerMinute = 30

// Projector maps city codes onto a target vintage.
type Projector struct {
	ref     *cog.Reference
	bucket  *cache.Bucket
	rules   *RuleTable
	dates   []string
	threads int
	logger  *slog.Logger
}

// New returns a Projector. Historical projections are memoized in the
// projection namespace of store.
func New(ref *cog.Reference, store cache.Store, threads int, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		ref:     ref,
		bucket:  cache.NewBucket(store, cache.NSProjection),
		rules:   NewRuleTable(UltramarineRules),
		dates:   StartingDates,
		threads: threads,
		logger:  logger,
	}
}

// SetVintage returns a copy of t where field holds codes valid in year.
// Codes without any projection become null.
func (p *Projector) SetVintage(ctx context.Context, t *table.Table, year int, field string) (*table.Table, error) {
	out := t.Clone()
	codes := out.Distinct(field)
	if len(codes) == 0 {
		return out, nil
	}
	projected, err := p.Project(ctx, codes, year)
	if err != nil {
		return nil, err
	}
	for _, r := range out.Rows {
		if v, ok := r.Get(field); ok {
			r.Set(field, projected[v])
		}
	}
	return out, nil
}

// Project returns, for every distinct non-empty code, its equivalent in
// year's nomenclature or "" when none is found.
func (p *Projector) Project(ctx context.Context, codes []string, year int) (map[string]string, error) {
	target := cog.YearDate(year)
	targetTime := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)

	out := make(map[string]string)
	var pending []string
	seen := make(map[string]bool)
	for _, c := range codes {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		if v, ok := p.rules.Lookup(c, targetTime); ok {
			out[c] = v
			continue
		}
		pending = append(pending, c)
	}
	if len(pending) == 0 {
		return out, nil
	}

	current, err := p.currentLookup(ctx, target, pending)
	if err != nil {
		return nil, err
	}
	var obsolete []string
	for _, c := range pending {
		if v, ok := current[c]; ok {
			out[c] = v
		} else {
			obsolete = append(obsolete, c)
		}
	}
	if len(obsolete) == 0 {
		return out, nil
	}

	if minutes := len(obsolete) / inseeRequestsPerMinute; minutes >= 1 {
		p.logger.Warn("historical projections are rate-limited, this may take a while",
			"codes", len(obsolete), "estimated_max_minutes", minutes+1)
	}
	past, err := pool.Map(ctx, p.threads, obsolete, func(ctx context.Context, code string) (string, error) {
		return p.projectFromPast(ctx, code, target)
	})
	if err != nil {
		return nil, fmt.Errorf("project codes to %s: %w", target, err)
	}
	for _, c := range obsolete {
		if past[c] == "" {
			metrics.ProjectionMissesTotal.Inc()
			p.logger.Error("no projection found for city", "code", c, "target", target)
		}
		out[c] = past[c]
	}
	return out, nil
}

// currentLookup maps the looked-for codes valid at target to themselves, and
// sub-areas valid at target to their parent city. Cities take precedence,
// then municipal arrondissements, associated and delegated communes.
func (p *Projector) currentLookup(ctx context.Context, target string, lookFor []string) (map[string]string, error) {
	want := make(map[string]bool, len(lookFor))
	for _, c := range lookFor {
		want[c] = true
	}

	cities, err := p.ref.CitiesAndUltramarines(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("cities at %s: %w", target, err)
	}
	out := make(map[string]string)
	for _, a := range cities {
		if want[a.Code] {
			out[a.Code] = a.Code
		}
	}

	catalog := p.ref.Catalog()
	for _, t := range cog.SubAreaTypes {
		subs, err := catalog.ListAreas(ctx, t, target)
		if err != nil {
			return nil, fmt.Errorf("%s at %s: %w", t, target, err)
		}
		for _, a := range subs {
			if !want[a.Code] {
				continue
			}
			if _, done := out[a.Code]; done {
				continue
			}
			parent, err := catalog.Ascending(ctx, a.Code, t, target, cog.Commune)
			if err != nil {
				return nil, err
			}
			if parent != "" {
				out[a.Code] = parent
			}
		}
	}
	return out, nil
}

func (p *Projector) cacheKey(code, target string) string {
	return code + "|" + strings.Join(p.dates, ",") + "|" + target
}

// projectFromPast tries every starting date in order and keeps the first
// non-empty projection. Only successful projections are memoized.
func (p *Projector) projectFromPast(ctx context.Context, code, target string) (string, error) {
	key := p.cacheKey(code, target)
	if v, ok, err := p.bucket.Get(ctx, key); err != nil {
		p.logger.Warn("projection cache unreadable", "key", key, "error", err)
	} else if ok {
		return string(v), nil
	}

	catalog := p.ref.Catalog()
	for _, date := range p.dates {
		a, err := catalog.Project(ctx, code, cog.Commune, date, target)
		if err != nil {
			return "", err
		}
		if a == nil || a.Code == "" {
			continue
		}
		if err := p.bucket.Set(ctx, key, []byte(a.Code)); err != nil {
			return "", err
		}
		return a.Code, nil
	}
	return "", nil
}
