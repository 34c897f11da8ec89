package cityfinder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/french-cities/pkg/ban"
	"github.com/hazyhaar/french-cities/pkg/cache"
	"github.com/hazyhaar/french-cities/pkg/cog"
	"github.com/hazyhaar/french-cities/pkg/departement"
	"github.com/hazyhaar/french-cities/pkg/geo"
	"github.com/hazyhaar/french-cities/pkg/nominatim"
	"github.com/hazyhaar/french-cities/pkg/table"
)

type postcodeTable map[string][]string

func (p postcodeTable) Lookup(_ context.Context, postcodes []string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, pc := range postcodes {
		if v, ok := p[pc]; ok {
			out[pc] = v
		}
	}
	return out, nil
}

type fakeGeocoder struct {
	mu      sync.Mutex
	results map[string]ban.Result
	bulk    []string
	single  []string
}

func (g *fakeGeocoder) SearchCSV(_ context.Context, queries []ban.Query, _ string, _ bool) (map[string]ban.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]ban.Result)
	for _, q := range queries {
		g.bulk = append(g.bulk, q.Q)
		out[q.ID] = g.results[q.Q]
	}
	return out, nil
}

func (g *fakeGeocoder) Search(_ context.Context, q ban.Query, _ string) (*ban.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.single = append(g.single, q.Q)
	if r, ok := g.results["single:"+q.Q]; ok {
		return &r, nil
	}
	return nil, nil
}

type fakeLocator map[float64]string

func (l fakeLocator) Locate(_ context.Context, pts []geo.Point, _ int) ([]string, error) {
	out := make([]string, len(pts))
	for i, p := range pts {
		out[i] = l[p.X]
	}
	return out, nil
}

type fakeProjector struct {
	mu    sync.Mutex
	years []int
	remap map[string]string
}

func (p *fakeProjector) Project(_ context.Context, codes []string, year int) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.years = append(p.years, year)
	out := make(map[string]string)
	for _, c := range codes {
		if c == "" {
			continue
		}
		if v, ok := p.remap[c]; ok {
			out[c] = v
		} else {
			out[c] = c
		}
	}
	return out, nil
}

type fakePlaces map[string]*nominatim.Place

func (f fakePlaces) Search(_ context.Context, q string) (*nominatim.Place, error) {
	return f[q], nil
}

type fixture struct {
	finder    *Finder
	geocoder  *fakeGeocoder
	projector *fakeProjector
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := cache.NewMemory(0)
	now := cog.YearDate(time.Now().Year())

	catalog := cog.NewMemory().
		AddAreas(cog.Departement, cog.AllDates,
			cog.Area{Code: "02"}, cog.Area{Code: "13"}, cog.Area{Code: "20"}, cog.Area{Code: "2A"},
			cog.Area{Code: "59"}, cog.Area{Code: "69"}, cog.Area{Code: "75"}, cog.Area{Code: "83"}).
		AddAreas(cog.CollectiviteDOutreMer, cog.AllDates, cog.Area{Code: "977"}).
		AddChildren(cog.CollectiviteDOutreMer, "977", now, cog.Commune, cog.Area{Code: "97701", Label: "Saint-Barthélemy"}).
		AddAreas(cog.Commune, cog.AllDates,
			cog.Area{Code: "75056", Label: "Paris"},
			cog.Area{Code: "2A004", Label: "Ajaccio"},
			cog.Area{Code: "20004", Label: "Ajaccio"},
			cog.Area{Code: "02731", Label: "Sourd"},
			cog.Area{Code: "02731", Label: "Sourd"},
			cog.Area{Code: "59350", Label: "Lille"},
			cog.Area{Code: "59298", Label: "Hellemmes-Lille"},
			cog.Area{Code: "13028", Label: "Cuges-les-Pins"},
			cog.Area{Code: "69123", Label: "Lyon"})
	ref := cog.NewReference(catalog, store, 2, logger)

	postcodes := postcodeTable{
		"75007": {"75056"},
		"20000": {"2A004"},
		"69000": {"69123"},
		"13780": {"13028", "83049"},
		"97133": {"97701"},
	}
	deps := departement.New(ref, postcodes, nil, nil, nil, store, 2, logger)

	geocoder := &fakeGeocoder{results: map[string]ban.Result{
		"13001 MARSEILLE":      {Score: 0.92, City: "Marseille", CityCode: "13055"},
		"75001 NOWHERE":        {Score: 0.7, City: "Lyon", CityCode: "69123"},
		"single:59000 LAMBERS": {Score: 0.65, City: "Lambersart", CityCode: "59328"},
	}}
	projector := &fakeProjector{remap: map[string]string{}}
	locator := fakeLocator{3.06: "59350", 2.35: "75056", 3.05: "59360", 601152.299: "75056", 338568.315: "97411"}
	places := fakePlaces{"59160 LOMME VILLAGE": {Lat: 50.64, Lon: 3.05}}

	f := New(ref, deps, projector, geocoder, locator, places, 2, logger)
	f.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return fixture{finder: f, geocoder: geocoder, projector: projector}
}

func TestFindCity_Scenarios(t *testing.T) {
	fx := newFixture(t)
	in := table.New("postcode", "city", "dep")
	in.Append("75007", "Paris", "")
	in.Append("20000", "Ajaccio", "")
	in.Append("", "Sourd (Le)", "02")
	in.Append("69000", "Lille", "59")
	in.Append("13780", "Cuges-les-Pins", "")
	in.Append("75007", "Paris", "")

	out, err := fx.finder.FindCity(context.Background(), in, Options{})
	if err != nil {
		t.Fatalf("FindCity: %v", err)
	}
	want := []string{"75056", "2A004", "02731", "59350", "13028", "75056"}
	for i, w := range want {
		if got := out.Rows[i].Value(DefaultOutput); got != w {
			t.Errorf("row %d (%v) = %q, want %q", i, in.Rows[i], got, w)
		}
	}
	if len(fx.geocoder.bulk) != 0 {
		t.Errorf("geocoder queried for names known historically: %v", fx.geocoder.bulk)
	}
	if in.HasColumn(DefaultOutput) {
		t.Error("input table modified")
	}
}

func TestFindCity_GeocoderStages(t *testing.T) {
	fx := newFixture(t)
	in := table.New("postcode", "city")
	in.Append("13001", "Marseille")
	in.Append("75001", "Nowhere")
	in.Append("59000", "Lambers")

	out, err := fx.finder.FindCity(context.Background(), in, Options{Output: "code"})
	if err != nil {
		t.Fatalf("FindCity: %v", err)
	}
	if got := out.Rows[0].Value("code"); got != "13055" {
		t.Errorf("Marseille = %q, want 13055", got)
	}
	// The geocoder's answer lies in another department: rejected.
	if v, ok := out.Rows[1].Get("code"); ok {
		t.Errorf("Nowhere = %q, want null", v)
	}
	// Accepted on its score through the single-query retry.
	if got := out.Rows[2].Value("code"); got != "59328" {
		t.Errorf("Lambers = %q, want 59328", got)
	}

	retried := false
	for _, q := range fx.geocoder.single {
		if q == "75001 NOWHERE" {
			retried = true
		}
		if q == "13001 MARSEILLE" {
			t.Error("resolved record retried individually")
		}
	}
	if !retried {
		t.Errorf("single queries = %v, want a retry of 75001 NOWHERE", fx.geocoder.single)
	}
	// Department + label combination tried after postcode + label.
	var depQuery bool
	for _, q := range fx.geocoder.bulk {
		if q == "75 NOWHERE" {
			depQuery = true
		}
	}
	if !depQuery {
		t.Errorf("bulk queries = %v, want 75 NOWHERE", fx.geocoder.bulk)
	}
}

func TestFindCity_GeolocationFirst(t *testing.T) {
	fx := newFixture(t)
	in := table.New("x", "y", "postcode", "city")
	in.Append("3.06", "50.63", "75007", "Paris")
	in.Append("0", "0", "75007", "Paris")

	out, err := fx.finder.FindCity(context.Background(), in, Options{EPSG: geo.WGS84})
	if err != nil {
		t.Fatalf("FindCity: %v", err)
	}
	if got := out.Rows[0].Value(DefaultOutput); got != "59350" {
		t.Errorf("geolocated row = %q, want 59350 from coordinates", got)
	}
	if got := out.Rows[1].Value(DefaultOutput); got != "75056" {
		t.Errorf("row outside boundaries = %q, want lexical 75056", got)
	}

	// Without EPSG the coordinates are ignored.
	out, err = fx.finder.FindCity(context.Background(), in, Options{})
	if err != nil {
		t.Fatalf("FindCity: %v", err)
	}
	if got := out.Rows[0].Value(DefaultOutput); got != "75056" {
		t.Errorf("row without EPSG = %q, want 75056", got)
	}
}

func TestFindCity_ProjectedCoordinates(t *testing.T) {
	fx := newFixture(t)
	tests := []struct {
		name string
		x, y string
		epsg int
		want string
	}{
		{"lambert II etendu", "601152.299", "2428695.897", geo.LambertIIExtended, "75056"},
		{"rgr92 utm 40S", "338568.315", "7690475.437", 2975, "97411"},
		{"wgs84 utm 40S", "338568.315", "7690475.437", 32740, "97411"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := table.New("x", "y")
			in.Append(tt.x, tt.y)
			out, err := fx.finder.FindCity(context.Background(), in, Options{EPSG: tt.epsg})
			if err != nil {
				t.Fatalf("FindCity: %v", err)
			}
			if got := out.Rows[0].Value(DefaultOutput); got != tt.want {
				t.Errorf("EPSG:%d = %q, want %q", tt.epsg, got, tt.want)
			}
		})
	}
}

func TestFindCity_Idempotent(t *testing.T) {
	fx := newFixture(t)
	in := table.New("x", "y", "postcode", "city", "dep")
	in.Append("3.06", "50.63", "", "", "")
	in.Append("", "", "75007", "Paris", "")
	in.Append("", "", "20000", "Ajaccio", "")
	in.Append("", "", "", "Sourd (Le)", "02")
	in.Append("", "", "13001", "Marseille", "")
	in.Append("", "", "75001", "Nowhere", "")
	in.Append("", "", "59000", "Lambers", "")
	opts := Options{EPSG: geo.WGS84}

	// The first run fills the shared cache, the second one reads it back.
	cold, err := fx.finder.FindCity(context.Background(), in, opts)
	if err != nil {
		t.Fatalf("FindCity cold: %v", err)
	}
	warm, err := fx.finder.FindCity(context.Background(), in, opts)
	if err != nil {
		t.Fatalf("FindCity warm: %v", err)
	}
	for i := range in.Rows {
		c, cok := cold.Rows[i].Get(DefaultOutput)
		w, wok := warm.Rows[i].Get(DefaultOutput)
		if c != w || cok != wok {
			t.Errorf("row %d: cold (%q, %v) != warm (%q, %v)", i, c, cok, w, wok)
		}
	}
	if got := cold.Rows[1].Value(DefaultOutput); got != "75056" {
		t.Errorf("cold Paris = %q, want 75056", got)
	}
}

func TestFindCity_PastYearProjects(t *testing.T) {
	fx := newFixture(t)
	fx.projector.remap["13055"] = "13099"
	in := table.New("x", "y", "postcode", "city")
	in.Append("3.06", "50.63", "", "")
	in.Append("", "", "13001", "Marseille")

	out, err := fx.finder.FindCity(context.Background(), in, Options{Year: "2023", EPSG: geo.WGS84})
	if err != nil {
		t.Fatalf("FindCity: %v", err)
	}
	if got := out.Rows[1].Value(DefaultOutput); got != "13099" {
		t.Errorf("geocoded code not projected: %q", got)
	}
	for _, y := range fx.projector.years {
		if y != 2023 {
			t.Errorf("projected to %d, want 2023", y)
		}
	}
	if len(fx.projector.years) == 0 {
		t.Error("projector never called")
	}
}

func TestFindCity_Nominatim(t *testing.T) {
	in := table.New("postcode", "city")
	in.Append("59160", "Lomme Village")

	fx := newFixture(t)
	out, err := fx.finder.FindCity(context.Background(), in, Options{})
	if err != nil {
		t.Fatalf("FindCity: %v", err)
	}
	if v, ok := out.Rows[0].Get(DefaultOutput); ok {
		t.Fatalf("resolved %q without Nominatim", v)
	}

	fx = newFixture(t)
	out, err = fx.finder.FindCity(context.Background(), in, Options{UseNominatim: true})
	if err != nil {
		t.Fatalf("FindCity: %v", err)
	}
	if got := out.Rows[0].Value(DefaultOutput); got != "59360" {
		t.Errorf("with Nominatim = %q, want 59360", got)
	}
}

func TestFindCity_ConfigErrors(t *testing.T) {
	fx := newFixture(t)
	in := table.New("city")
	in.Append("Paris")
	if _, err := fx.finder.FindCity(context.Background(), in, Options{}); !errors.Is(err, ErrConfig) {
		t.Errorf("missing columns err = %v", err)
	}

	in = table.New("postcode", "city")
	in.Append("75007", "Paris")
	if _, err := fx.finder.FindCity(context.Background(), in, Options{Year: "20x3"}); !errors.Is(err, ErrConfig) {
		t.Errorf("bad year err = %v", err)
	}

	in = table.New("x", "y")
	in.Append("601152.299", "2428695.897")
	for _, epsg := range []int{9999, 27561} {
		if _, err := fx.finder.FindCity(context.Background(), in, Options{EPSG: epsg}); !errors.Is(err, ErrConfig) {
			t.Errorf("EPSG:%d err = %v, want ErrConfig", epsg, err)
		}
	}

	// Renamed columns satisfy the department + city group.
	in = table.New("DEPT", "LIBELLE")
	in.Append("2", "Sourd (Le)")
	out, err := fx.finder.FindCity(context.Background(), in, Options{Columns: Columns{Dep: "DEPT", City: "LIBELLE"}})
	if err != nil {
		t.Fatalf("FindCity renamed columns: %v", err)
	}
	if got := out.Rows[0].Value(DefaultOutput); got != "02731" {
		t.Errorf("renamed columns = %q, want 02731", got)
	}
}

func TestUniqueBest(t *testing.T) {
	names := []string{"LILLE", "HELLEMMES LILLE", "LILLE"}
	codes := []string{"59350", "59298", "59350"}
	code, ok := uniqueBest("LILLE", names, codes, func(a, b string) float64 {
		if a == b {
			return 100
		}
		return 50
	}, 80)
	if !ok || code != "59350" {
		t.Errorf("uniqueBest = %q, %v", code, ok)
	}
	if _, ok := uniqueBest("LILLE", names, codes, func(string, string) float64 { return 100 }, 80); ok {
		t.Error("tie between distinct codes accepted")
	}
}
