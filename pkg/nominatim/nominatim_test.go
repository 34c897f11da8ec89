package nominatim

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/french-cities/pkg/cache"
	"github.com/hazyhaar/french-cities/pkg/httpx"
)

func TestSearch_CachesOnRawQuery(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("countrycodes") != CountryCodes || r.URL.Query().Get("limit") != "1" {
			http.Error(w, "bad params", http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("q") == "59000 LILLE" {
			io.WriteString(w, `[{"lat":"50.6365654","lon":"3.0635282","display_name":"Lille, Nord"}]`)
			return
		}
		io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(srv.URL, httpx.New("nominatim", httpx.WithBackoff(time.Millisecond, time.Millisecond)), cache.NewMemory(0), logger)
	ctx := context.Background()

	p, err := c.Search(ctx, "59000 LILLE")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if p == nil || p.Lat < 50.6 || p.Lat > 50.7 || p.Lon < 3.0 || p.Lon > 3.1 {
		t.Fatalf("Search(LILLE) = %+v", p)
	}
	if _, err := c.Search(ctx, "59000 LILLE"); err != nil {
		t.Fatalf("Search again: %v", err)
	}

	p, err = c.Search(ctx, "NOWHERE")
	if err != nil || p != nil {
		t.Fatalf("Search(NOWHERE) = %+v, %v", p, err)
	}
	if _, err := c.Search(ctx, "NOWHERE"); err != nil {
		t.Fatalf("Search(NOWHERE) again: %v", err)
	}

	if n := hits.Load(); n != 2 {
		t.Errorf("upstream hits = %d, want 2", n)
	}
}

func TestSearch_BadCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"lat":"north","lon":"3"}]`)
	}))
	defer srv.Close()

	c := New(srv.URL, httpx.New("nominatim"), cache.NewMemory(0), nil)
	if _, err := c.Search(context.Background(), "X"); err == nil {
		t.Fatal("expected error on unparsable coordinates")
	}
}

func TestCountryCodes_CoverOverseas(t *testing.T) {
	codes := strings.Split(CountryCodes, ",")
	for _, cc := range []string{"fr", "nc", "pf", "bl", "mf", "pm", "wf", "tf", "re", "gp"} {
		if !slices.Contains(codes, cc) {
			t.Errorf("countrycodes %q lacks %q", CountryCodes, cc)
		}
	}

	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.URL.Query().Get("countrycodes"))
		io.WriteString(w, `[{"lat":"-22.2758","lon":"166.4580","display_name":"Nouméa"}]`)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(srv.URL, httpx.New("nominatim", httpx.WithBackoff(time.Millisecond, time.Millisecond)), cache.NewMemory(0), logger)
	p, err := c.Search(context.Background(), "98800 NOUMEA")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if p == nil || p.Lat > -22 {
		t.Errorf("Search(NOUMEA) = %+v", p)
	}
	if got.Load() != CountryCodes {
		t.Errorf("countrycodes sent = %v", got.Load())
	}
}
