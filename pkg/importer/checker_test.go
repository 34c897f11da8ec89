package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/french-cities/pkg/metrics"
)

func statusServer(t *testing.T, code int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		if code == http.StatusMovedPermanently {
			w.Header().Set("Location", "https://www.data.gouv.fr/moved.csv")
		}
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func seededChecker(t *testing.T, adapters ...Adapter) (*Checker, *SourceDB) {
	t.Helper()
	sdb, err := OpenSourceDB(filepath.Join(t.TempDir(), "sources.db"))
	if err != nil {
		t.Fatalf("OpenSourceDB: %v", err)
	}
	t.Cleanup(func() { sdb.Close() })
	if err := sdb.Seed(adapters); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewChecker(sdb, logger, time.Hour), sdb
}

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestCheckAll_PerTarget(t *testing.T) {
	ok := statusServer(t, http.StatusOK)
	gone := statusServer(t, http.StatusNotFound)
	broken := statusServer(t, http.StatusInternalServerError)

	checker, sdb := seededChecker(t,
		&fakeAdapter{"laposte-hexasmal", TargetPostal, "postcodes", ok.URL, "Licence Ouverte"},
		&fakeAdapter{"insee-communes-fr", TargetAreas, "communes", gone.URL, "Licence Ouverte"},
		&fakeAdapter{"insee-communes-mirror", TargetAreas, "communes mirror", broken.URL, "Licence Ouverte"},
	)

	report := checker.CheckAll(context.Background())
	if len(report.Checks) != 3 {
		t.Fatalf("checks = %d, want 3", len(report.Checks))
	}
	var failed []string
	for _, c := range report.Failed() {
		failed = append(failed, c.AdapterID)
	}
	if fmt.Sprint(failed) != "[insee-communes-fr insee-communes-mirror]" {
		t.Errorf("failed = %v", failed)
	}
	if got := report.StrandedTargets(); !slices.Equal(got, []string{TargetAreas}) {
		t.Errorf("stranded targets = %v, want [areas]", got)
	}

	sources, err := sdb.ListSources()
	if err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	want := map[string]int{"laposte-hexasmal": 200, "insee-communes-fr": 404, "insee-communes-mirror": 500}
	for _, src := range sources {
		if src.LastStatus == nil || *src.LastStatus != want[src.AdapterID] {
			t.Errorf("%s: last status %v, want %d", src.AdapterID, src.LastStatus, want[src.AdapterID])
		}
	}

	body := scrape(t)
	for _, line := range []string{
		`frenchcities_source_status{adapter="laposte-hexasmal",target="postal"} 200`,
		`frenchcities_source_status{adapter="insee-communes-fr",target="areas"} 404`,
	} {
		if !strings.Contains(body, line) {
			t.Errorf("metrics lack %s", line)
		}
	}
}

func TestCheckAll_NetworkError(t *testing.T) {
	checker, sdb := seededChecker(t,
		&fakeAdapter{"laposte-hexasmal", TargetPostal, "postcodes", "http://127.0.0.1:1", "Licence Ouverte"})

	report := checker.CheckAll(context.Background())
	if len(report.Failed()) != 1 || report.Failed()[0].Status != 0 || report.Failed()[0].Err == nil {
		t.Errorf("report = %+v", report)
	}
	if got := report.StrandedTargets(); !slices.Equal(got, []string{TargetPostal}) {
		t.Errorf("stranded targets = %v", got)
	}

	sources, _ := sdb.ListSources()
	src := sources[0]
	if src.LastStatus == nil || *src.LastStatus != 0 {
		t.Errorf("expected status 0 for network error, got %v", src.LastStatus)
	}
	if src.LastError == nil || *src.LastError == "" {
		t.Error("expected non-empty last_error for network error")
	}
}

func TestCheckAll_EmptyDB(t *testing.T) {
	checker, _ := seededChecker(t)
	report := checker.CheckAll(context.Background())
	if len(report.Checks) != 0 || report.StrandedTargets() != nil {
		t.Errorf("report = %+v", report)
	}
}

func TestCheckAll_RedirectIsReachable(t *testing.T) {
	moved := statusServer(t, http.StatusMovedPermanently)
	checker, sdb := seededChecker(t,
		&fakeAdapter{"laposte-hexasmal", TargetPostal, "postcodes", moved.URL, "Licence Ouverte"})

	report := checker.CheckAll(context.Background())
	if len(report.Failed()) != 0 || len(report.StrandedTargets()) != 0 {
		t.Errorf("redirect reported as failure: %+v", report)
	}
	sources, _ := sdb.ListSources()
	if src := sources[0]; src.LastStatus == nil || *src.LastStatus != 301 {
		t.Errorf("expected status 301, got %v", src.LastStatus)
	}
}

func TestCheckAll_CancelledContext(t *testing.T) {
	ok := statusServer(t, http.StatusOK)
	checker, _ := seededChecker(t,
		&fakeAdapter{"laposte-hexasmal", TargetPostal, "postcodes", ok.URL, "Licence Ouverte"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if report := checker.CheckAll(ctx); len(report.Checks) != 0 {
		t.Errorf("checked %d sources after cancellation", len(report.Checks))
	}
}
