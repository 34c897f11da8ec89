package importer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/french-cities/pkg/cache"
	"github.com/hazyhaar/french-cities/pkg/cog"
	"github.com/hazyhaar/french-cities/pkg/postal"
)

// windows-1252 encoded, as La Poste publishes it.
const hexasmalSample = "#Code_commune_INSEE;Nom_de_la_commune;Code_postal;Libell\xe9_d_acheminement;Ligne_5\r\n" +
	"75056;PARIS;75007;PARIS;\r\n" +
	"13028;CUGES LES PINS;13780;CUGES LES PINS;\r\n" +
	"83049;EVENOS;13780;EVENOS;\r\n" +
	"02731;SOURD;2140;SOURD;\r\n"

const communesSample = "TYPECOM,COM,REG,DEP,CTCD,ARR,TNCC,NCC,NCCENR,LIBELLE,CAN,COMPARENT\n" +
	"COM,01001,84,01,01D,012,5,ABERGEMENT CLEMENCIAT,Abergement-Clémenciat,L'Abergement-Clémenciat,0108,\n" +
	"COMD,01015,84,01,01D,011,1,ARBIGNIEU,Arbignieu,Arbignieu,,01015\n" +
	"COM,75056,11,75,75C,751,0,PARIS,Paris,Paris,7599,\n"

func serve(t *testing.T, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestHexasmalAdapter_Import(t *testing.T) {
	dir := t.TempDir()
	store, err := postal.OpenStore(filepath.Join(dir, "postal.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	ts := serve(t, hexasmalSample)
	a, err := Get("laposte-hexasmal")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	ctx := context.Background()
	if err := a.Import(ctx, ts.URL, &Env{WorkDir: dir, Postal: store}); err != nil {
		t.Fatalf("Import: %v", err)
	}

	got, err := store.Lookup(ctx, []string{"13780", "02140", "75007"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(got["13780"]) != 2 {
		t.Errorf("13780 = %v, want two cities", got["13780"])
	}
	if len(got["02140"]) != 1 || got["02140"][0] != "02731" {
		t.Errorf("02140 = %v, want padded postcode for 02731", got["02140"])
	}

	m, err := LoadManifest(filepath.Join(dir, "imports", "laposte-hexasmal.yaml"))
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Records != 4 {
		t.Errorf("manifest records = %d, want 4", m.Records)
	}
}

func TestHexasmalAdapter_RequiresStore(t *testing.T) {
	a, _ := Get("laposte-hexasmal")
	if err := a.Import(context.Background(), "http://127.0.0.1:1", &Env{WorkDir: t.TempDir()}); err == nil {
		t.Error("expected error without postal store")
	}
}

func TestInseeCommunesAdapter_Preloads(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fichier/v_commune_2024.csv", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(communesSample))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	store := cache.NewMemory(0)
	dir := t.TempDir()
	sdb, err := OpenSourceDB(filepath.Join(dir, "sources.db"))
	if err != nil {
		t.Fatalf("OpenSourceDB: %v", err)
	}
	defer sdb.Close()
	if err := sdb.Seed(All()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := sdb.SetURL("insee-communes-fr", ts.URL+"/fichier/v_commune_2024.csv"); err != nil {
		t.Fatalf("SetURL: %v", err)
	}

	ctx := context.Background()
	if err := Run(ctx, sdb, "insee-communes-fr", &Env{WorkDir: dir, Cache: store}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The catalog is never asked: the list comes from the preloaded snapshot.
	mem := cog.NewMemory()
	areas, err := cog.NewCached(mem, store, false, nil).ListAreas(ctx, cog.Commune, "2024-01-01")
	if err != nil {
		t.Fatalf("ListAreas: %v", err)
	}
	if mem.Calls("ListAreas") != 0 {
		t.Error("catalog queried despite preload")
	}
	if len(areas) != 2 {
		t.Fatalf("areas = %v, want 2 communes", areas)
	}
	if areas[0].Code != "01001" || areas[0].Label != "L'Abergement-Clémenciat" {
		t.Errorf("first area = %+v", areas[0])
	}

	sources, _ := sdb.ListSources()
	for _, src := range sources {
		if src.AdapterID == "insee-communes-fr" && src.LastImport == nil {
			t.Error("import not recorded")
		}
	}
}
