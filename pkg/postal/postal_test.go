package postal

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/hazyhaar/french-cities/pkg/httpx"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "postal.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func cp1252(t *testing.T, s string) []byte {
	t.Helper()
	b, err := charmap.Windows1252.NewEncoder().Bytes([]byte(s))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func TestParseHexasmal(t *testing.T) {
	raw := cp1252(t, "#Code_commune_INSEE;Nom_de_la_commune;Code_postal;Libellé_d_acheminement;Ligne_5\n"+
		"01138;BEON;01350;BEON;\n"+
		"13015;LAMANON;13113;LAMANON;\n"+
		"2A004;AJACCIO;20000;AJACCIO;\n"+
		"02731;SOURD;2140;SOURD;\n"+
		";;;;\n")
	records, err := ParseHexasmal(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ParseHexasmal: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d: %+v", len(records), records)
	}
	if records[2] != (Record{Postcode: "20000", Insee: "2A004", Label: "AJACCIO"}) {
		t.Errorf("records[2] = %+v", records[2])
	}
	if records[3].Postcode != "02140" {
		t.Errorf("4-digit postcode not padded: %q", records[3].Postcode)
	}
}

func TestParseHexasmal_BadHeader(t *testing.T) {
	if _, err := ParseHexasmal(bytes.NewReader([]byte("a;b\n1;2\n"))); err == nil {
		t.Fatal("expected error for unexpected header")
	}
}

func TestStore_ReplaceAndLookup(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	records := []Record{
		{Postcode: "13780", Insee: "13028"},
		{Postcode: "13780", Insee: "83049"},
		{Postcode: "59800", Insee: "59350"},
		{Postcode: "59800", Insee: "59350"},
	}
	if err := s.Replace(ctx, records); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	n, err := s.Count(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Count = %d, %v; want 3", n, err)
	}

	got, err := s.Lookup(ctx, []string{"13780", "59800", "00000"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(got["13780"]) != 2 || got["13780"][0] != "13028" || got["13780"][1] != "83049" {
		t.Errorf("13780 = %v", got["13780"])
	}
	if len(got["59800"]) != 1 {
		t.Errorf("59800 = %v", got["59800"])
	}
	if _, ok := got["00000"]; ok {
		t.Error("unknown postcode returned")
	}

	// Replace drops the previous content.
	if err := s.Replace(ctx, records[2:3]); err != nil {
		t.Fatalf("Replace again: %v", err)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("Count after replace = %d, want 1", n)
	}
}

func TestCedexClient_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("where") {
		case "code=68013":
			w.Write([]byte(`{"total_count":1,"results":[{"insee":"68066","libelle":"COLMAR CEDEX","nom_com":"COLMAR"}]}`))
		case `code="ABCDE"`:
			http.Error(w, `{"error_code":"ODSQLError"}`, http.StatusBadRequest)
		default:
			w.Write([]byte(`{"total_count":0,"results":[]}`))
		}
	}))
	defer srv.Close()

	c := NewCedexClient(srv.URL, httpx.New("cedex", httpx.WithBackoff(time.Millisecond, time.Millisecond)))
	ctx := context.Background()

	recs, err := c.Lookup(ctx, "68013")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(recs) != 1 || recs[0].Insee != "68066" || recs[0].NomCom != "COLMAR" {
		t.Errorf("Lookup(68013) = %+v", recs)
	}

	recs, err = c.Lookup(ctx, "ABCDE")
	if err != nil || len(recs) != 0 {
		t.Errorf("Lookup(ABCDE) = %+v, %v; want empty", recs, err)
	}
}
