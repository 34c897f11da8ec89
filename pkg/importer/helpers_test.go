package importer

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDownloadFile(t *testing.T) {
	content := "hello world"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(content))
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "test.txt")
	if err := downloadFile(context.Background(), ts.URL, dest); err != nil {
		t.Fatalf("downloadFile: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != content {
		t.Errorf("content = %q, want %q", string(data), content)
	}
}

func TestDownloadFile_Retry(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "retry.txt")
	if err := downloadFile(context.Background(), ts.URL, dest); err != nil {
		t.Fatalf("downloadFile with retries: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDownloadFile_AllFail(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "fail.txt")
	err := downloadFile(context.Background(), ts.URL, dest)
	if err == nil {
		t.Error("expected error after all retries exhausted")
	}
}

func TestWriteManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "imports")
	m := &Manifest{
		ID:        "laposte-hexasmal",
		Target:    TargetPostal,
		SourceURL: "https://example.com/hexasmal.csv",
		License:   "ODbL",
		Records:   39192,
	}

	if err := writeManifest(dir, m); err != nil {
		t.Fatalf("writeManifest: %v", err)
	}

	// Verify the file was written and can be parsed back.
	loaded, err := LoadManifest(filepath.Join(dir, "laposte-hexasmal.yaml"))
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if loaded.Target != TargetPostal {
		t.Errorf("Target = %q, want postal", loaded.Target)
	}
	if loaded.Records != 39192 {
		t.Errorf("Records = %d, want 39192", loaded.Records)
	}
}

func TestFetch_Zip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{"v_region_2024.csv": "REG\n", "v_commune_2024.csv": "COM\n"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(body))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer ts.Close()

	path, err := fetch(context.Background(), ts.URL, t.TempDir(), "cog.zip", "commune")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if filepath.Base(path) != "v_commune_2024.csv" {
		t.Errorf("path = %s", path)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "COM\n" {
		t.Errorf("content = %q", data)
	}
}

func TestVintageOf(t *testing.T) {
	if got := vintageOf("https://www.insee.fr/fr/statistiques/fichier/7766585/v_commune_2024.csv"); got != 2024 {
		t.Errorf("vintageOf = %d, want 2024", got)
	}
	if got := vintageOf("https://example.com/communes.csv"); got != time.Now().Year() {
		t.Errorf("vintageOf without year = %d", got)
	}
}
