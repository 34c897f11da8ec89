package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"FRENCH_CITIES_CACHE_DIR", "FRENCH_CITIES_THREADS", "https_proxy", "HTTPS_PROXY",
		"http_proxy", "HTTP_PROXY", "REDIS_ADDR", "PG_DSN", "INSEE_TOKEN", "FRENCH_CITIES_ADDR",
		"FRENCH_CITIES_TLS_CERT", "FRENCH_CITIES_TLS_KEY"} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Backend != BackendSQLite {
		t.Errorf("backend = %q", cfg.Cache.Backend)
	}
	if cfg.Threads != 10 {
		t.Errorf("threads = %d, want 10", cfg.Threads)
	}
	if filepath.Base(cfg.CacheDir) != "french-cities" {
		t.Errorf("cache dir = %q", cfg.CacheDir)
	}
	if cfg.HTTP.Timeout != 30*time.Second || cfg.INSEERatePerMinute != 30 {
		t.Errorf("http = %+v, rate = %d", cfg.HTTP, cfg.INSEERatePerMinute)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
cache_dir: /var/cache/fc
threads: 4
http:
  timeout: 5s
endpoints:
  ban: http://localhost:7878
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FRENCH_CITIES_THREADS", "16")
	t.Setenv("http_proxy", "http://proxy:3128")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CacheDir != "/var/cache/fc" {
		t.Errorf("cache dir = %q", cfg.CacheDir)
	}
	if cfg.Threads != 16 {
		t.Errorf("threads = %d, env should win", cfg.Threads)
	}
	if cfg.HTTP.Timeout != 5*time.Second || cfg.HTTP.MaxAttempts != 5 {
		t.Errorf("http = %+v", cfg.HTTP)
	}
	if cfg.Endpoints.BAN != "http://localhost:7878" || cfg.Endpoints.WFSLayer == "" {
		t.Errorf("endpoints = %+v", cfg.Endpoints)
	}
	if cfg.HTTP.Proxy != "http://proxy:3128" {
		t.Errorf("proxy = %q", cfg.HTTP.Proxy)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("PG_DSN")
	if err := os.WriteFile(".env", []byte("PG_DSN=postgres://fc@localhost/fc?sslmode=disable\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("PG_DSN") })

	cfg, err := Load("missing.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Backend != BackendPostgres || cfg.Cache.DSN == "" {
		t.Errorf("cache = %+v, want postgres from .env", cfg.Cache)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	t.Setenv("FRENCH_CITIES_THREADS", "many")
	if _, err := Load(""); err == nil {
		t.Error("expected error for bad thread count")
	}

	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("cache:\n  backend: redis\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("expected error for redis without address")
	}
	os.WriteFile(path, []byte("cache:\n  backend: etcd\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown backend")
	}
	os.WriteFile(path, []byte("tls:\n  cert_file: server.pem\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("expected error for cert without key")
	}
	os.WriteFile(path, []byte("tls:\n  http3: true\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("expected error for HTTP/3 without TLS")
	}

	clearEnv(t)
	t.Setenv("https_proxy", "proxy.internal:3128")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "proxy.internal:3128") {
		t.Errorf("proxy without scheme err = %v", err)
	}
}

func TestLoad_TLSFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("FRENCH_CITIES_TLS_CERT", "/etc/fc/cert.pem")
	t.Setenv("FRENCH_CITIES_TLS_KEY", "/etc/fc/key.pem")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.TLS.Enabled || cfg.TLS.KeyFile != "/etc/fc/key.pem" {
		t.Errorf("tls = %+v", cfg.TLS)
	}
}
