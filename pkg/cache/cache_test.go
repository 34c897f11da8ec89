package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

func tempSQLite(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, NSDeps, "59800"); err != nil || ok {
		t.Fatalf("Get on empty store: ok=%v err=%v", ok, err)
	}
	if err := s.Set(ctx, NSDeps, "59800", []byte("59")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, NSProjection, "59800", []byte("other")); err != nil {
		t.Fatalf("Set other ns: %v", err)
	}
	v, ok, err := s.Get(ctx, NSDeps, "59800")
	if err != nil || !ok || string(v) != "59" {
		t.Fatalf("Get = %q, %v, %v; want 59", v, ok, err)
	}

	// Overwrite.
	if err := s.Set(ctx, NSDeps, "59800", []byte("62")); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	v, _, _ = s.Get(ctx, NSDeps, "59800")
	if string(v) != "62" {
		t.Fatalf("overwrite not applied, got %q", v)
	}

	if err := s.Clear(ctx, NSDeps); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := s.Get(ctx, NSDeps, "59800"); ok {
		t.Fatal("key survived Clear")
	}
	if _, ok, _ := s.Get(ctx, NSProjection, "59800"); !ok {
		t.Fatal("Clear removed a key from another namespace")
	}

	if err := s.Delete(ctx, NSProjection, "59800"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, NSProjection, "59800"); ok {
		t.Fatal("key survived Delete")
	}
}

func TestSQLiteStore(t *testing.T) {
	testStore(t, tempSQLite(t))
}

func TestSQLiteStore_PersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := s.Set(ctx, NSProjection, "02077", []byte("02564")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.Close()

	s, err = OpenSQLite(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	v, ok, err := s.Get(ctx, NSProjection, "02077")
	if err != nil || !ok || string(v) != "02564" {
		t.Fatalf("Get after reopen = %q, %v, %v", v, ok, err)
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemory(0))
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	s, err := OpenPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	defer s.Close()
	testStore(t, s)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	s, err := OpenRedis(context.Background(), addr, "", 0)
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	defer s.Close()
	testStore(t, s)
}

func TestGobBucket(t *testing.T) {
	ctx := context.Background()
	b := NewBucket(NewMemory(0), NSAreas)

	type snapshot struct {
		Codes []string
	}
	if err := SetGob(ctx, b, "communes@2023-01-01", snapshot{Codes: []string{"01001", "01002"}}); err != nil {
		t.Fatalf("SetGob: %v", err)
	}
	got, ok, err := GetGob[snapshot](ctx, b, "communes@2023-01-01")
	if err != nil || !ok {
		t.Fatalf("GetGob: ok=%v err=%v", ok, err)
	}
	if len(got.Codes) != 2 || got.Codes[1] != "01002" {
		t.Errorf("GetGob = %+v", got)
	}
	if _, ok, _ := GetGob[snapshot](ctx, b, "missing"); ok {
		t.Error("GetGob reported a missing key as present")
	}
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(0)
	for _, ns := range Namespaces {
		s.Set(ctx, ns, "k", []byte("v"))
	}
	if err := ClearAll(ctx, s); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	for _, ns := range Namespaces {
		if _, ok, _ := s.Get(ctx, ns, "k"); ok {
			t.Errorf("namespace %s not cleared", ns)
		}
	}
}

func TestLRU_EvictsOldest(t *testing.T) {
	c := NewLRU[string, int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Error("a should survive, it was recently used")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestLRU_TTL(t *testing.T) {
	c := NewLRU[string, int](10, time.Millisecond)
	c.Set("a", 1)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Error("expired entry returned")
	}
}
