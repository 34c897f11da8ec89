package httpx

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastClient(opts ...Option) *Client {
	return New("test", append([]Option{WithBackoff(time.Millisecond, 2*time.Millisecond)}, opts...)...)
}

func TestDo_RetriesThrottledThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := fastClient().Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestDo_ExhaustedRetriesReturnUpstreamError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	_, err := fastClient(WithMaxAttempts(4)).Get(context.Background(), srv.URL, nil)
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UpstreamError, got %v", err)
	}
	if ue.Status != http.StatusTooManyRequests || string(ue.Body) != "slow down" {
		t.Errorf("UpstreamError = %+v", ue)
	}
	if calls.Load() != 4 {
		t.Errorf("calls = %d, want 4", calls.Load())
	}
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := fastClient().Get(context.Background(), srv.URL, nil)
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestGetJSON_MalformedBodyKeepsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	var v map[string]any
	err := fastClient().GetJSON(context.Background(), srv.URL, nil, &v)
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UpstreamError, got %v", err)
	}
	if string(ue.Body) != "<html>maintenance</html>" {
		t.Errorf("Body = %q", ue.Body)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := New("test", WithBackoff(time.Hour, time.Hour))
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.Get(ctx, srv.URL, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	c := New("test", WithBackoff(time.Second, 10*time.Second))
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{80, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := c.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestWithProxy(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	c := New("ban", WithProxy("http://proxy.internal:3128"), WithLogger(logger))
	tr, ok := c.hc.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("transport = %T", c.hc.Transport)
	}
	req, _ := http.NewRequest(http.MethodGet, "https://api-adresse.data.gouv.fr/search/", nil)
	if u, err := tr.Proxy(req); err != nil || u == nil || u.Host != "proxy.internal:3128" {
		t.Errorf("proxy = %v, %v", u, err)
	}
	if buf.Len() != 0 {
		t.Errorf("unexpected log: %s", buf.String())
	}

	for _, raw := range []string{"proxy.internal:3128", "http://[::1", "/just/a/path"} {
		buf.Reset()
		c := New("ban", WithProxy(raw), WithLogger(logger))
		if !strings.Contains(buf.String(), "invalid proxy ignored") || !strings.Contains(buf.String(), "service=ban") {
			t.Errorf("%q: log = %q", raw, buf.String())
		}
		if _, ok := c.hc.Transport.(*http.Transport); !ok {
			t.Errorf("%q: transport = %T", raw, c.hc.Transport)
		}
		if _, err := ParseProxy(raw); err == nil {
			t.Errorf("ParseProxy(%q) accepted", raw)
		}
	}
}
