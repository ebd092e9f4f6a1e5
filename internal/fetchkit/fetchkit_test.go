package fetchkit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/vtgeo/econmap/internal/cache"
)

func TestGetCachesIdenticalRequests(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := New(cache.New(time.Hour), 0)
	params := url.Values{"f": {"geojson"}, "where": {"1=1"}}

	for i := 0; i < 2; i++ {
		body, err := c.Get(context.Background(), srv.URL, params)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != "payload" {
			t.Errorf("unexpected body %q", body)
		}
	}

	if hits != 1 {
		t.Errorf("expected 1 upstream request, got %d", hits)
	}
}

func TestGetDistinctParamsNotShared(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(r.URL.Query().Get("year")))
	}))
	defer srv.Close()

	c := New(cache.New(time.Hour), 0)

	b1, _ := c.Get(context.Background(), srv.URL, url.Values{"year": {"2022"}})
	b2, _ := c.Get(context.Background(), srv.URL, url.Values{"year": {"2023"}})

	if hits != 2 {
		t.Errorf("expected 2 upstream requests, got %d", hits)
	}
	if string(b1) != "2022" || string(b2) != "2023" {
		t.Errorf("responses crossed: %q, %q", b1, b2)
	}
}

func TestGetKeyParamNotPartOfCacheKey(t *testing.T) {
	hits := 0
	var seenKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		seenKey = r.URL.Query().Get("key")
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := New(cache.New(time.Hour), 0)

	// The credential still goes over the wire on a miss...
	if _, err := c.Get(context.Background(), srv.URL, url.Values{"year": {"2023"}, "key": {"s3cret"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seenKey != "s3cret" {
		t.Errorf("expected key sent upstream, got %q", seenKey)
	}

	// ...but the same query with a rotated or absent key is a cache hit.
	if _, err := c.Get(context.Background(), srv.URL, url.Values{"year": {"2023"}, "key": {"rotated"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Get(context.Background(), srv.URL, url.Values{"year": {"2023"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits != 1 {
		t.Errorf("expected 1 upstream request, got %d", hits)
	}

	if got := cacheKey(srv.URL, url.Values{"year": {"2023"}, "key": {"s3cret"}}); strings.Contains(got, "s3cret") {
		t.Errorf("credential leaked into cache key: %q", got)
	}
}

func TestGetStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(nil, 0)
	_, err := c.Get(context.Background(), srv.URL, nil)
	if err == nil {
		t.Fatal("expected error")
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %T: %v", err, err)
	}
	if statusErr.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", statusErr.Code)
	}
}

func TestGetWithoutCache(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(nil, 0)
	c.Get(context.Background(), srv.URL, nil)
	c.Get(context.Background(), srv.URL, nil)

	if hits != 2 {
		t.Errorf("expected every call to hit upstream, got %d", hits)
	}
}
