package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vtgeo/econmap/internal/cache"
	"github.com/vtgeo/econmap/internal/config"
	"github.com/vtgeo/econmap/internal/pipeline"
)

const boundaryResponse = `{
  "type": "FeatureCollection",
  "features": [
    {"properties": {"TOWNNAME": "Burlington", "CNTYNAME": "Chittenden"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}},
    {"properties": {"TOWNNAME": "Montpelier", "CNTYNAME": "Washington"},
     "geometry": {"type": "Polygon", "coordinates": [[[2,2],[3,2],[3,3],[2,2]]]}}
  ]
}`

const profileResponse = `[
["DP03_0009PE","NAME","state","county","county subdivision"],
["3.2","Burlington city, Chittenden County, Vermont","50","007","10675"]]`

const detailedResponse = `[
["B19013_001E","NAME","state","county","county subdivision"],
["60123","Burlington city, Chittenden County, Vermont","50","007","10675"]]`

func testServer(t *testing.T, backendUp bool) *Server {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !backendUp {
			http.Error(w, "service down", http.StatusServiceUnavailable)
			return
		}
		switch r.URL.Path {
		case "/bounds":
			w.Write([]byte(boundaryResponse))
		case "/2023/acs/acs5/profile":
			w.Write([]byte(profileResponse))
		case "/2023/acs/acs5":
			w.Write([]byte(detailedResponse))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(backend.Close)

	cfg := &config.Config{
		Boundaries: config.Boundaries{
			Endpoint:     backend.URL + "/bounds",
			NameFields:   []string{"TOWNNAME"},
			CountyFields: []string{"CNTYNAME"},
			CodeFields:   []string{"GEOID"},
		},
		Census: config.Census{
			ProfileURL:  backend.URL + "/{year}/acs/acs5/profile",
			DetailedURL: backend.URL + "/{year}/acs/acs5",
			StateFIPS:   "50",
			DefaultYear: 2023,
			Years:       []int{2022, 2023},
			Indicators: []config.Indicator{
				{Code: "DP03_0009PE", Label: "Unemployment rate (%)", Dataset: "profile", Format: "percent"},
				{Code: "B19013_001E", Label: "Median household income ($)", Dataset: "detailed", Format: "dollars"},
			},
		},
		Links: config.Links{Path: filepath.Join(t.TempDir(), "nope.csv"), Fallback: true},
		Join:  config.Join{Prefer: "code"},
	}

	pipe := pipeline.New(cfg, cache.New(time.Hour))
	srv, err := New(cfg, pipe)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIndexRoute(t *testing.T) {
	srv := testServer(t, true)
	rec := get(t, srv, "/")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Burlington") {
		t.Error("expected Burlington in response")
	}
	if !strings.Contains(body, "Montpelier") {
		t.Error("expected Montpelier in response")
	}
	if !strings.Contains(body, "Unemployment rate") {
		t.Error("expected indicator label in response")
	}
	// Formatted values: percent with one decimal, income with separator.
	if !strings.Contains(body, "3.2") {
		t.Error("expected formatted unemployment value")
	}
	if !strings.Contains(body, "$60,123") {
		t.Error("expected formatted income value")
	}
}

func TestIndexErrorPage(t *testing.T) {
	srv := testServer(t, false)
	rec := get(t, srv, "/")

	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Data could not be loaded") {
		t.Error("expected visible error page, not partial data")
	}
}

func TestRecordsRoute(t *testing.T) {
	srv := testServer(t, true)
	rec := get(t, srv, "/api/records?year=2023")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var out struct {
		Year    int `json:"year"`
		Records []struct {
			Name   string              `json:"name"`
			Values map[string]*float64 `json:"values"`
		} `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if out.Year != 2023 {
		t.Errorf("expected year 2023, got %d", out.Year)
	}
	if len(out.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out.Records))
	}
	if v := out.Records[0].Values["DP03_0009PE"]; v == nil || *v != 3.2 {
		t.Errorf("expected 3.2 for Burlington, got %v", v)
	}
	if v := out.Records[1].Values["DP03_0009PE"]; v != nil {
		t.Errorf("expected null for Montpelier, got %v", *v)
	}
}

func TestGeoJSONRoute(t *testing.T) {
	srv := testServer(t, true)
	rec := get(t, srv, "/api/geojson?year=2023&metric=DP03_0009PE")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry   json.RawMessage `json:"geometry"`
			Properties struct {
				Name   string   `json:"name"`
				Metric *float64 `json:"metric"`
				Popup  string   `json:"popup"`
			} `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &fc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if fc.Type != "FeatureCollection" {
		t.Errorf("expected FeatureCollection, got %q", fc.Type)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("expected 2 features, got %d", len(fc.Features))
	}

	b := fc.Features[0]
	if b.Properties.Metric == nil || *b.Properties.Metric != 3.2 {
		t.Errorf("expected metric 3.2, got %v", b.Properties.Metric)
	}
	if len(b.Geometry) == 0 {
		t.Error("expected geometry carried through")
	}
	if !strings.Contains(b.Properties.Popup, "Burlington") {
		t.Error("expected popup to name the town")
	}
	// Fallback link lands in the popup
	if !strings.Contains(b.Properties.Popup, "href") {
		t.Error("expected policy link in popup")
	}

	m := fc.Features[1]
	if m.Properties.Metric != nil {
		t.Errorf("expected null metric for Montpelier, got %v", *m.Properties.Metric)
	}
}

func TestGeoJSONErrorStatus(t *testing.T) {
	srv := testServer(t, false)
	rec := get(t, srv, "/api/geojson")

	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}

func TestAboutRoute(t *testing.T) {
	srv := testServer(t, true)
	rec := get(t, srv, "/about")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ACS") {
		t.Error("expected data notes in response")
	}
}

func TestStaticRoute(t *testing.T) {
	srv := testServer(t, true)
	rec := get(t, srv, "/static/style.css")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "font-family") {
		t.Error("expected CSS content")
	}
}

func TestFormatValue(t *testing.T) {
	v := 3.25
	if got := formatValue(&v, "percent"); got != "3.2" && got != "3.3" {
		t.Errorf("unexpected percent format: %q", got)
	}

	income := 1234567.0
	if got := formatValue(&income, "dollars"); got != "$1,234,567" {
		t.Errorf("unexpected dollar format: %q", got)
	}

	if got := formatValue(nil, "percent"); got != "" {
		t.Errorf("expected empty string for null, got %q", got)
	}
}
