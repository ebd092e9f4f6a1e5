// Package geo fetches town boundary polygons from an ArcGIS feature
// service as GeoJSON.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"

	"github.com/vtgeo/econmap/internal/config"
	"github.com/vtgeo/econmap/internal/fetchkit"
	"github.com/vtgeo/econmap/internal/normalize"
)

// Region is one named geographic area with its boundary polygon.
// Geometry is carried as raw GeoJSON and never re-projected; the map
// renderer consumes it as-is.
type Region struct {
	Name     string
	County   string
	Code     string // composite GEOID when the service provides one, else ""
	NameKey  string
	Geometry json.RawMessage
}

// Client fetches town boundaries from the configured feature service.
type Client struct {
	cfg  config.Boundaries
	http *fetchkit.Client
}

// NewClient creates a boundary client.
func NewClient(cfg config.Boundaries, hc *fetchkit.Client) *Client {
	return &Client{cfg: cfg, http: hc}
}

// FetchTowns fetches all town boundaries. Features with missing or
// malformed geometry are skipped; a failed fetch or an unparsable
// response is an error.
func (c *Client) FetchTowns(ctx context.Context) ([]Region, error) {
	params := url.Values{
		"where":     {"1=1"},
		"outFields": {"*"},
		"f":         {"geojson"},
	}

	body, err := c.http.Get(ctx, c.cfg.Endpoint, params)
	if err != nil {
		return nil, fmt.Errorf("fetching boundaries: %w", err)
	}

	var fc struct {
		Features []struct {
			Properties map[string]any  `json:"properties"`
			Geometry   json.RawMessage `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, fmt.Errorf("parsing boundary response: %w", err)
	}

	var regions []Region
	skipped := 0
	for _, f := range fc.Features {
		if !validGeometry(f.Geometry) {
			skipped++
			continue
		}

		name := probe(f.Properties, c.cfg.NameFields)
		if name == "" {
			skipped++
			continue
		}

		regions = append(regions, Region{
			Name:     name,
			County:   probe(f.Properties, c.cfg.CountyFields),
			Code:     probe(f.Properties, c.cfg.CodeFields),
			NameKey:  normalize.Name(name),
			Geometry: f.Geometry,
		})
	}

	if skipped > 0 {
		log.Printf("skipped %d boundary features with missing name or geometry", skipped)
	}
	log.Printf("fetched %d town boundaries", len(regions))
	return regions, nil
}

// validGeometry reports whether raw is a usable GeoJSON geometry: non-null
// with a type and coordinates.
func validGeometry(raw json.RawMessage) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}
	var g struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(raw, &g); err != nil {
		return false
	}
	return g.Type != "" && len(g.Coordinates) > 0
}

// probe returns the first non-empty attribute among candidates. Numeric
// attribute values (FIPS codes come back as numbers from some service
// versions) are formatted without a decimal point.
func probe(props map[string]any, candidates []string) string {
	for _, field := range candidates {
		switch v := props[field].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return ""
}
