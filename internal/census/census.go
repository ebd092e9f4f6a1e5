// Package census fetches ACS economic indicators at the county
// subdivision (town) level and keys them by composite GEOID.
package census

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/vtgeo/econmap/internal/config"
	"github.com/vtgeo/econmap/internal/fetchkit"
	"github.com/vtgeo/econmap/internal/normalize"
)

// IndicatorRecord is one region's statistical snapshot for a reporting
// year. Values maps indicator code to value; a nil entry means the value
// was unreported, which is distinct from zero.
type IndicatorRecord struct {
	GeoID   string // composite state+county+cousub code, "" when unavailable
	Name    string // e.g. "Burlington city, Chittenden County, Vermont"
	NameKey string
	Year    int
	Values  map[string]*float64
}

// Client fetches indicator tables from the Census API.
type Client struct {
	cfg  config.Census
	http *fetchkit.Client
}

// NewClient creates a statistics client.
func NewClient(cfg config.Census, hc *fetchkit.Client) *Client {
	return &Client{cfg: cfg, http: hc}
}

// FetchIndicators fetches all configured indicators for a year. The
// profile and detailed variables live in separate datasets, so this can
// issue two sub-fetches; results merge on GEOID with left-join semantics,
// the profile table being primary. A non-success response from either
// dataset fails the whole call.
func (c *Client) FetchIndicators(ctx context.Context, year int) ([]IndicatorRecord, error) {
	profileCodes := c.cfg.ProfileCodes()
	detailedCodes := c.cfg.DetailedCodes()

	var primary, secondary []IndicatorRecord
	var secondaryCodes []string

	if len(profileCodes) > 0 {
		recs, err := c.fetchTable(ctx, c.cfg.ProfileURL, year, profileCodes)
		if err != nil {
			return nil, fmt.Errorf("fetching ACS profile: %w", err)
		}
		primary = recs
	}
	if len(detailedCodes) > 0 {
		recs, err := c.fetchTable(ctx, c.cfg.DetailedURL, year, detailedCodes)
		if err != nil {
			return nil, fmt.Errorf("fetching ACS detailed: %w", err)
		}
		if primary == nil {
			primary = recs
		} else {
			secondary = recs
			secondaryCodes = detailedCodes
		}
	}

	merged := mergeTables(primary, secondary, secondaryCodes)
	log.Printf("fetched %d indicator records for %d", len(merged), year)
	return merged, nil
}

// fetchTable fetches one dataset and parses the array-of-arrays response
// (header row first) into records.
func (c *Client) fetchTable(ctx context.Context, urlTmpl string, year int, codes []string) ([]IndicatorRecord, error) {
	endpoint := strings.Replace(urlTmpl, "{year}", strconv.Itoa(year), 1)

	params := url.Values{
		"get": {strings.Join(codes, ",") + ",NAME"},
		"for": {"county subdivision:*"},
		"in":  {"state:" + c.cfg.StateFIPS},
	}
	if c.cfg.APIKeyEnv != "" {
		if key := os.Getenv(c.cfg.APIKeyEnv); key != "" {
			params.Set("key", key)
		}
	}

	body, err := c.http.Get(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	var rows [][]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(rows) < 1 {
		return nil, fmt.Errorf("response has no header row")
	}

	header := make(map[string]int)
	for i, cell := range rows[0] {
		header[cellString(cell)] = i
	}
	nameCol, ok := header["NAME"]
	if !ok {
		return nil, fmt.Errorf("response missing NAME column")
	}
	countyCol, hasCounty := header["county"]
	cousubCol, hasCousub := header["county subdivision"]

	var records []IndicatorRecord
	for _, row := range rows[1:] {
		if len(row) <= nameCol {
			log.Printf("skipping short row in %d response", year)
			continue
		}

		name := cellString(row[nameCol])

		// Older profile endpoints sometimes omit the county column; those
		// records carry no composite code and join by name instead.
		geoID := ""
		if hasCounty && hasCousub && len(row) > countyCol && len(row) > cousubCol {
			county := cellString(row[countyCol])
			cousub := cellString(row[cousubCol])
			if county != "" && cousub != "" {
				geoID = normalize.GeoID(c.cfg.StateFIPS, county, cousub)
			}
		}

		values := make(map[string]*float64, len(codes))
		for _, code := range codes {
			col, ok := header[code]
			if !ok || len(row) <= col {
				values[code] = nil
				continue
			}
			values[code] = coerceNumeric(cellString(row[col]))
		}

		records = append(records, IndicatorRecord{
			GeoID:   geoID,
			Name:    name,
			NameKey: normalize.Name(name),
			Year:    year,
			Values:  values,
		})
	}

	return records, nil
}

// mergeTables folds secondary values into primary records, matching on
// GEOID (name key when either side has no code). Left join: a primary
// record with no secondary match keeps nil for the secondary codes, and
// unmatched secondary records are dropped.
func mergeTables(primary, secondary []IndicatorRecord, secondaryCodes []string) []IndicatorRecord {
	if len(secondary) == 0 {
		return primary
	}

	byGeoID := make(map[string]IndicatorRecord, len(secondary))
	byName := make(map[string]IndicatorRecord, len(secondary))
	for _, r := range secondary {
		if r.GeoID != "" {
			if _, ok := byGeoID[r.GeoID]; !ok {
				byGeoID[r.GeoID] = r
			}
		}
		if _, ok := byName[r.NameKey]; !ok {
			byName[r.NameKey] = r
		}
	}

	for i := range primary {
		var match IndicatorRecord
		ok := false
		if primary[i].GeoID != "" {
			match, ok = byGeoID[primary[i].GeoID]
		}
		if !ok {
			match, ok = byName[primary[i].NameKey]
		}

		for _, code := range secondaryCodes {
			if ok {
				primary[i].Values[code] = match.Values[code]
			} else {
				primary[i].Values[code] = nil
			}
		}
	}

	return primary
}

// coerceNumeric parses a cell into a float. Empty strings, unparsable
// text, and the Census negative sentinels for suppressed values all map
// to nil, never to zero.
func coerceNumeric(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	if v <= -666666666 {
		return nil
	}
	return &v
}

// cellString renders a JSON cell as a string. The Census API mostly
// returns strings but numeric cells and nulls appear in some vintages.
func cellString(cell any) string {
	switch v := cell.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
