// Package links loads the optional policy/initiative link table that gets
// attached to towns in the dashboard.
package links

import (
	"encoding/csv"
	"log"
	"os"
	"strings"

	"github.com/vtgeo/econmap/internal/config"
	"github.com/vtgeo/econmap/internal/normalize"
)

// Annotation is one supplementary link for a town. URL, Title, and Tags
// are nil when the source column is absent or empty.
type Annotation struct {
	Town    string
	NameKey string
	URL     *string
	Title   *string
	Tags    *string
}

// Load reads annotations from the configured CSV (columns: town, url,
// title, tags). An unresolvable path is not an error: the built-in
// fallback set is returned when enabled, so the dashboard always has
// something to render.
func Load(cfg config.Links) []Annotation {
	f, err := os.Open(cfg.Path)
	if err != nil {
		if cfg.Fallback {
			log.Printf("no link file at %s, using built-in set", cfg.Path)
			return Fallback()
		}
		log.Printf("no link file at %s, links disabled", cfg.Path)
		return nil
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil || len(rows) < 2 {
		log.Printf("link file %s unusable: %v", cfg.Path, err)
		if cfg.Fallback {
			return Fallback()
		}
		return nil
	}

	cols := make(map[string]int)
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	townCol, ok := cols["town"]
	if !ok {
		log.Printf("link file %s has no town column", cfg.Path)
		if cfg.Fallback {
			return Fallback()
		}
		return nil
	}

	var out []Annotation
	for _, row := range rows[1:] {
		if len(row) <= townCol {
			continue
		}
		town := strings.TrimSpace(row[townCol])
		if town == "" {
			continue
		}
		out = append(out, Annotation{
			Town:    town,
			NameKey: normalize.Name(town),
			URL:     field(row, cols, "url"),
			Title:   field(row, cols, "title"),
			Tags:    field(row, cols, "tags"),
		})
	}

	log.Printf("loaded %d links from %s", len(out), cfg.Path)
	return out
}

// field returns a pointer to the named cell, or nil when the column is
// missing or the cell empty.
func field(row []string, cols map[string]int, name string) *string {
	i, ok := cols[name]
	if !ok || len(row) <= i {
		return nil
	}
	v := strings.TrimSpace(row[i])
	if v == "" {
		return nil
	}
	return &v
}

// Fallback returns the built-in seed set of policy links.
func Fallback() []Annotation {
	return []Annotation{
		seed("Burlington",
			"https://www.burlingtonvt.gov/157/Community-Economic-Development-Office-CE",
			"Community & Economic Development Office (CEDO)",
			"strategic-plan,housing,workforce"),
		seed("Montpelier",
			"https://www.montpelier-vt.org/602/Economic-Development",
			"City Economic Development (links & plan)",
			"strategic-plan,grants,regional"),
		seed("Rutland",
			"https://www.rutlandvtbusiness.com/",
			"Rutland Redevelopment Authority (RRA)",
			"redevelopment,tif,small-business"),
		seed("South Burlington",
			"https://www.southburlingtonvt.gov/595/Economic-Development-Strategic-Plan",
			"Economic Development Strategic Plan",
			"strategic-plan,engagement"),
		seed("Essex",
			"https://www.essexvt.gov/1469/ECONOMIC-DEVELOPMENT-STUDY",
			"Economic Development Study",
			"study,priorities"),
	}
}

func seed(town, url, title, tags string) Annotation {
	return Annotation{
		Town:    town,
		NameKey: normalize.Name(town),
		URL:     &url,
		Title:   &title,
		Tags:    &tags,
	}
}
