// Package join merges regions, indicator records, and annotations into
// one unified record set with left-join semantics from the regions.
package join

import (
	"sort"

	"github.com/vtgeo/econmap/internal/census"
	"github.com/vtgeo/econmap/internal/geo"
	"github.com/vtgeo/econmap/internal/links"
)

// UnifiedRecord is one region with whatever statistics and annotation
// matched it. Stats and Link are nil when nothing matched; the region
// itself always appears.
type UnifiedRecord struct {
	Region geo.Region
	Stats  *census.IndicatorRecord
	Link   *links.Annotation
}

// Value returns the indicator value for code, or nil when the region has
// no statistics or the value was unreported.
func (r UnifiedRecord) Value(code string) *float64 {
	if r.Stats == nil {
		return nil
	}
	return r.Stats.Values[code]
}

// Report surfaces data-quality problems the join encountered instead of
// dropping them silently.
type Report struct {
	MatchedByCode int
	MatchedByName int
	// RegionsWithoutStats lists region names that matched no indicator record.
	RegionsWithoutStats []string
	// UnmatchedStats lists indicator record names that matched no region.
	UnmatchedStats []string
	// AmbiguousKeys lists join keys that more than one indicator record or
	// annotation collapsed to; for those, the first match won and the rest
	// were discarded.
	AmbiguousKeys []string
}

// Options controls the join key preference: "code" matches composite
// GEOIDs first with normalized names as fallback; "name" skips the code
// path entirely.
type Options struct {
	Prefer string
}

// Unify joins statistics and annotations onto regions. Every region
// appears exactly once in the output regardless of match success;
// duplicate keys resolve first-match-wins and are reported.
func Unify(regions []geo.Region, stats []census.IndicatorRecord, anns []links.Annotation, opts Options) ([]UnifiedRecord, Report) {
	var report Report
	ambiguous := make(map[string]struct{})

	statsByCode := make(map[string]int)
	statsByName := make(map[string]int)
	for i, s := range stats {
		if s.GeoID != "" {
			if _, dup := statsByCode[s.GeoID]; dup {
				ambiguous[s.GeoID] = struct{}{}
			} else {
				statsByCode[s.GeoID] = i
			}
		}
		if s.NameKey != "" {
			if _, dup := statsByName[s.NameKey]; dup {
				ambiguous[s.NameKey] = struct{}{}
			} else {
				statsByName[s.NameKey] = i
			}
		}
	}

	annsByName := make(map[string]int)
	for i, a := range anns {
		if _, dup := annsByName[a.NameKey]; dup {
			ambiguous[a.NameKey] = struct{}{}
		} else {
			annsByName[a.NameKey] = i
		}
	}

	statMatched := make([]bool, len(stats))
	records := make([]UnifiedRecord, 0, len(regions))

	for _, region := range regions {
		rec := UnifiedRecord{Region: region}

		statIdx := -1
		if opts.Prefer != "name" && region.Code != "" {
			if i, ok := statsByCode[region.Code]; ok {
				statIdx = i
				report.MatchedByCode++
			}
		}
		if statIdx < 0 {
			if i, ok := statsByName[region.NameKey]; ok {
				statIdx = i
				report.MatchedByName++
			}
		}

		if statIdx >= 0 {
			rec.Stats = &stats[statIdx]
			statMatched[statIdx] = true
		} else {
			report.RegionsWithoutStats = append(report.RegionsWithoutStats, region.Name)
		}

		if i, ok := annsByName[region.NameKey]; ok {
			rec.Link = &anns[i]
		}

		records = append(records, rec)
	}

	for i, matched := range statMatched {
		if !matched {
			report.UnmatchedStats = append(report.UnmatchedStats, stats[i].Name)
		}
	}

	for k := range ambiguous {
		report.AmbiguousKeys = append(report.AmbiguousKeys, k)
	}
	sort.Strings(report.AmbiguousKeys)

	return records, report
}
