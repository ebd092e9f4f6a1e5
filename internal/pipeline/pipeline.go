// Package pipeline runs the fetch-normalize-join sequence that produces
// the unified record set behind the dashboard.
package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/vtgeo/econmap/internal/cache"
	"github.com/vtgeo/econmap/internal/census"
	"github.com/vtgeo/econmap/internal/config"
	"github.com/vtgeo/econmap/internal/fetchkit"
	"github.com/vtgeo/econmap/internal/geo"
	"github.com/vtgeo/econmap/internal/join"
	"github.com/vtgeo/econmap/internal/links"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Snapshot is the outcome of one pipeline run for a reporting year.
type Snapshot struct {
	Year    int
	Records []join.UnifiedRecord
	Report  join.Report
	Steps   []StepResult
}

// Err returns the first step error, if any step failed.
func (s *Snapshot) Err() error {
	for _, step := range s.Steps {
		if step.Err != nil {
			return fmt.Errorf("%s: %w", step.Name, step.Err)
		}
	}
	return nil
}

// Pipeline orchestrates the four steps: boundaries, statistics,
// annotations, join. Steps run strictly sequentially; the fetch cache
// makes repeated runs within the TTL free of network calls.
type Pipeline struct {
	cfg        *config.Config
	boundaries *geo.Client
	stats      *census.Client
}

// New creates a pipeline sharing one cached HTTP client across adapters.
func New(cfg *config.Config, c *cache.Cache) *Pipeline {
	hc := fetchkit.New(c, 0)
	return &Pipeline{
		cfg:        cfg,
		boundaries: geo.NewClient(cfg.Boundaries, hc),
		stats:      census.NewClient(cfg.Census, hc),
	}
}

// Run executes a full pipeline run for one reporting year. A boundary or
// statistics failure aborts the run; a missing link file never does.
func (p *Pipeline) Run(ctx context.Context, year int) *Snapshot {
	s := &Snapshot{Year: year}

	if !p.cfg.Census.ValidYear(year) {
		s.Steps = append(s.Steps, StepResult{
			Name: "Validate",
			Err:  fmt.Errorf("year %d not in configured range %v", year, p.cfg.Census.Years),
		})
		return s
	}

	log.Println("Step 1/4: fetching town boundaries...")
	regions, err := p.boundaries.FetchTowns(ctx)
	if err != nil {
		s.Steps = append(s.Steps, StepResult{Name: "Boundaries", Err: err})
		return s
	}
	s.Steps = append(s.Steps, StepResult{
		Name:    "Boundaries",
		Summary: fmt.Sprintf("%d towns", len(regions)),
	})

	log.Printf("Step 2/4: fetching ACS indicators for %d...", year)
	stats, err := p.stats.FetchIndicators(ctx, year)
	if err != nil {
		s.Steps = append(s.Steps, StepResult{Name: "Statistics", Err: err})
		return s
	}
	s.Steps = append(s.Steps, StepResult{
		Name:    "Statistics",
		Summary: fmt.Sprintf("%d indicator records", len(stats)),
	})

	log.Println("Step 3/4: loading policy links...")
	anns := links.Load(p.cfg.Links)
	s.Steps = append(s.Steps, StepResult{
		Name:    "Links",
		Summary: fmt.Sprintf("%d annotations", len(anns)),
	})

	log.Println("Step 4/4: joining...")
	s.Records, s.Report = join.Unify(regions, stats, anns, join.Options{Prefer: p.cfg.Join.Prefer})
	s.Steps = append(s.Steps, StepResult{
		Name: "Join",
		Summary: fmt.Sprintf("%d records (%d by code, %d by name, %d without stats)",
			len(s.Records), s.Report.MatchedByCode, s.Report.MatchedByName,
			len(s.Report.RegionsWithoutStats)),
	})

	return s
}
