// Package server renders the dashboard: a sortable indicator table, a
// Leaflet choropleth fed by a GeoJSON endpoint, and data notes.
package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/vtgeo/econmap/internal/config"
	"github.com/vtgeo/econmap/internal/join"
	"github.com/vtgeo/econmap/internal/pipeline"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

//go:embed about.md
var aboutMarkdown []byte

var md = goldmark.New()

// Server is the HTTP server for the dashboard.
type Server struct {
	cfg   *config.Config
	pipe  *pipeline.Pipeline
	pages map[string]*template.Template
	mux   *http.ServeMux
}

// New creates a new Server.
func New(cfg *config.Config, pipe *pipeline.Pipeline) (*Server, error) {
	funcMap := template.FuncMap{
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "about.html", "error.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{cfg: cfg, pipe: pipe, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/about", s.handleAbout)
	s.mux.HandleFunc("/api/records", s.handleRecords)
	s.mux.HandleFunc("/api/geojson", s.handleGeoJSON)
}

// year reads the ?year= parameter, defaulting to the configured year.
func (s *Server) year(r *http.Request) int {
	if y, err := strconv.Atoi(r.URL.Query().Get("year")); err == nil && s.cfg.Census.ValidYear(y) {
		return y
	}
	return s.cfg.Census.DefaultYear
}

// metric reads the ?metric= parameter, defaulting to the first indicator.
func (s *Server) metric(r *http.Request) config.Indicator {
	code := r.URL.Query().Get("metric")
	if ind := s.cfg.Census.IndicatorByCode(code); ind != nil {
		return *ind
	}
	return s.cfg.Census.Indicators[0]
}

type tableRow struct {
	Name      string
	County    string
	GeoID     string
	Values    []string // formatted per indicator, "" for null
	LinkURL   string
	LinkTitle string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	year := s.year(r)
	metric := s.metric(r)

	snap := s.pipe.Run(r.Context(), year)
	if err := snap.Err(); err != nil {
		s.renderError(w, err)
		return
	}

	rows := make([]tableRow, 0, len(snap.Records))
	for _, rec := range snap.Records {
		row := tableRow{
			Name:   rec.Region.Name,
			County: rec.Region.County,
			GeoID:  rec.Region.Code,
		}
		for _, ind := range s.cfg.Census.Indicators {
			row.Values = append(row.Values, formatValue(rec.Value(ind.Code), ind.Format))
		}
		if rec.Link != nil {
			if rec.Link.URL != nil {
				row.LinkURL = *rec.Link.URL
			}
			if rec.Link.Title != nil {
				row.LinkTitle = *rec.Link.Title
			}
		}
		rows = append(rows, row)
	}

	s.render(w, "index.html", map[string]any{
		"Years":      s.cfg.Census.Years,
		"Year":       year,
		"Indicators": s.cfg.Census.Indicators,
		"Metric":     metric,
		"Rows":       rows,
		"Report":     snap.Report,
		"Warnings":   reportWarnings(snap.Report),
	})
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := md.Convert(aboutMarkdown, &buf); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.render(w, "about.html", map[string]any{
		"Body": template.HTML(buf.String()), //nolint: gosec
	})
}

// handleRecords serves the unified record set as JSON for the table view.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	year := s.year(r)
	snap := s.pipe.Run(r.Context(), year)
	if err := snap.Err(); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	type jsonRecord struct {
		Name      string              `json:"name"`
		County    string              `json:"county,omitempty"`
		GeoID     string              `json:"geoid,omitempty"`
		Values    map[string]*float64 `json:"values"`
		LinkURL   *string             `json:"link_url,omitempty"`
		LinkTitle *string             `json:"link_title,omitempty"`
	}

	out := struct {
		Year      int          `json:"year"`
		Records   []jsonRecord `json:"records"`
		Unmatched []string     `json:"unmatched_stats,omitempty"`
		Ambiguous []string     `json:"ambiguous_keys,omitempty"`
	}{Year: year, Unmatched: snap.Report.UnmatchedStats, Ambiguous: snap.Report.AmbiguousKeys}

	for _, rec := range snap.Records {
		jr := jsonRecord{
			Name:   rec.Region.Name,
			County: rec.Region.County,
			GeoID:  rec.Region.Code,
			Values: recordValues(rec, s.cfg.Census.Indicators),
		}
		if rec.Link != nil {
			jr.LinkURL = rec.Link.URL
			jr.LinkTitle = rec.Link.Title
		}
		out.Records = append(out.Records, jr)
	}

	writeJSON(w, out)
}

// handleGeoJSON serves a FeatureCollection with indicator values and the
// policy link merged into each feature's properties, plus a prebuilt
// popup snippet. The map page colors regions by the selected metric.
func (s *Server) handleGeoJSON(w http.ResponseWriter, r *http.Request) {
	year := s.year(r)
	metric := s.metric(r)

	snap := s.pipe.Run(r.Context(), year)
	if err := snap.Err(); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	type feature struct {
		Type       string          `json:"type"`
		Geometry   json.RawMessage `json:"geometry"`
		Properties map[string]any  `json:"properties"`
	}

	fc := struct {
		Type     string    `json:"type"`
		Features []feature `json:"features"`
	}{Type: "FeatureCollection"}

	for _, rec := range snap.Records {
		props := map[string]any{
			"name":   rec.Region.Name,
			"geoid":  rec.Region.Code,
			"metric": rec.Value(metric.Code),
			"values": recordValues(rec, s.cfg.Census.Indicators),
			"popup":  popupHTML(rec, s.cfg.Census.Indicators),
		}
		fc.Features = append(fc.Features, feature{
			Type:       "Feature",
			Geometry:   rec.Region.Geometry,
			Properties: props,
		})
	}

	writeJSON(w, fc)
}

func recordValues(rec join.UnifiedRecord, inds []config.Indicator) map[string]*float64 {
	values := make(map[string]*float64, len(inds))
	for _, ind := range inds {
		values[ind.Code] = rec.Value(ind.Code)
	}
	return values
}

// popupHTML builds the per-town popup: title, formatted indicator lines,
// and the policy link when one matched.
func popupHTML(rec join.UnifiedRecord, inds []config.Indicator) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>", template.HTMLEscapeString(rec.Region.Name))
	for _, ind := range inds {
		v := formatValue(rec.Value(ind.Code), ind.Format)
		if v == "" {
			continue
		}
		fmt.Fprintf(&b, "<br><b>%s:</b> %s", template.HTMLEscapeString(ind.Label), v)
	}
	if rec.Link != nil && rec.Link.URL != nil {
		title := "Policy/Initiative link"
		if rec.Link.Title != nil {
			title = *rec.Link.Title
		}
		fmt.Fprintf(&b, `<br><a href="%s" target="_blank">%s</a>`,
			template.HTMLEscapeString(*rec.Link.URL), template.HTMLEscapeString(title))
	}
	return b.String()
}

// formatValue renders an indicator value for display: percents with one
// decimal, dollar amounts with thousands separators. Null values render
// as the empty string, never as zero.
func formatValue(v *float64, format string) string {
	if v == nil {
		return ""
	}
	switch format {
	case "percent":
		return strconv.FormatFloat(*v, 'f', 1, 64)
	case "dollars":
		return "$" + groupThousands(strconv.FormatFloat(*v, 'f', 0, 64))
	default:
		return strconv.FormatFloat(*v, 'f', -1, 64)
	}
}

func groupThousands(digits string) string {
	neg := strings.HasPrefix(digits, "-")
	if neg {
		digits = digits[1:]
	}
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func reportWarnings(rep join.Report) []string {
	var warnings []string
	if n := len(rep.RegionsWithoutStats); n > 0 {
		warnings = append(warnings, fmt.Sprintf("%d towns have no statistics for this year", n))
	}
	if n := len(rep.AmbiguousKeys); n > 0 {
		warnings = append(warnings, fmt.Sprintf("%d join keys were ambiguous (first match kept): %s",
			n, strings.Join(rep.AmbiguousKeys, ", ")))
	}
	return warnings
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

// renderError shows a visible error page instead of partial data.
func (s *Server) renderError(w http.ResponseWriter, err error) {
	log.Printf("pipeline error: %v", err)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	tmpl := s.pages["error.html"]
	if execErr := tmpl.ExecuteTemplate(w, "base.html", map[string]any{"Error": err.Error()}); execErr != nil {
		log.Printf("Error rendering error page: %v", execErr)
	}
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
	}
}

// Serve starts the HTTP server on the given port.
func Serve(cfg *config.Config, pipe *pipeline.Pipeline, port int) error {
	srv, err := New(cfg, pipe)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
