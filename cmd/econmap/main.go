package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vtgeo/econmap/internal/cache"
	"github.com/vtgeo/econmap/internal/config"
	"github.com/vtgeo/econmap/internal/links"
	"github.com/vtgeo/econmap/internal/pipeline"
	"github.com/vtgeo/econmap/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "econmap",
	Short:   "Vermont town economic explorer",
	Long:    "econmap joins Vermont town boundaries with ACS economic indicators and local policy links, and serves them as a map dashboard.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Optional .env for the Census API key
		_ = godotenv.Load(".env")

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(linksCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("econmap", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/econmap/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure endpoints, indicators, and the API key variable.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fetch cache status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		defer c.Close()

		stats := c.Stats()
		fmt.Printf("Cache TTL: %d minutes\n", cfg.Cache.TTLMinutes)
		fmt.Printf("Cached responses: %d\n", stats.Entries)
		if !stats.Oldest.IsZero() {
			fmt.Printf("Oldest entry: %s (%s ago)\n",
				stats.Oldest.Format(time.RFC3339), time.Since(stats.Oldest).Round(time.Second))
		}
		return nil
	},
}

// --- fetch command ---

var fetchYear int

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Run the pipeline once: boundaries -> statistics -> links -> join",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		defer c.Close()

		year := fetchYear
		if year == 0 {
			year = cfg.Census.DefaultYear
		}

		pipe := pipeline.New(cfg, c)
		snap := pipe.Run(context.Background(), year)

		for i, step := range snap.Steps {
			fmt.Print(stepLine(i, len(snap.Steps), step))
		}

		if err := snap.Err(); err != nil {
			return fmt.Errorf("pipeline failed: %w", err)
		}

		if n := len(snap.Report.UnmatchedStats); n > 0 {
			fmt.Printf("\n%d indicator records matched no town.\n", n)
		}
		if n := len(snap.Report.AmbiguousKeys); n > 0 {
			fmt.Printf("Ambiguous join keys (first match kept): %v\n", snap.Report.AmbiguousKeys)
		}

		fmt.Println("\nDone. Run 'econmap serve' to view the dashboard.")
		return nil
	},
}

func init() {
	fetchCmd.Flags().IntVar(&fetchYear, "year", 0, "ACS 5-year dataset year (default from config)")
}

// stepLine formats one pipeline step for the fetch output. The total is
// the number of steps the run actually produced, so an aborted run
// numbers its steps honestly.
func stepLine(i, total int, step pipeline.StepResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nStep %d/%d: %s\n", i+1, total, step.Name)
	if step.Err != nil {
		fmt.Fprintf(&b, "  Error: %v\n", step.Err)
	} else {
		fmt.Fprintf(&b, "  %s\n", step.Summary)
	}
	return b.String()
}

// --- links command ---

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "Print the resolved policy link set",
	RunE: func(cmd *cobra.Command, args []string) error {
		anns := links.Load(cfg.Links)
		if len(anns) == 0 {
			fmt.Println("No links configured.")
			return nil
		}

		for _, a := range anns {
			fmt.Printf("  %s\n", a.Town)
			if a.Title != nil {
				fmt.Printf("    %s\n", *a.Title)
			}
			if a.URL != nil {
				fmt.Printf("    %s\n", *a.URL)
			}
		}
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local dashboard server",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		defer c.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		pipe := pipeline.New(cfg, c)
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(cfg, pipe, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

func openCache() (*cache.Cache, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	ttl := time.Duration(cfg.Cache.TTLMinutes) * time.Minute
	return cache.Open(filepath.Join(dataDir, "econmap.db"), ttl)
}
