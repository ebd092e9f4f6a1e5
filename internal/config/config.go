package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Boundaries Boundaries `yaml:"boundaries"`
	Census     Census     `yaml:"census"`
	Links      Links      `yaml:"links"`
	Join       Join       `yaml:"join"`
	Cache      CacheCfg   `yaml:"cache"`
	Output     Output     `yaml:"output"`
	Server     Server     `yaml:"server"`
}

// Boundaries configures the town boundary feature service.
// The field lists are probed in order; the first attribute present on a
// feature wins. Different service versions expose different names.
type Boundaries struct {
	Endpoint     string   `yaml:"endpoint"`
	NameFields   []string `yaml:"name_fields"`
	CountyFields []string `yaml:"county_fields"`
	CodeFields   []string `yaml:"code_fields"`
}

// Census configures the ACS statistics endpoints. URLs contain a {year}
// placeholder substituted per fetch.
type Census struct {
	DetailedURL string      `yaml:"detailed_url"`
	ProfileURL  string      `yaml:"profile_url"`
	StateFIPS   string      `yaml:"state_fips"`
	APIKeyEnv   string      `yaml:"api_key_env"`
	DefaultYear int         `yaml:"default_year"`
	Years       []int       `yaml:"years"`
	Indicators  []Indicator `yaml:"indicators"`
}

// Indicator is one ACS variable to fetch and display.
type Indicator struct {
	Code    string `yaml:"code"`
	Label   string `yaml:"label"`
	Dataset string `yaml:"dataset"` // "profile" or "detailed"
	Format  string `yaml:"format"`  // "percent", "dollars", or "number"
}

type Links struct {
	Path     string `yaml:"path"`
	Fallback bool   `yaml:"fallback"`
}

// Join selects the authoritative join key: "code" (composite GEOID,
// default) or "name" (normalized town name).
type Join struct {
	Prefer string `yaml:"prefer"`
}

type CacheCfg struct {
	TTLMinutes int `yaml:"ttl_minutes"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

// ConfigDir returns the XDG config directory for econmap.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "econmap")
}

// DataDir returns the XDG data directory for econmap.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "econmap")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/econmap/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'econmap init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Boundaries: Boundaries{
			Endpoint:     "https://geodata.vermont.gov/arcgis/rest/services/VCGI/VT_Data_Boundaries/FeatureServer/9/query",
			NameFields:   []string{"TOWNNAME", "TOWN", "NAME"},
			CountyFields: []string{"CNTYNAME", "COUNTY", "CO_NAME"},
			CodeFields:   []string{"GEOID", "FIPS6", "TOWNCODE"},
		},
		Census: Census{
			DetailedURL: "https://api.census.gov/data/{year}/acs/acs5",
			ProfileURL:  "https://api.census.gov/data/{year}/acs/acs5/profile",
			StateFIPS:   "50",
			APIKeyEnv:   "CENSUS_API_KEY",
			DefaultYear: 2023,
		},
		Links:  Links{Path: "policy_links.csv", Fallback: true},
		Join:   Join{Prefer: "code"},
		Cache:  CacheCfg{TTLMinutes: 60},
		Server: Server{Port: 8000},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if len(cfg.Census.Indicators) == 0 {
		cfg.Census.Indicators = defaultIndicators()
	}
	if len(cfg.Census.Years) == 0 {
		for y := 2017; y <= cfg.Census.DefaultYear; y++ {
			cfg.Census.Years = append(cfg.Census.Years, y)
		}
	}

	return cfg, nil
}

func defaultIndicators() []Indicator {
	return []Indicator{
		{Code: "DP03_0009PE", Label: "Unemployment rate (%)", Dataset: "profile", Format: "percent"},
		{Code: "B19013_001E", Label: "Median household income ($)", Dataset: "detailed", Format: "dollars"},
		{Code: "DP02_0068PE", Label: "Bachelor's degree or higher (%)", Dataset: "profile", Format: "percent"},
		{Code: "DP03_0119PE", Label: "Individuals in poverty (%)", Dataset: "profile", Format: "percent"},
	}
}

// ProfileCodes returns the indicator codes fetched from the ACS profile dataset.
func (c *Census) ProfileCodes() []string {
	return c.codes("profile")
}

// DetailedCodes returns the indicator codes fetched from the ACS detailed tables.
func (c *Census) DetailedCodes() []string {
	return c.codes("detailed")
}

func (c *Census) codes(dataset string) []string {
	var out []string
	for _, ind := range c.Indicators {
		if ind.Dataset == dataset {
			out = append(out, ind.Code)
		}
	}
	return out
}

// IndicatorByCode looks up an indicator definition. Returns nil if unknown.
func (c *Census) IndicatorByCode(code string) *Indicator {
	for i := range c.Indicators {
		if c.Indicators[i].Code == code {
			return &c.Indicators[i]
		}
	}
	return nil
}

// ValidYear reports whether year is in the configured acceptable range.
func (c *Census) ValidYear(year int) bool {
	for _, y := range c.Years {
		if y == year {
			return true
		}
	}
	return false
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
