package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator"
	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/tunedesk/internal/quality"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Backend    Backend           `yaml:"backend"`
	Polling    Polling           `yaml:"polling"`
	Estimation Estimation        `yaml:"estimation"`
	Profiles   []quality.Profile `yaml:"profiles"`
	Provider   Provider          `yaml:"provider"`
	Scrape     Scrape            `yaml:"scrape"`
	Wizard     Wizard            `yaml:"wizard"`
	Output     Output            `yaml:"output"`
	Server     Server            `yaml:"server"`
	Logging    Logging           `yaml:"logging"`
}

type Backend struct {
	BaseURL    string        `yaml:"base_url" validate:"required,url"`
	TokenEnv   string        `yaml:"token_env" validate:"required"`
	Timeout    time.Duration `yaml:"timeout"`
	PricingTTL time.Duration `yaml:"pricing_ttl"`
}

type Polling struct {
	ContentInterval time.Duration `yaml:"content_interval" validate:"min=1000000"`
	DatasetInterval time.Duration `yaml:"dataset_interval" validate:"min=1000000"`
	JobInterval     time.Duration `yaml:"job_interval" validate:"min=1000000"`
}

// Estimation tunes the character extractor. The YouTube rate is an estimate
// of spoken characters per minute of video.
type Estimation struct {
	YouTubeCharsPerMinute float64 `yaml:"youtube_chars_per_minute" validate:"gt=0"`
	BytesRatio            float64 `yaml:"bytes_ratio" validate:"gt=0"`
	DefaultCharacters     int     `yaml:"default_characters" validate:"gt=0"`
}

type Provider struct {
	Verify    string `yaml:"verify" validate:"oneof=backend openai"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type Scrape struct {
	Mode    string        `yaml:"mode" validate:"oneof=backend local"`
	Timeout time.Duration `yaml:"timeout"`
	FeedMax int           `yaml:"feed_max"`
}

type Wizard struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Profile  string `yaml:"profile"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port" validate:"min=0,max=65535"`
}

type Logging struct {
	Level string `yaml:"level"`
	Mode  string `yaml:"mode" validate:"oneof=development production"`
}

var validate = validator.New()

// ConfigDir returns the XDG config directory for tunedesk.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "tunedesk")
}

// DataDir returns the XDG data directory for tunedesk.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "tunedesk")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/tunedesk/config.yaml > ./config.yaml
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
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'tunedesk init' to create a default config",
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

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Backend: Backend{
			BaseURL:    "http://localhost:8080/api",
			TokenEnv:   "TUNEDESK_TOKEN",
			Timeout:    60 * time.Second,
			PricingTTL: 10 * time.Minute,
		},
		Polling: Polling{
			ContentInterval: 5 * time.Second,
			DatasetInterval: 3 * time.Second,
			JobInterval:     30 * time.Second,
		},
		Estimation: Estimation{
			YouTubeCharsPerMinute: quality.DefaultYouTubeCharsPerMinute,
			BytesRatio:            quality.DefaultBytesRatio,
			DefaultCharacters:     quality.DefaultCharacters,
		},
		Provider: Provider{Verify: "backend", APIKeyEnv: "OPENAI_API_KEY"},
		Scrape:   Scrape{Mode: "backend", Timeout: 15 * time.Second, FeedMax: 20},
		Wizard:   Wizard{Provider: "openai", Model: "gpt-4o-mini-2024-07-18", Profile: "other"},
		Server:   Server{Port: 8000},
		Logging:  Logging{Level: "info", Mode: "development"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = quality.DefaultProfiles()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and profile threshold ordering.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]struct{})
	for _, p := range c.Profiles {
		if p.Name == "" {
			return fmt.Errorf("invalid config: profile without a name")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("invalid config: duplicate profile %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Min <= 0 || p.Min >= p.Optimal || p.Optimal > p.Max {
			return fmt.Errorf("invalid config: profile %q needs 0 < min < optimal <= max", p.Name)
		}
	}
	return nil
}

// Extractor builds the character extractor from the estimation settings.
func (c *Config) Extractor() quality.Extractor {
	return quality.Extractor{
		YouTubeCharsPerMinute: c.Estimation.YouTubeCharsPerMinute,
		BytesRatio:            c.Estimation.BytesRatio,
		DefaultCharacters:     c.Estimation.DefaultCharacters,
	}
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath is the location of the local store.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "tunedesk.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
