package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

type rawCfg struct {
	// Storage and HTTP
	DBPath string `long:"db" env:"DB_PATH" default:"data/autopublish.db" description:"SQLite database path"`
	Port   string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`

	// Automation
	PollInterval    time.Duration `long:"poll-interval" env:"POLL_INTERVAL" default:"1m" description:"Scheduler poll interval"`
	RestartGrace    time.Duration `long:"restart-grace" env:"RESTART_GRACE" default:"2s" description:"Pause between stop and start on restart"`
	Concurrency     int           `long:"concurrency" env:"CONCURRENCY" default:"4" description:"Schedules or articles processed in parallel"`
	ReanalyzeAfter  time.Duration `long:"reanalyze-after" env:"REANALYZE_AFTER" default:"0s" description:"Refresh a due schedule's profile when older than this (0 disables)"`
	SitesFile       string        `long:"sites-file" env:"SITES_FILE" default:"sites.yaml" description:"YAML registry of publishing sites"`
	DefaultCategory string        `long:"default-category" env:"DEFAULT_CATEGORY" default:"1" description:"Target category id used when a category cannot be resolved"`
	Images          bool          `long:"images" env:"IMAGES" description:"Generate featured images for articles without one"`

	// Generator
	OpenAIEndpoint   string  `long:"openai-endpoint" env:"OPENAI_ENDPOINT" default:"https://api.openai.com/v1" description:"OpenAI-compatible API base URL"`
	OpenAIAPIKey     string  `long:"openai-api-key" env:"OPENAI_API_KEY" description:"API key for the generator"`
	OpenAIModel      string  `long:"openai-model" env:"OPENAI_MODEL" default:"gpt-4o-mini" description:"Chat model for ideas and articles"`
	OpenAIImageModel string  `long:"openai-image-model" env:"OPENAI_IMAGE_MODEL" default:"dall-e-3" description:"Image model for featured images"`
	OpenAIRatePerSec float64 `long:"openai-rate" env:"OPENAI_RATE_PER_SEC" default:"1" description:"Max generator requests per second"`

	// Outbound HTTP
	HTTPTimeout time.Duration `long:"http-timeout" env:"HTTP_TIMEOUT" default:"60s" description:"Timeout for outbound requests"`
	UserAgent   string        `long:"user-agent" env:"USER_AGENT" default:"autopublish/1.0" description:"User agent for outbound requests"`

	// Logging
	LogLevel  string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"Log level (debug, info, warn, error)"`
	LogFormat string `long:"log-format" env:"LOG_FORMAT" default:"json" choice:"json" choice:"pretty" description:"Log output format"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Expose pprof routes"`
}

type Cfg struct {
	DBPath string
	Port   string

	PollInterval    time.Duration
	RestartGrace    time.Duration
	Concurrency     int
	ReanalyzeAfter  time.Duration
	SitesFile       string
	DefaultCategory string
	Images          bool

	OpenAIEndpoint   string
	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIImageModel string
	OpenAIRatePerSec float64

	HTTPTimeout time.Duration
	UserAgent   string

	LogLevel  string
	LogFormat string
	Debug     bool
}

// ErrHelp is returned when the user asked for --help; usage has already been printed.
var ErrHelp = errors.New("help requested")

func Load() (*Cfg, error) {
	return LoadArgs(os.Args[1:])
}

func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg
	parser := flags.NewParser(&raw, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:           raw.DBPath,
		Port:             raw.Port,
		PollInterval:     raw.PollInterval,
		RestartGrace:     raw.RestartGrace,
		Concurrency:      raw.Concurrency,
		ReanalyzeAfter:   raw.ReanalyzeAfter,
		SitesFile:        raw.SitesFile,
		DefaultCategory:  raw.DefaultCategory,
		Images:           raw.Images,
		OpenAIEndpoint:   raw.OpenAIEndpoint,
		OpenAIAPIKey:     raw.OpenAIAPIKey,
		OpenAIModel:      raw.OpenAIModel,
		OpenAIImageModel: raw.OpenAIImageModel,
		OpenAIRatePerSec: raw.OpenAIRatePerSec,
		HTTPTimeout:      raw.HTTPTimeout,
		UserAgent:        raw.UserAgent,
		LogLevel:         raw.LogLevel,
		LogFormat:        raw.LogFormat,
		Debug:            raw.Debug,
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Cfg) validate() error {
	if c.PollInterval < time.Second {
		return fmt.Errorf("poll interval must be at least 1s, got %s", c.PollInterval)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.RestartGrace < 0 || c.ReanalyzeAfter < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}
