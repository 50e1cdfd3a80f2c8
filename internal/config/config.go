// Package config loads the normalizer configuration: YAML file first, then
// environment overrides. Command-line flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joelkehle/snomed-consensus/internal/consensus"
	"github.com/joelkehle/snomed-consensus/internal/oracle"
	"github.com/joelkehle/snomed-consensus/internal/report"
	"github.com/joelkehle/snomed-consensus/internal/terminology"
	"github.com/joelkehle/snomed-consensus/internal/usage"
)

const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderReplay    = "replay"
	// ProviderNone runs without an oracle; every extraction run fails as unavailable.
	ProviderNone = "none"
)

const DefaultConfigYAML = `# snomed-consensus configuration
terminology:
  data_dir: data/snomed
  cache_path: data/snomed_description_fr.db
  language: fr
  fuzzy_min_ratio: 0.8

oracle:
  provider: gemini
  # model: gemini-2.0-flash
  # system_prompt: overrides the built-in SNOMED CT expert instruction
  generation:
    temperature: 0.3
    top_p: 0.8
    top_k: 40
    max_output_tokens: 8192
  retry:
    max_attempts: 1

consensus:
  runs: 3
  run_timeout: 180s
  fusion: completion_order
  thresholds:
    accept: 0.5
    reject: 0.01

usage:
  db_path: data/api_usage.db
  limits:
    daily_calls: 200
    hourly_calls: 40
    max_daily_cost: 1.50
    cost_per_call: 0.015

server:
  addr: ":8080"

report:
  # chrome_path: /usr/bin/chromium
  pdf_timeout: 30s
  paper: a4

log:
  level: info
`

type TerminologyConfig struct {
	DataDir       string  `yaml:"data_dir"`
	CachePath     string  `yaml:"cache_path"`
	Language      string  `yaml:"language"`
	DisableFuzzy  bool    `yaml:"disable_fuzzy"`
	FuzzyMinRatio float64 `yaml:"fuzzy_min_ratio"`
}

type OracleConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// APIKey is only ever read from the environment.
	APIKey string `yaml:"-"`
	// SystemPrompt replaces the built-in instruction when set.
	SystemPrompt string                    `yaml:"system_prompt"`
	ReplayDir    string                    `yaml:"replay_dir"`
	RecordDir    string                    `yaml:"record_dir"`
	Generation   oracle.GenerationSettings `yaml:"generation"`
	Retry        oracle.RetryPolicy        `yaml:"retry"`
}

type ConsensusConfig struct {
	Runs       int                  `yaml:"runs"`
	RunTimeout time.Duration        `yaml:"run_timeout"`
	Fusion     string               `yaml:"fusion"`
	Thresholds consensus.Thresholds `yaml:"thresholds"`
}

type UsageConfig struct {
	DBPath   string       `yaml:"db_path"`
	Disabled bool         `yaml:"disabled"`
	Limits   usage.Limits `yaml:"limits"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ReportConfig drives PDF rendering.
type ReportConfig struct {
	ChromePath string        `yaml:"chrome_path"`
	PDFTimeout time.Duration `yaml:"pdf_timeout"`
	Paper      string        `yaml:"paper"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

type Config struct {
	Terminology TerminologyConfig `yaml:"terminology"`
	Oracle      OracleConfig      `yaml:"oracle"`
	Consensus   ConsensusConfig   `yaml:"consensus"`
	Usage       UsageConfig       `yaml:"usage"`
	Server      ServerConfig      `yaml:"server"`
	Report      ReportConfig      `yaml:"report"`
	Log         LogConfig         `yaml:"log"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

func Default() Config {
	return Config{
		Terminology: TerminologyConfig{
			DataDir:       "data/snomed",
			Language:      terminology.DefaultLanguage,
			FuzzyMinRatio: terminology.DefaultFuzzyMinRatio,
		},
		Oracle: OracleConfig{
			Provider:   ProviderGemini,
			Generation: oracle.DefaultGenerationSettings(),
			Retry:      oracle.DefaultRetryPolicy(),
		},
		Consensus: ConsensusConfig{
			Runs:       consensus.DefaultRuns,
			RunTimeout: consensus.DefaultRunTimeout,
			Fusion:     string(consensus.FuseCompletionOrder),
			Thresholds: consensus.DefaultThresholds(),
		},
		Usage: UsageConfig{
			DBPath: "data/api_usage.db",
			Limits: usage.DefaultLimits(),
		},
		Server:    ServerConfig{Addr: ":8080"},
		Report:    ReportConfig{PDFTimeout: 30 * time.Second, Paper: "a4"},
		Log:       LogConfig{Level: "info"},
		Telemetry: TelemetryConfig{ServiceName: "snomed-consensus"},
	}
}

// Load decodes path over Default (skipped when path is empty) and applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// WriteDefault creates path with DefaultConfigYAML unless it already exists.
// It reports whether the file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := os.WriteFile(path, []byte(DefaultConfigYAML), 0o644); err != nil {
		return false, err
	}
	return true, nil
}

type lookupFunc func(string) (string, bool)

func envString(lookup lookupFunc, key string) (string, bool) {
	v, ok := lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (c *Config) applyEnv(lookup lookupFunc) error {
	if v, ok := envString(lookup, "SNOMED_DATA_DIR"); ok {
		c.Terminology.DataDir = v
	}
	if v, ok := envString(lookup, "SNOMED_CACHE_PATH"); ok {
		c.Terminology.CachePath = v
	}
	if v, ok := envString(lookup, "SNOMED_ORACLE_PROVIDER"); ok {
		c.Oracle.Provider = strings.ToLower(v)
	}
	if v, ok := envString(lookup, "SNOMED_ORACLE_MODEL"); ok {
		c.Oracle.Model = v
	}
	if v, ok := envString(lookup, "SNOMED_USAGE_DB"); ok {
		c.Usage.DBPath = v
	}
	if v, ok := envString(lookup, "SNOMED_CHROME_PATH"); ok {
		c.Report.ChromePath = v
	}
	if v, ok := envString(lookup, "SNOMED_RUNS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SNOMED_RUNS: %w", err)
		}
		c.Consensus.Runs = n
	}
	if v, ok := envString(lookup, "SNOMED_NO_LLM"); ok {
		off, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SNOMED_NO_LLM: %w", err)
		}
		if off {
			c.Oracle.Provider = ProviderNone
		}
	}
	c.Oracle.APIKey = apiKey(lookup, c.Oracle.Provider)
	return nil
}

// APIKeyFromEnv returns the key the process environment holds for provider.
func APIKeyFromEnv(provider string) string {
	return apiKey(os.LookupEnv, provider)
}

func apiKey(lookup lookupFunc, provider string) string {
	switch provider {
	case ProviderGemini:
		if v, ok := envString(lookup, "GEMINI_API_KEY"); ok {
			return v
		}
		v, _ := envString(lookup, "GOOGLE_API_KEY")
		return v
	case ProviderAnthropic:
		v, _ := envString(lookup, "ANTHROPIC_API_KEY")
		return v
	}
	return ""
}

func (c Config) Validate() error {
	var errs []error
	switch c.Oracle.Provider {
	case ProviderGemini, ProviderAnthropic:
		if c.Oracle.APIKey == "" {
			errs = append(errs, fmt.Errorf("oracle provider %q needs an API key in the environment", c.Oracle.Provider))
		}
	case ProviderReplay:
		if c.Oracle.ReplayDir == "" {
			errs = append(errs, errors.New("oracle.replay_dir is required for the replay provider"))
		}
	case ProviderNone:
	default:
		errs = append(errs, fmt.Errorf("unknown oracle provider %q", c.Oracle.Provider))
	}
	if c.Terminology.DataDir == "" && c.Terminology.CachePath == "" {
		errs = append(errs, errors.New("terminology.data_dir or terminology.cache_path is required"))
	}
	if r := c.Terminology.FuzzyMinRatio; r <= 0 || r > 1 {
		errs = append(errs, fmt.Errorf("terminology.fuzzy_min_ratio must be in (0,1], got %g", r))
	}
	if n := c.Consensus.Runs; n < 1 || n > consensus.MaxRuns {
		errs = append(errs, fmt.Errorf("consensus.runs must be between 1 and %d, got %d", consensus.MaxRuns, n))
	}
	if c.Consensus.RunTimeout <= 0 {
		errs = append(errs, errors.New("consensus.run_timeout must be positive"))
	}
	if _, ok := consensus.ParseFusionPolicy(c.Consensus.Fusion); !ok {
		errs = append(errs, fmt.Errorf("unknown consensus.fusion %q", c.Consensus.Fusion))
	}
	th := c.Consensus.Thresholds
	if th.Reject < 0 || th.Accept > 1 || th.Reject >= th.Accept {
		errs = append(errs, fmt.Errorf("consensus.thresholds need 0 <= reject < accept <= 1, got reject=%g accept=%g", th.Reject, th.Accept))
	}
	if c.Oracle.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("oracle.retry.max_attempts must not be negative"))
	}
	l := c.Usage.Limits
	if l.Daily < 0 || l.Hourly < 0 || l.MaxDailyCost < 0 || l.CostPerCall < 0 {
		errs = append(errs, errors.New("usage.limits must not be negative"))
	}
	if _, err := report.ParsePaper(c.Report.Paper); err != nil {
		errs = append(errs, fmt.Errorf("report.paper: %w", err))
	}
	if !c.Usage.Disabled && c.Usage.DBPath == "" {
		errs = append(errs, errors.New("usage.db_path is required unless usage.disabled is set"))
	}
	return errors.Join(errs...)
}

// FusionPolicy returns the parsed policy; call Validate first.
func (c Config) FusionPolicy() consensus.FusionPolicy {
	p, _ := consensus.ParseFusionPolicy(c.Consensus.Fusion)
	return p
}

func (c Config) TerminologyOptions() terminology.Options {
	return terminology.Options{
		Dir:           c.Terminology.DataDir,
		Language:      c.Terminology.Language,
		CachePath:     c.Terminology.CachePath,
		DisableFuzzy:  c.Terminology.DisableFuzzy,
		FuzzyMinRatio: c.Terminology.FuzzyMinRatio,
	}
}

// PDFRenderer builds the renderer described by the report section.
func (c Config) PDFRenderer() *report.PDFRenderer {
	paper, err := report.ParsePaper(c.Report.Paper)
	if err != nil {
		paper = report.PaperA4
	}
	return report.NewPDFRenderer(
		report.WithChromePath(c.Report.ChromePath),
		report.WithPDFTimeout(c.Report.PDFTimeout),
		report.WithPaper(paper),
	)
}
