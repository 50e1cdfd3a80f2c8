package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/joelkehle/snomed-consensus/internal/consensus"
	"github.com/joelkehle/snomed-consensus/internal/report"
)

func env(vars map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefaultConfigYAMLMatchesDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, yaml.Unmarshal([]byte(DefaultConfigYAML), &cfg))

	want := Default()
	want.Terminology.CachePath = "data/snomed_description_fr.db"
	assert.Equal(t, want, cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Setenv("SNOMED_RUNS", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
terminology:
  data_dir: /srv/snomed
consensus:
  runs: 5
  run_timeout: 45s
  fusion: run_index
usage:
  limits:
    hourly_calls: 10
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/snomed", cfg.Terminology.DataDir)
	assert.Equal(t, "fr", cfg.Terminology.Language)
	assert.Equal(t, 5, cfg.Consensus.Runs)
	assert.Equal(t, 45*time.Second, cfg.Consensus.RunTimeout)
	assert.Equal(t, consensus.FuseRunIndex, cfg.FusionPolicy())
	assert.Equal(t, 10, cfg.Usage.Limits.Hourly)
	assert.Equal(t, 200, cfg.Usage.Limits.Daily)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("consensus: [runs"), 0o644))
	_, err := Load(path)
	require.ErrorContains(t, err, "parse config")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(env(map[string]string{
		"SNOMED_DATA_DIR":        "/data",
		"SNOMED_CACHE_PATH":      "/cache.db",
		"SNOMED_ORACLE_PROVIDER": "Anthropic",
		"SNOMED_ORACLE_MODEL":    "claude-x",
		"SNOMED_USAGE_DB":        "/usage.db",
		"SNOMED_RUNS":            "4",
		"ANTHROPIC_API_KEY":      " sk-test ",
		"GEMINI_API_KEY":         "gm",
		"SNOMED_CHROME_PATH":     "/opt/chromium",
	}))
	require.NoError(t, err)
	assert.Equal(t, "/data", cfg.Terminology.DataDir)
	assert.Equal(t, "/cache.db", cfg.Terminology.CachePath)
	assert.Equal(t, ProviderAnthropic, cfg.Oracle.Provider)
	assert.Equal(t, "claude-x", cfg.Oracle.Model)
	assert.Equal(t, "/usage.db", cfg.Usage.DBPath)
	assert.Equal(t, 4, cfg.Consensus.Runs)
	assert.Equal(t, "sk-test", cfg.Oracle.APIKey)
	assert.Equal(t, "/opt/chromium", cfg.Report.ChromePath)
}

func TestApplyEnvGeminiKeyFallback(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.applyEnv(env(map[string]string{"GOOGLE_API_KEY": "g"})))
	assert.Equal(t, "g", cfg.Oracle.APIKey)

	cfg = Default()
	require.NoError(t, cfg.applyEnv(env(map[string]string{"GOOGLE_API_KEY": "g", "GEMINI_API_KEY": "m"})))
	assert.Equal(t, "m", cfg.Oracle.APIKey)
}

func TestApplyEnvNoLLM(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.applyEnv(env(map[string]string{"SNOMED_NO_LLM": "true", "GEMINI_API_KEY": "k"})))
	assert.Equal(t, ProviderNone, cfg.Oracle.Provider)
	assert.Empty(t, cfg.Oracle.APIKey)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	cfg := Default()
	require.ErrorContains(t, cfg.applyEnv(env(map[string]string{"SNOMED_RUNS": "three"})), "SNOMED_RUNS")
	require.ErrorContains(t, cfg.applyEnv(env(map[string]string{"SNOMED_NO_LLM": "maybe"})), "SNOMED_NO_LLM")
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Oracle.APIKey = "k"
	require.NoError(t, valid.Validate())

	cases := map[string]func(*Config){
		"missing key":      func(c *Config) { c.Oracle.APIKey = "" },
		"unknown provider": func(c *Config) { c.Oracle.Provider = "openai" },
		"replay dir":       func(c *Config) { c.Oracle.Provider = ProviderReplay },
		"no terminology":   func(c *Config) { c.Terminology.DataDir = "" },
		"fuzzy ratio":      func(c *Config) { c.Terminology.FuzzyMinRatio = 1.5 },
		"zero runs":        func(c *Config) { c.Consensus.Runs = 0 },
		"too many runs":    func(c *Config) { c.Consensus.Runs = consensus.MaxRuns + 1 },
		"timeout":          func(c *Config) { c.Consensus.RunTimeout = 0 },
		"fusion":           func(c *Config) { c.Consensus.Fusion = "random" },
		"thresholds":       func(c *Config) { c.Consensus.Thresholds.Reject = 0.6 },
		"negative limit":   func(c *Config) { c.Usage.Limits.Hourly = -1 },
		"usage db":         func(c *Config) { c.Usage.DBPath = "" },
		"paper":            func(c *Config) { c.Report.Paper = "tabloid" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateUsageDisabled(t *testing.T) {
	cfg := Default()
	cfg.Oracle.Provider = ProviderNone
	cfg.Usage.Disabled = true
	cfg.Usage.DBPath = ""
	require.NoError(t, cfg.Validate())
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	written, err := WriteDefault(path)
	require.NoError(t, err)
	assert.True(t, written)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfigYAML, string(b))

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))
	written, err = WriteDefault(path)
	require.NoError(t, err)
	assert.False(t, written)
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "debug")
}

func TestPDFRendererFromConfig(t *testing.T) {
	cfg := Default()
	cfg.Report = ReportConfig{ChromePath: "/opt/chromium", PDFTimeout: 12 * time.Second, Paper: "letter"}
	r := cfg.PDFRenderer()
	assert.Equal(t, "/opt/chromium", r.ChromePath)
	assert.Equal(t, 12*time.Second, r.Timeout)
	assert.Equal(t, report.PaperLetter, r.Paper)
}

func TestLoadSystemPromptAndReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
oracle:
  system_prompt: Réponds en JSON.
report:
  paper: letter
`), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Réponds en JSON.", cfg.Oracle.SystemPrompt)
	assert.Equal(t, "letter", cfg.Report.Paper)
	assert.Equal(t, 30*time.Second, cfg.Report.PDFTimeout)
}
