package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "America/Sao_Paulo"

	configPathEnv    = "NORMSCANNER_CONFIG"
	databasePathEnv  = "NORMSCANNER_DB"
	blobDirEnv       = "NORMSCANNER_BLOB_DIR"
	portalBaseEnv    = "NORMSCANNER_PORTAL_URL"
	openAIAPIKeyEnv  = "OPENAI_API_KEY"
	openAIModelEnv   = "OPENAI_MODEL"
	browserPathEnv   = "NORMSCANNER_BROWSER_PATH"
	metricsAddrEnv   = "NORMSCANNER_METRICS_ADDR"
	logLevelEnv      = "NORMSCANNER_LOG_LEVEL"
	taxAPIBaseEnv    = "NORMSCANNER_TAX_API_URL"
	gazetteIndexEnv  = "NORMSCANNER_GAZETTE_INDEX_URL"
	newsListEnv      = "NORMSCANNER_NEWS_LIST_URL"
	taxPortalBaseEnv = "NORMSCANNER_TAX_PORTAL_URL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Database   DatabaseConfig    `yaml:"database"`
	Blobs      BlobConfig        `yaml:"blobs"`
	Logging    LoggingConfig     `yaml:"logging"`
	Scheduler  SchedulerConfig   `yaml:"scheduler"`
	HTTP       HTTPConfig        `yaml:"http"`
	Browser    BrowserConfig     `yaml:"browser"`
	Portal     PortalConfig      `yaml:"portal"`
	Verify     VerifyConfig      `yaml:"verify"`
	Pipeline   PipelineConfig    `yaml:"pipeline"`
	Enrichment EnrichmentConfig  `yaml:"enrichment"`
	Sources    SourcesConfig     `yaml:"sources"`
	Terms      []TermConfig      `yaml:"terms"`
	Normalize  map[string]string `yaml:"normalize"`
	Metrics    MetricsConfig     `yaml:"metrics"`
}

// DatabaseConfig describes the embedded SQLite database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BlobConfig locates the on-disk blob directory for raw PDF bytes.
type BlobConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SchedulerConfig defines when the pipeline should run.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	DaysBack       int            `yaml:"daysBack"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// HTTPConfig tunes the shared rate-limited HTTP client.
type HTTPConfig struct {
	TimeoutSeconds     int     `yaml:"timeoutSeconds"`
	RatePerSecond      float64 `yaml:"ratePerSecond"`
	Burst              int     `yaml:"burst"`
	MaxRetries         int     `yaml:"maxRetries"`
	PerHostConcurrency int     `yaml:"perHostConcurrency"`
	UserAgent          string  `yaml:"userAgent"`
}

// Timeout returns the configured per-fetch timeout.
func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// BrowserConfig controls the headless-browser rendering mode.
type BrowserConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ExecPath       string `yaml:"execPath"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// Timeout returns the per-render deadline.
func (b BrowserConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// PortalConfig addresses the legal portal probed for vigencia.
type PortalConfig struct {
	BaseURL                string `yaml:"baseUrl"`
	SearchPath             string `yaml:"searchPath"`
	NormPathTemplate       string `yaml:"normPathTemplate"`
	StrategyTimeoutSeconds int    `yaml:"strategyTimeoutSeconds"`
	BreakerFailures        int    `yaml:"breakerFailures"`
	BreakerCooldownSeconds int    `yaml:"breakerCooldownSeconds"`
}

// StrategyTimeout bounds one probe strategy attempt.
func (p PortalConfig) StrategyTimeout() time.Duration {
	return time.Duration(p.StrategyTimeoutSeconds) * time.Second
}

// BreakerCooldown is how long an open circuit stays open.
func (p PortalConfig) BreakerCooldown() time.Duration {
	return time.Duration(p.BreakerCooldownSeconds) * time.Second
}

// VerifyConfig paces the VERIFY stage against the scrape-sensitive portal.
type VerifyConfig struct {
	BatchSize            int `yaml:"batchSize"`
	PacingMillis         int `yaml:"pacingMillis"`
	SessionBudgetSeconds int `yaml:"sessionBudgetSeconds"`
	StalenessDays        int `yaml:"stalenessDays"`
	MaxBatch             int `yaml:"maxBatch"`
}

// Pacing is the delay enforced between norms inside a VERIFY batch.
func (v VerifyConfig) Pacing() time.Duration {
	return time.Duration(v.PacingMillis) * time.Millisecond
}

// SessionBudget caps a single VERIFY invocation.
func (v VerifyConfig) SessionBudget() time.Duration {
	return time.Duration(v.SessionBudgetSeconds) * time.Second
}

// Staleness is how old a verification may get before re-probing.
func (v VerifyConfig) Staleness() time.Duration {
	return time.Duration(v.StalenessDays) * 24 * time.Hour
}

// RetryConfig is one stage's retry policy.
type RetryConfig struct {
	Count      int     `yaml:"count"`
	BaseMillis int     `yaml:"baseMillis"`
	Factor     float64 `yaml:"factor"`
}

// BaseDelay returns the first-retry delay.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseMillis) * time.Millisecond
}

// PipelineConfig sizes the worker pool and the per-stage retry policies.
type PipelineConfig struct {
	Workers    int                    `yaml:"workers"`
	Retry      RetryConfig            `yaml:"retry"`
	StageRetry map[string]RetryConfig `yaml:"stageRetry"`
}

// RetryFor returns the stage override or the pipeline default.
func (p PipelineConfig) RetryFor(stage string) RetryConfig {
	if r, ok := p.StageRetry[stage]; ok {
		return r
	}
	return p.Retry
}

// EnrichmentConfig wires the optional OpenAI-compatible summarizer.
type EnrichmentConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"apiKey"`
	MaxChars int    `yaml:"maxChars"`
}

// SourcesConfig groups the per-adapter settings.
type SourcesConfig struct {
	Gazette   GazetteConfig   `yaml:"gazette"`
	TaxPortal TaxPortalConfig `yaml:"taxPortal"`
	TaxAPI    TaxAPIConfig    `yaml:"taxApi"`
	News      NewsConfig      `yaml:"news"`
}

// GazetteConfig describes the official-gazette daily index.
// IndexURLTemplate receives the day as 2006-01-02.
type GazetteConfig struct {
	Enabled          bool   `yaml:"enabled"`
	IndexURLTemplate string `yaml:"indexUrlTemplate"`
	Label            string `yaml:"label"`
}

// TaxPortalConfig describes the tax portal's rendered "recent norms" listing.
type TaxPortalConfig struct {
	Enabled      bool   `yaml:"enabled"`
	RecentURL    string `yaml:"recentUrl"`
	WaitSelector string `yaml:"waitSelector"`
	CardSelector string `yaml:"cardSelector"`
	Label        string `yaml:"label"`
}

// TaxAPIConfig lists the open-data endpoints pulled per reference date.
type TaxAPIConfig struct {
	Enabled   bool     `yaml:"enabled"`
	BaseURL   string   `yaml:"baseUrl"`
	Endpoints []string `yaml:"endpoints"`
	UFCodes   []string `yaml:"ufCodes"`
}

// NewsConfig describes the paginated HTML news listing.
type NewsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ListURL      string `yaml:"listUrl"`
	MaxPages     int    `yaml:"maxPages"`
	Label        string `yaml:"label"`
	ItemSelector string `yaml:"itemSelector"`
}

// TermConfig seeds the monitored-term vocabulary on startup.
type TermConfig struct {
	Term      string   `yaml:"term"`
	MatchKind string   `yaml:"matchKind"`
	Variants  []string `yaml:"variants"`
	Priority  int      `yaml:"priority"`
}

// MetricsConfig exposes prometheus counters when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(blobDirEnv); v != "" {
		c.Blobs.Dir = v
	}
	if v := os.Getenv(portalBaseEnv); v != "" {
		c.Portal.BaseURL = v
	}
	if v := os.Getenv(openAIAPIKeyEnv); v != "" {
		c.Enrichment.APIKey = v
	}
	if v := os.Getenv(openAIModelEnv); v != "" {
		c.Enrichment.Model = v
	}
	if v := os.Getenv(browserPathEnv); v != "" {
		c.Browser.ExecPath = v
	}
	if v := os.Getenv(metricsAddrEnv); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(taxAPIBaseEnv); v != "" {
		c.Sources.TaxAPI.BaseURL = v
	}
	if v := os.Getenv(gazetteIndexEnv); v != "" {
		c.Sources.Gazette.IndexURLTemplate = v
	}
	if v := os.Getenv(newsListEnv); v != "" {
		c.Sources.News.ListURL = v
	}
	if v := os.Getenv(taxPortalBaseEnv); v != "" {
		c.Sources.TaxPortal.RecentURL = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}
