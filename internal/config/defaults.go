package config

import "time"

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Database: DatabaseConfig{Path: "normscanner.db"},
		Blobs:    BlobConfig{Dir: "blobs"},
		Logging:  LoggingConfig{Level: "info"},
		Scheduler: SchedulerConfig{
			CronExpression: "0 6 * * *",
			Timezone:       defaultTimezone,
			DaysBack:       1,
			location:       tz,
		},
		HTTP: HTTPConfig{
			TimeoutSeconds:     30,
			RatePerSecond:      1,
			Burst:              3,
			MaxRetries:         3,
			PerHostConcurrency: 2,
			UserAgent:          "NormScanner/1.0",
		},
		Browser: BrowserConfig{
			Enabled:        true,
			TimeoutSeconds: 30,
		},
		Portal: PortalConfig{
			BaseURL:                "https://www.pge.example.gov.br",
			SearchPath:             "/search",
			NormPathTemplate:       "/legislacao/%s/%s",
			StrategyTimeoutSeconds: 20,
			BreakerFailures:        3,
			BreakerCooldownSeconds: 300,
		},
		Verify: VerifyConfig{
			BatchSize:            5,
			PacingMillis:         1500,
			SessionBudgetSeconds: 600,
			StalenessDays:        15,
			MaxBatch:             50,
		},
		Pipeline: PipelineConfig{
			Workers: 8,
			Retry:   RetryConfig{Count: 2, BaseMillis: 500, Factor: 2},
			StageRetry: map[string]RetryConfig{
				"COLLECT": {Count: 3, BaseMillis: 1000, Factor: 2},
				"VERIFY":  {Count: 1, BaseMillis: 2000, Factor: 2},
			},
		},
		Enrichment: EnrichmentConfig{
			Enabled:  false,
			Endpoint: "https://api.openai.com/v1",
			Model:    "gpt-4o-mini",
			MaxChars: 12000,
		},
		Sources: SourcesConfig{
			Gazette: GazetteConfig{
				Enabled:          true,
				IndexURLTemplate: "https://www.diario.example.gov.br/diarios/%s",
				Label:            "Diário Oficial",
			},
			TaxPortal: TaxPortalConfig{
				Enabled:      true,
				RecentURL:    "https://portal.sefaz.example.gov.br/normas/recentes",
				WaitSelector: "div.norm-card",
				CardSelector: "div.norm-card",
				Label:        "SEFAZ",
			},
			TaxAPI: TaxAPIConfig{
				Enabled: true,
				BaseURL: "https://api.tributos.example.gov.br/calculadora/dados-abertos",
				Endpoints: []string{
					"ufs",
					"aliquota-uniao",
					"aliquota-uf",
					"situacoes-tributarias/imposto-seletivo",
					"situacoes-tributarias/cbs-ibs",
					"classificacoes-tributarias/imposto-seletivo",
					"classificacoes-tributarias/cbs-ibs",
					"fundamentacoes-legais",
				},
				UFCodes: []string{"22"},
			},
			News: NewsConfig{
				Enabled:      true,
				ListURL:      "https://www.sefaz.example.gov.br/noticias",
				MaxPages:     3,
				Label:        "Notícias SEFAZ",
				ItemSelector: "article.news-item",
			},
		},
		Terms: []TermConfig{
			{Term: "ICMS", MatchKind: "EXACT_TEXT", Priority: 5},
			{Term: "substituição tributária", MatchKind: "EXACT_TEXT", Priority: 4,
				Variants: []string{"substituicao tributaria"}},
			{Term: "benefício fiscal", MatchKind: "EXACT_TEXT", Priority: 3,
				Variants: []string{"beneficio fiscal"}},
		},
		Normalize: map[string]string{
			"art.":  "artigo",
			"arts.": "artigos",
			"inc.":  "inciso",
			"par.":  "parágrafo",
			"c/c":   "combinado com",
		},
		Metrics: MetricsConfig{Addr: ""},
	}
}

func mergeConfig(base, override Config) Config {
	if override.Database.Path != "" {
		base.Database = override.Database
	}
	if override.Blobs.Dir != "" {
		base.Blobs = override.Blobs
	}
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}

	if override.Scheduler.CronExpression != "" {
		base.Scheduler.CronExpression = override.Scheduler.CronExpression
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}
	if override.Scheduler.DaysBack > 0 {
		base.Scheduler.DaysBack = override.Scheduler.DaysBack
	}

	base.HTTP = mergeHTTP(base.HTTP, override.HTTP)
	base.Browser = mergeBrowser(base.Browser, override.Browser)
	base.Portal = mergePortal(base.Portal, override.Portal)
	base.Verify = mergeVerify(base.Verify, override.Verify)
	base.Pipeline = mergePipeline(base.Pipeline, override.Pipeline)
	base.Enrichment = mergeEnrichment(base.Enrichment, override.Enrichment)
	base.Sources = mergeSources(base.Sources, override.Sources)

	if len(override.Terms) > 0 {
		base.Terms = override.Terms
	}
	if len(override.Normalize) > 0 {
		base.Normalize = override.Normalize
	}
	if override.Metrics.Addr != "" {
		base.Metrics = override.Metrics
	}

	return base
}

func mergeHTTP(base, o HTTPConfig) HTTPConfig {
	if o.TimeoutSeconds > 0 {
		base.TimeoutSeconds = o.TimeoutSeconds
	}
	if o.RatePerSecond > 0 {
		base.RatePerSecond = o.RatePerSecond
	}
	if o.Burst > 0 {
		base.Burst = o.Burst
	}
	if o.MaxRetries > 0 {
		base.MaxRetries = o.MaxRetries
	}
	if o.PerHostConcurrency > 0 {
		base.PerHostConcurrency = o.PerHostConcurrency
	}
	if o.UserAgent != "" {
		base.UserAgent = o.UserAgent
	}
	return base
}

func mergeBrowser(base, o BrowserConfig) BrowserConfig {
	if o.ExecPath != "" {
		base.ExecPath = o.ExecPath
	}
	if o.TimeoutSeconds > 0 {
		base.TimeoutSeconds = o.TimeoutSeconds
	}
	return base
}

func mergePortal(base, o PortalConfig) PortalConfig {
	if o.BaseURL != "" {
		base.BaseURL = o.BaseURL
	}
	if o.SearchPath != "" {
		base.SearchPath = o.SearchPath
	}
	if o.NormPathTemplate != "" {
		base.NormPathTemplate = o.NormPathTemplate
	}
	if o.StrategyTimeoutSeconds > 0 {
		base.StrategyTimeoutSeconds = o.StrategyTimeoutSeconds
	}
	if o.BreakerFailures > 0 {
		base.BreakerFailures = o.BreakerFailures
	}
	if o.BreakerCooldownSeconds > 0 {
		base.BreakerCooldownSeconds = o.BreakerCooldownSeconds
	}
	return base
}

func mergeVerify(base, o VerifyConfig) VerifyConfig {
	if o.BatchSize > 0 {
		base.BatchSize = o.BatchSize
	}
	if o.PacingMillis > 0 {
		base.PacingMillis = o.PacingMillis
	}
	if o.SessionBudgetSeconds > 0 {
		base.SessionBudgetSeconds = o.SessionBudgetSeconds
	}
	if o.StalenessDays > 0 {
		base.StalenessDays = o.StalenessDays
	}
	if o.MaxBatch > 0 {
		base.MaxBatch = o.MaxBatch
	}
	return base
}

func mergePipeline(base, o PipelineConfig) PipelineConfig {
	if o.Workers > 0 {
		base.Workers = o.Workers
	}
	if o.Retry.Count > 0 {
		base.Retry = o.Retry
	}
	for stage, rc := range o.StageRetry {
		if base.StageRetry == nil {
			base.StageRetry = map[string]RetryConfig{}
		}
		base.StageRetry[stage] = rc
	}
	return base
}

func mergeEnrichment(base, o EnrichmentConfig) EnrichmentConfig {
	if o.Enabled {
		base.Enabled = true
	}
	if o.Endpoint != "" {
		base.Endpoint = o.Endpoint
	}
	if o.Model != "" {
		base.Model = o.Model
	}
	if o.APIKey != "" {
		base.APIKey = o.APIKey
	}
	if o.MaxChars > 0 {
		base.MaxChars = o.MaxChars
	}
	return base
}

func mergeSources(base, o SourcesConfig) SourcesConfig {
	if o.Gazette.IndexURLTemplate != "" {
		base.Gazette = o.Gazette
	}
	if o.TaxPortal.RecentURL != "" {
		base.TaxPortal = o.TaxPortal
	}
	if o.TaxAPI.BaseURL != "" {
		base.TaxAPI = o.TaxAPI
	}
	if o.News.ListURL != "" {
		base.News = o.News
	}
	return base
}
