package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/etf-advisor/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig  `yaml:"store" mapstructure:"store"`
	Log          LogConfig    `yaml:"log" mapstructure:"log"`
	Server       ServerConfig `yaml:"server" mapstructure:"server"`
	Input        InputConfig  `yaml:"input" mapstructure:"input"`
	Batch        BatchConfig  `yaml:"batch" mapstructure:"batch"`
	EngineConfig `yaml:",inline" mapstructure:",squash"`
}

// EngineConfig groups the tunable policy of the scoring and recommendation
// engine. Each component receives only its own section.
type EngineConfig struct {
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Tiering    TieringConfig    `yaml:"tiering" mapstructure:"tiering"`
	Allocation AllocationConfig `yaml:"allocation" mapstructure:"allocation"`
	Composer   ComposerConfig   `yaml:"composer" mapstructure:"composer"`
	Projection ProjectionConfig `yaml:"projection" mapstructure:"projection"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	ReloadCron  string   `yaml:"reload_cron" mapstructure:"reload_cron"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// InputConfig names the default input tables.
type InputConfig struct {
	Instruments string `yaml:"instruments" mapstructure:"instruments"`
	Clients     string `yaml:"clients" mapstructure:"clients"`
}

// BatchConfig configures per-client parallelism.
type BatchConfig struct {
	MaxConcurrentClients int `yaml:"max_concurrent_clients" mapstructure:"max_concurrent_clients"`
}

// Metric directions.
const (
	DirectionHigher = "higher"
	DirectionLower  = "lower"
)

// MetricWeight configures one normalized metric of the composite score.
type MetricWeight struct {
	Name      string  `yaml:"name" mapstructure:"name"`
	Direction string  `yaml:"direction" mapstructure:"direction"`
	Weight    float64 `yaml:"weight" mapstructure:"weight"`
}

// ReturnHorizon configures one trailing return used to extrapolate the
// expected annual return.
type ReturnHorizon struct {
	Metric string  `yaml:"metric" mapstructure:"metric"`
	Factor float64 `yaml:"factor" mapstructure:"factor"`
	Weight float64 `yaml:"weight" mapstructure:"weight"`
}

// ScoringConfig configures normalization and the composite score.
type ScoringConfig struct {
	Metrics         []MetricWeight  `yaml:"metrics" mapstructure:"metrics"`
	MissingFallback float64         `yaml:"missing_fallback" mapstructure:"missing_fallback"`
	Horizons        []ReturnHorizon `yaml:"horizons" mapstructure:"horizons"`
}

// TierCounts holds one integer per tier.
type TierCounts struct {
	Low    int `yaml:"low" mapstructure:"low"`
	Medium int `yaml:"medium" mapstructure:"medium"`
	High   int `yaml:"high" mapstructure:"high"`
}

// For returns the count configured for a tier.
func (c TierCounts) For(t model.RiskTier) int {
	switch t {
	case model.TierLow:
		return c.Low
	case model.TierMedium:
		return c.Medium
	case model.TierHigh:
		return c.High
	}
	return 0
}

// TieringConfig configures the risk classifier.
type TieringConfig struct {
	Metric    string     `yaml:"metric" mapstructure:"metric"`
	CutPoints []float64  `yaml:"cut_points" mapstructure:"cut_points"`
	TopN      TierCounts `yaml:"top_n" mapstructure:"top_n"`
}

// TierPercents holds one percentage per tier.
type TierPercents struct {
	Low    float64 `yaml:"low" mapstructure:"low"`
	Medium float64 `yaml:"medium" mapstructure:"medium"`
	High   float64 `yaml:"high" mapstructure:"high"`
}

// For returns the percentage configured for a tier.
func (p TierPercents) For(t model.RiskTier) float64 {
	switch t {
	case model.TierLow:
		return p.Low
	case model.TierMedium:
		return p.Medium
	case model.TierHigh:
		return p.High
	}
	return 0
}

// ToleranceBaseline is the allocation of one risk-tolerance level before the
// horizon modifier.
type ToleranceBaseline struct {
	Tolerance    int `yaml:"tolerance" mapstructure:"tolerance"`
	TierPercents `yaml:",inline" mapstructure:",squash"`
}

// AllocationConfig configures the client allocation deriver.
type AllocationConfig struct {
	MaxTolerance        int                 `yaml:"max_tolerance" mapstructure:"max_tolerance"`
	Baselines           []ToleranceBaseline `yaml:"baselines" mapstructure:"baselines"`
	Labels              map[string]int      `yaml:"labels" mapstructure:"labels"`
	NeutralHorizonYears int                 `yaml:"neutral_horizon_years" mapstructure:"neutral_horizon_years"`
	ShiftPerYear        float64             `yaml:"shift_per_year" mapstructure:"shift_per_year"`
	MaxShift            float64             `yaml:"max_shift" mapstructure:"max_shift"`
	Floors              TierPercents        `yaml:"floors" mapstructure:"floors"`
	Precision           int32               `yaml:"precision" mapstructure:"precision"`
}

// LineRule caps the number of lines used from a tier whose effective
// percentage reaches MinPercent.
type LineRule struct {
	MinPercent float64 `yaml:"min_percent" mapstructure:"min_percent"`
	MaxLines   int     `yaml:"max_lines" mapstructure:"max_lines"`
}

// ComposerConfig configures the recommendation composer.
type ComposerConfig struct {
	Tolerance float64    `yaml:"tolerance" mapstructure:"tolerance"`
	LineRules []LineRule `yaml:"line_rules" mapstructure:"line_rules"`
}

// Rate conversions from an annual return to a per-period rate.
const (
	RateEffective = "effective"
	RateNominal   = "nominal"
)

// ProjectionConfig configures the projection simulator.
type ProjectionConfig struct {
	PeriodsPerYear       int     `yaml:"periods_per_year" mapstructure:"periods_per_year"`
	RateConversion       string  `yaml:"rate_conversion" mapstructure:"rate_conversion"`
	InitialValue         float64 `yaml:"initial_value" mapstructure:"initial_value"`
	ReturnMetric         string  `yaml:"return_metric" mapstructure:"return_metric"`
	FallbackReturnMetric string  `yaml:"fallback_return_metric" mapstructure:"fallback_return_metric"`
}

// Load reads configuration from file and environment. An empty path looks
// for config.yaml in the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("ETFADVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional unless explicitly given)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "etf-advisor.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.reload_cron", "")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("batch.max_concurrent_clients", 4)

	v.SetDefault("scoring.missing_fallback", 0.5)
	v.SetDefault("scoring.metrics", []map[string]any{
		{"name": model.MetricExpectedReturn, "direction": DirectionHigher, "weight": 0.30},
		{"name": model.MetricSharpe3Y, "direction": DirectionHigher, "weight": 0.20},
		{"name": model.MetricReturn1Y, "direction": DirectionHigher, "weight": 0.10},
		{"name": model.MetricVolatility, "direction": DirectionLower, "weight": 0.15},
		{"name": model.MetricExpenseRatio, "direction": DirectionLower, "weight": 0.15},
		{"name": model.MetricAUM, "direction": DirectionHigher, "weight": 0.10},
	})
	v.SetDefault("scoring.horizons", []map[string]any{
		{"metric": model.MetricReturn1M, "factor": 12.0, "weight": 0.2},
		{"metric": model.MetricReturn3M, "factor": 4.0, "weight": 0.3},
		{"metric": model.MetricReturn6M, "factor": 2.0, "weight": 0.5},
		{"metric": model.MetricReturn1Y, "factor": 1.0, "weight": 1.0},
		{"metric": model.MetricReturn3Y, "factor": 1.0 / 3, "weight": 1.0},
		{"metric": model.MetricReturn5Y, "factor": 1.0 / 5, "weight": 1.0},
		{"metric": model.MetricReturn10Y, "factor": 1.0 / 10, "weight": 1.0},
	})

	v.SetDefault("tiering.metric", model.MetricVolatility)
	v.SetDefault("tiering.cut_points", []float64{1.0 / 3, 2.0 / 3})
	v.SetDefault("tiering.top_n.low", 5)
	v.SetDefault("tiering.top_n.medium", 5)
	v.SetDefault("tiering.top_n.high", 5)

	v.SetDefault("allocation.max_tolerance", 5)
	v.SetDefault("allocation.baselines", []map[string]any{
		{"tolerance": 1, "low": 60, "medium": 30, "high": 10},
		{"tolerance": 2, "low": 50, "medium": 40, "high": 10},
		{"tolerance": 3, "low": 40, "medium": 50, "high": 10},
		{"tolerance": 4, "low": 30, "medium": 50, "high": 20},
		{"tolerance": 5, "low": 20, "medium": 55, "high": 25},
	})
	v.SetDefault("allocation.labels", map[string]any{
		"low": 1, "medium": 3, "high": 5,
		"baja": 1, "media": 3, "alta": 5,
	})
	v.SetDefault("allocation.neutral_horizon_years", 10)
	v.SetDefault("allocation.shift_per_year", 1.0)
	v.SetDefault("allocation.max_shift", 10.0)
	v.SetDefault("allocation.floors.low", 0)
	v.SetDefault("allocation.floors.medium", 0)
	v.SetDefault("allocation.floors.high", 0)
	v.SetDefault("allocation.precision", 2)

	v.SetDefault("composer.tolerance", 0.01)
	v.SetDefault("composer.line_rules", []map[string]any{})

	v.SetDefault("projection.periods_per_year", 12)
	v.SetDefault("projection.rate_conversion", RateEffective)
	v.SetDefault("projection.initial_value", 0.0)
	v.SetDefault("projection.return_metric", model.MetricExpectedReturn)
	v.SetDefault("projection.fallback_return_metric", model.MetricReturn1Y)
}

// Validate checks the settings that are not owned by an engine component.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, "log.format must be json or console")
	}
	if c.Batch.MaxConcurrentClients < 1 {
		errs = append(errs, "batch.max_concurrent_clients must be >= 1")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, "server.port out of range")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
