package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"clumpcli/internal/crunch"
	"clumpcli/internal/isotopes"
	"clumpcli/internal/standardize"
)

// Config is the complete processing configuration.
type Config struct {
	Mass            string                `yaml:"mass" envconfig:"MASS" default:"47" validate:"oneof=47 48"`
	Input           InputConfig           `yaml:"input" envconfig:"INPUT"`
	Standardization StandardizationConfig `yaml:"standardization" envconfig:"STANDARDIZATION"`
	References      ReferencesConfig      `yaml:"references" envconfig:"REFERENCES"`
	Output          OutputConfig          `yaml:"output" envconfig:"OUTPUT"`
	Logging         LoggingConfig         `yaml:"logging" envconfig:"LOGGING"`
}

// InputConfig locates the raw analysis data.
type InputConfig struct {
	Path           string `yaml:"path" envconfig:"PATH"`
	DefaultSession string `yaml:"default_session" envconfig:"DEFAULT_SESSION" default:"mySession"`
}

// ConstraintSpec is the serialized form of a parameter constraint: value =
// const + sum(terms[name] * parameter(name)).
type ConstraintSpec struct {
	Const float64            `yaml:"const"`
	Terms map[string]float64 `yaml:"terms"`
}

// StandardizationConfig controls the fit.
type StandardizationConfig struct {
	Method     string `yaml:"method" envconfig:"METHOD" default:"pooled" validate:"oneof=pooled indep_sessions"`
	D13CMethod string `yaml:"d13c_method" envconfig:"D13C_METHOD" default:"2pt" validate:"oneof=none 1pt 2pt"`
	D18OMethod string `yaml:"d18o_method" envconfig:"D18O_METHOD" default:"2pt" validate:"oneof=none 1pt 2pt"`

	AcidAlpha float64 `yaml:"acid_alpha" envconfig:"ACID_ALPHA" default:"1.008129" validate:"gt=0"`
	LeveneRef string  `yaml:"levene_ref" envconfig:"LEVENE_REF" default:"ETH-3"`

	// InferWG derives each session's working gas from the carbonate
	// standards instead of expecting it in the raw data.
	InferWG bool `yaml:"infer_wg" envconfig:"INFER_WG"`

	// Drift flags per session name.
	Drift map[string]crunch.Drift `yaml:"drift"`

	// WeightedSessions groups sessions that are pre-fitted separately to
	// weight their raw anomalies.
	WeightedSessions [][]string `yaml:"weighted_sessions"`

	// Constraints tie standardization parameters together, keyed by
	// parameter name (a_Session1, D47_SAMPLE, ...).
	Constraints map[string]ConstraintSpec `yaml:"constraints"`

	// Split controls pseudo-sample splitting of the unknowns before the
	// fit; empty disables it.
	Split SplitConfig `yaml:"split"`
}

// SplitConfig configures pseudo-sample splitting.
type SplitConfig struct {
	Grouping string   `yaml:"grouping" envconfig:"GROUPING" validate:"omitempty,oneof=by_session by_uid"`
	Samples  []string `yaml:"samples"`
	Unsplit  bool     `yaml:"unsplit" envconfig:"UNSPLIT" default:"true"`
}

// Enabled reports whether splitting was requested.
func (s SplitConfig) Enabled() bool { return s.Grouping != "" }

// ReferencesConfig carries the isotopic reference frame. Empty nominal
// tables fall back to the built-in defaults.
type ReferencesConfig struct {
	R13VPDB  float64 `yaml:"r13_vpdb" envconfig:"R13_VPDB" default:"0.01118" validate:"gt=0"`
	R17VSMOW float64 `yaml:"r17_vsmow" envconfig:"R17_VSMOW" default:"0.00038475" validate:"gt=0"`
	R18VSMOW float64 `yaml:"r18_vsmow" envconfig:"R18_VSMOW" default:"0.0020052" validate:"gt=0"`
	// R18VPDB is derived from R18VSMOW when left unset.
	R18VPDB  float64 `yaml:"r18_vpdb" envconfig:"R18_VPDB" validate:"omitempty,gt=0"`
	Lambda17 float64 `yaml:"lambda_17" envconfig:"LAMBDA_17" default:"0.528" validate:"gt=0"`

	NominalD4x  map[string]float64 `yaml:"nominal_d4x"`
	NominalD13C map[string]float64 `yaml:"nominal_d13c"`
	NominalD18O map[string]float64 `yaml:"nominal_d18o"`
}

// OutputConfig locates the report files.
type OutputConfig struct {
	Dir string `yaml:"dir" envconfig:"DIR" default:"output"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" envconfig:"FORMAT" default:"text" validate:"oneof=text json"`
}

// Load builds the configuration from environment variables (prefix CLUMP)
// layered over an optional YAML file. Environment variables win.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("CLUMP", &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		// Re-apply the environment so it takes precedence over the file.
		if err := envconfig.Process("CLUMP", &cfg); err != nil {
			return nil, fmt.Errorf("load config from env: %w", err)
		}
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Params returns the configured isotopic reference ratios.
func (c *Config) Params() isotopes.Params {
	p := isotopes.DefaultParams()
	p.R13VPDB = c.References.R13VPDB
	p.R17VSMOW = c.References.R17VSMOW
	p.R18VSMOW = c.References.R18VSMOW
	p.Lambda17 = c.References.Lambda17
	p.R18VPDB = c.References.R18VPDB
	if p.R18VPDB == 0 {
		p.R18VPDB = p.R18VSMOW * 1.03092
	}
	return p
}

// Dataset builds an empty dataset configured per this config.
func (c *Config) Dataset(logger *slog.Logger) *crunch.Dataset {
	mass := crunch.Mass(c.Mass)
	opts := []crunch.Option{
		crunch.WithLogger(logger),
		crunch.WithParams(c.Params()),
		crunch.WithAcidAlpha(c.Standardization.AcidAlpha),
		crunch.WithLeveneRef(c.Standardization.LeveneRef),
		crunch.WithDefaultSession(c.Input.DefaultSession),
		crunch.WithBulkMethods(
			crunch.BulkMethod(c.Standardization.D13CMethod),
			crunch.BulkMethod(c.Standardization.D18OMethod),
		),
	}
	if len(c.References.NominalD4x) > 0 {
		opts = append(opts, crunch.WithNominalD4x(c.References.NominalD4x))
	}
	if len(c.References.NominalD13C) > 0 || len(c.References.NominalD18O) > 0 {
		d13c := c.References.NominalD13C
		if d13c == nil {
			d13c = crunch.DefaultNominalD13C()
		}
		d18o := c.References.NominalD18O
		if d18o == nil {
			d18o = crunch.DefaultNominalD18O()
		}
		opts = append(opts, crunch.WithBulkNominals(d13c, d18o))
	}
	if len(c.Standardization.Drift) > 0 {
		opts = append(opts, crunch.WithDriftFlags(c.Standardization.Drift))
	}
	return crunch.New(mass, opts...)
}

// EngineOptions maps the config onto standardization engine options.
func (c *Config) EngineOptions(logger *slog.Logger) []standardize.EngineOption {
	opts := []standardize.EngineOption{
		standardize.WithMethod(standardize.Method(c.Standardization.Method)),
		standardize.WithEngineLogger(logger),
	}
	if len(c.Standardization.WeightedSessions) > 0 {
		opts = append(opts, standardize.WithWeightedSessions(c.Standardization.WeightedSessions))
	}
	if len(c.Standardization.Constraints) > 0 {
		cons := make(map[string]standardize.Constraint, len(c.Standardization.Constraints))
		for name, spec := range c.Standardization.Constraints {
			cons[name] = standardize.Constraint{Const: spec.Const, Terms: spec.Terms}
		}
		opts = append(opts, standardize.WithConstraints(cons))
	}
	return opts
}

// Logger builds the structured logger described by the logging config.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	switch c.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
