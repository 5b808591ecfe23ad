// Package config assembles the planner's explicit configuration from an
// optional .env file and PLANNER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/signalsfoundry/jobshop-planner/core"
	"github.com/signalsfoundry/jobshop-planner/internal/builder"
	"github.com/signalsfoundry/jobshop-planner/internal/logging"
	"github.com/signalsfoundry/jobshop-planner/internal/observability"
	"github.com/signalsfoundry/jobshop-planner/internal/solver/engine"
)

type Config struct {
	Planner PlannerConfig
	Solver  SolverConfig
	Metrics MetricsConfig
	Redis   RedisConfig
	Log     logging.Config
	Tracing observability.TracingConfig
}

type PlannerConfig struct {
	HorizonMinutes int           `validate:"gt=0"`
	TimeBudget     time.Duration `validate:"gt=0"`
	// GranularityMinutes and DefaultOperationMinutes override the domain
	// (or scenario) values when positive.
	GranularityMinutes      int               `validate:"gte=0"`
	DefaultOperationMinutes int               `validate:"gte=0"`
	Secondary               builder.Secondary `validate:"oneof=none lexicographic blended"`
	MakespanWeight          int64             `validate:"gte=0"`
	Seed                    int64
	Iterations              int `validate:"gte=0"`
}

type SolverConfig struct {
	// Endpoint of a remote solver service; empty solves in-process.
	Endpoint   string
	ListenAddr string `validate:"required"`
}

type MetricsConfig struct {
	Addr string
}

type RedisConfig struct {
	URL string        `validate:"omitempty,url"`
	TTL time.Duration `validate:"gte=0"`
}

var configValidator = validator.New()

// Load reads .env from the working directory when present, then the
// environment. service names the process for tracing defaults.
func Load(service string) (Config, error) {
	return LoadFrom(service, ".env")
}

// LoadFrom is Load with explicit env files. Missing files are skipped;
// variables already set in the environment win over file values.
func LoadFrom(service string, envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	env := &envReader{}
	cfg := Config{
		Planner: PlannerConfig{
			HorizonMinutes:          env.Int("PLANNER_HORIZON_MINUTES", 1440),
			TimeBudget:              time.Duration(env.Float("PLANNER_TIME_BUDGET_SECONDS", 60) * float64(time.Second)),
			GranularityMinutes:      env.Int("PLANNER_GRANULARITY_MINUTES", 0),
			DefaultOperationMinutes: env.Int("PLANNER_DEFAULT_OPERATION_MINUTES", 0),
			Secondary:               builder.Secondary(getEnv("PLANNER_SECONDARY_OBJECTIVE", string(builder.SecondaryNone))),
			MakespanWeight:          env.Int64("PLANNER_MAKESPAN_WEIGHT", builder.DefaultMakespanWeight),
			Seed:                    env.Int64("PLANNER_SEED", 1),
			Iterations:              env.Int("PLANNER_ITERATIONS", 0),
		},
		Solver: SolverConfig{
			Endpoint:   getEnv("PLANNER_SOLVER_ENDPOINT", ""),
			ListenAddr: getEnv("PLANNER_SOLVER_LISTEN_ADDR", ":50051"),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("PLANNER_METRICS_ADDR", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("PLANNER_REDIS_URL", ""),
			TTL: time.Duration(env.Int("PLANNER_REDIS_TTL_SECONDS", 0)) * time.Second,
		},
		Log: logging.Config{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Tracing: observability.TracingConfigFromEnv(service),
	}
	if err := env.Err(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	for _, section := range []any{c.Planner, c.Solver, c.Redis} {
		if err := configValidator.Struct(section); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return nil
}

// BuilderConfig returns the model builder settings.
func (c Config) BuilderConfig() builder.Config {
	return builder.Config{
		Horizon:        c.Planner.HorizonMinutes,
		Secondary:      c.Planner.Secondary,
		MakespanWeight: c.Planner.MakespanWeight,
	}
}

// EngineConfig returns the in-process engine settings.
func (c Config) EngineConfig() engine.Config {
	ec := engine.DefaultConfig()
	ec.Seed = c.Planner.Seed
	if c.Planner.Iterations > 0 {
		ec.Iterations = c.Planner.Iterations
	}
	return ec
}

// DomainOptions returns the domain overrides set in the configuration.
// Append them after scenario options so they take precedence.
func (c Config) DomainOptions() []core.Option {
	var opts []core.Option
	if c.Planner.GranularityMinutes > 0 {
		opts = append(opts, core.WithGranularity(c.Planner.GranularityMinutes))
	}
	if c.Planner.DefaultOperationMinutes > 0 {
		opts = append(opts, core.WithDefaultDuration(c.Planner.DefaultOperationMinutes))
	}
	return opts
}

func (c SolverConfig) Remote() bool {
	return c.Endpoint != ""
}

func (c MetricsConfig) Enabled() bool {
	return c.Addr != ""
}

func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// ErrInvalidValue marks an environment variable that does not parse.
var ErrInvalidValue = errors.New("invalid environment value")

// envReader parses numeric variables, collecting every malformed one.
// Unset or empty variables take the fallback.
type envReader struct {
	errs []error
}

func (r *envReader) lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	return value, ok && value != ""
}

func (r *envReader) fail(key, value, want string) {
	r.errs = append(r.errs, fmt.Errorf("%w: %s=%q is not %s", ErrInvalidValue, key, value, want))
}

func (r *envReader) Int(key string, fallback int) int {
	value, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		r.fail(key, value, "an integer")
		return fallback
	}
	return i
}

func (r *envReader) Int64(key string, fallback int64) int64 {
	value, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		r.fail(key, value, "an integer")
		return fallback
	}
	return i
}

func (r *envReader) Float(key string, fallback float64) float64 {
	value, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.fail(key, value, "a number")
		return fallback
	}
	return f
}

func (r *envReader) Err() error {
	return errors.Join(r.errs...)
}
