package builder

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Secondary selects how tardiness is combined with makespan.
type Secondary string

const (
	// SecondaryNone minimises makespan only.
	SecondaryNone Secondary = "none"
	// SecondaryLexicographic minimises makespan, then Σ priority·tardiness.
	SecondaryLexicographic Secondary = "lexicographic"
	// SecondaryBlended minimises MakespanWeight·makespan + Σ priority·tardiness.
	SecondaryBlended Secondary = "blended"
)

// DefaultMakespanWeight keeps makespan dominant in the blended objective
// for typical shop sizes.
const DefaultMakespanWeight = 1000

// Config is the explicit per-build configuration.
type Config struct {
	Horizon        int       `validate:"gt=0"`
	Secondary      Secondary `validate:"omitempty,oneof=none lexicographic blended"`
	MakespanWeight int64     `validate:"gte=0"`
}

var configValidator = validator.New()

// Normalize fills defaults and validates the config.
func (c Config) Normalize() (Config, error) {
	if err := configValidator.Struct(c); err != nil {
		return c, fmt.Errorf("builder config: %w", err)
	}
	if c.Secondary == "" {
		c.Secondary = SecondaryNone
	}
	if c.MakespanWeight == 0 {
		c.MakespanWeight = DefaultMakespanWeight
	}
	return c, nil
}
