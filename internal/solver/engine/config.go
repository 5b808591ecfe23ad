package engine

import "fmt"

// Config tunes the annealing search. Temperatures are relative: a move
// that worsens the energy by InitialTemp·|energy| is accepted with
// probability 1/e at the start of a cooling cycle.
type Config struct {
	Iterations        int
	IterationsPerTask int

	InitialTemp float64
	FinalTemp   float64
	Alpha       float64

	Seed int64
}

func DefaultConfig() Config {
	return Config{
		Iterations:        0,
		IterationsPerTask: 400,

		InitialTemp: 0.05,
		FinalTemp:   1e-4,
		Alpha:       0.995,

		Seed: 1,
	}
}

func (c Config) Validate() error {
	if c.Iterations <= 0 && c.IterationsPerTask <= 0 {
		return fmt.Errorf("either Iterations > 0 or IterationsPerTask > 0 is required")
	}
	if c.InitialTemp <= 0 {
		return fmt.Errorf("InitialTemp must be > 0 (got %f)", c.InitialTemp)
	}
	if c.FinalTemp <= 0 {
		return fmt.Errorf("FinalTemp must be > 0 (got %f)", c.FinalTemp)
	}
	if c.FinalTemp >= c.InitialTemp {
		return fmt.Errorf("FinalTemp must be < InitialTemp (got %f >= %f)", c.FinalTemp, c.InitialTemp)
	}
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return fmt.Errorf("Alpha must lie in (0,1) (got %f)", c.Alpha)
	}
	return nil
}

func (c Config) iterations(tasks int) int {
	if c.Iterations > 0 {
		return c.Iterations
	}
	return c.IterationsPerTask * tasks
}
