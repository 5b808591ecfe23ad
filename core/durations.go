package core

import (
	"math"

	"github.com/signalsfoundry/jobshop-planner/model"
)

// DefaultOperationMinutes is the nominal duration used for operation types
// missing from the duration table.
const DefaultOperationMinutes = 60

// DefaultGranularityMinutes is the model's time step.
const DefaultGranularityMinutes = 1

// MaxDurationMinutes caps nominal and effective durations.
const MaxDurationMinutes = math.MaxInt32

// DurationTable maps operation types to nominal durations in minutes.
type DurationTable map[model.OperationType]int

// DefaultDurations returns the standard shop-floor duration table.
func DefaultDurations() DurationTable {
	return DurationTable{
		"cutting":        45,
		"welding":        60,
		"assembly":       90,
		"painting":       120,
		"testing":        30,
		"machining":      75,
		"heat_treatment": 180,
		"quality_check":  25,
		"surface_finish": 55,
	}
}

// Lookup returns the nominal duration for op, or fallback when absent.
func (t DurationTable) Lookup(op model.OperationType, fallback int) int {
	if d, ok := t[op]; ok {
		return d
	}
	return fallback
}

// Clone copies the table.
func (t DurationTable) Clone() DurationTable {
	out := make(DurationTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
