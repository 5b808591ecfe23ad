// core/scenario_loader.go
package core

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/signalsfoundry/jobshop-planner/model"
)

// Scenario is a decoded scenario document: the raw inputs of a Domain plus
// the wall-clock epoch that minute offsets are measured from.
type Scenario struct {
	Epoch           time.Time
	Jobs            []model.Job
	Machines        []model.Machine
	Durations       DurationTable
	DefaultDuration int
	Granularity     int
}

// internal JSON shapes, unexported so the document format can evolve.
type scenarioJSON struct {
	Epoch           string         `json:"epoch"`
	Granularity     int            `json:"granularity_minutes" validate:"gte=0"`
	DefaultDuration int            `json:"default_duration_minutes" validate:"gte=0"`
	Durations       map[string]int `json:"durations" validate:"dive,gt=0"`
	Jobs            []jobJSON      `json:"jobs" validate:"dive"`
	Machines        []machineJSON  `json:"machines" validate:"dive"`
}

type jobJSON struct {
	ID            string   `json:"id" validate:"required"`
	Operations    []string `json:"operations" validate:"required,min=1,dive,required"`
	ReleaseMinute *int     `json:"release_minute" validate:"omitempty,gte=0"`
	ReleaseAt     string   `json:"release_at"`
	DueMinute     *int     `json:"due_minute" validate:"required_without=DueAt,omitempty,gte=0"`
	DueAt         string   `json:"due_at"`
	Priority      int      `json:"priority" validate:"gte=0"`
}

type machineJSON struct {
	ID               string   `json:"id" validate:"required"`
	Name             string   `json:"name"`
	Capabilities     []string `json:"capabilities" validate:"dive,required"`
	EfficiencyFactor float64  `json:"efficiency_factor" validate:"gte=0"`
}

var scenarioValidator = validator.New()

// LoadScenario reads a JSON scenario from r. Structural problems are
// reported as ErrInvalidScenario; semantic checks (empty lists, duplicate
// ids, capability coverage) are left to NewDomain and the model builder so
// they surface with their own typed errors.
func LoadScenario(r io.Reader) (*Scenario, error) {
	var payload scenarioJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode failed: %v", ErrInvalidScenario, err)
	}
	if err := scenarioValidator.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}

	sc := &Scenario{
		DefaultDuration: payload.DefaultDuration,
		Granularity:     payload.Granularity,
	}
	if sc.DefaultDuration == 0 {
		sc.DefaultDuration = DefaultOperationMinutes
	}
	if sc.Granularity == 0 {
		sc.Granularity = DefaultGranularityMinutes
	}

	if payload.Epoch != "" {
		epoch, err := time.Parse(time.RFC3339, payload.Epoch)
		if err != nil {
			return nil, fmt.Errorf("%w: epoch: %v", ErrInvalidScenario, err)
		}
		sc.Epoch = epoch
	}

	if payload.Durations == nil {
		sc.Durations = DefaultDurations()
	} else {
		sc.Durations = make(DurationTable, len(payload.Durations))
		for op, d := range payload.Durations {
			sc.Durations[model.OperationType(op)] = d
		}
	}

	for i, j := range payload.Jobs {
		job, err := sc.convertJob(j)
		if err != nil {
			return nil, fmt.Errorf("%w: jobs[%d]: %v", ErrInvalidScenario, i, err)
		}
		sc.Jobs = append(sc.Jobs, job)
	}

	for _, m := range payload.Machines {
		eff := m.EfficiencyFactor
		if eff == 0 {
			eff = 1.0
		}
		caps := make([]model.OperationType, 0, len(m.Capabilities))
		for _, c := range m.Capabilities {
			caps = append(caps, model.OperationType(strings.TrimSpace(c)))
		}
		sc.Machines = append(sc.Machines, model.Machine{
			ID:               m.ID,
			Name:             m.Name,
			Capabilities:     caps,
			EfficiencyFactor: eff,
		})
	}

	return sc, nil
}

func (sc *Scenario) convertJob(j jobJSON) (model.Job, error) {
	ops := make([]model.OperationType, 0, len(j.Operations))
	for _, op := range j.Operations {
		ops = append(ops, model.OperationType(strings.TrimSpace(op)))
	}

	release, err := sc.minuteField("release", j.ReleaseMinute, j.ReleaseAt)
	if err != nil {
		return model.Job{}, err
	}
	due, err := sc.minuteField("due", j.DueMinute, j.DueAt)
	if err != nil {
		return model.Job{}, err
	}

	return model.Job{
		ID:          j.ID,
		Operations:  ops,
		ReleaseDate: release,
		DueDate:     due,
		Priority:    j.Priority,
	}, nil
}

// minuteField prefers an explicit minute offset and falls back to an
// RFC3339 timestamp measured against the scenario epoch.
func (sc *Scenario) minuteField(name string, minute *int, at string) (int, error) {
	if minute != nil {
		return *minute, nil
	}
	if at == "" {
		return 0, nil
	}
	if sc.Epoch.IsZero() {
		return 0, fmt.Errorf("%s_at requires a scenario epoch", name)
	}
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return 0, fmt.Errorf("%s_at: %v", name, err)
	}
	m := MinutesSince(sc.Epoch, t)
	if m < 0 {
		return 0, fmt.Errorf("%s_at %s is before epoch", name, at)
	}
	return m, nil
}

// Options returns the Domain options described by the scenario.
func (sc *Scenario) Options() []Option {
	return []Option{
		WithDurations(sc.Durations),
		WithDefaultDuration(sc.DefaultDuration),
		WithGranularity(sc.Granularity),
	}
}

// Domain freezes the scenario into a Domain.
func (sc *Scenario) Domain() (*Domain, error) {
	return NewDomain(sc.Jobs, sc.Machines, sc.Options()...)
}
