package core

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/signalsfoundry/jobshop-planner/model"
)

// floatSlack absorbs representation noise such as 90/1.5 = 60.000000001
// before durations are rounded up.
const floatSlack = 1e-9

// Domain is the immutable description of one scheduling problem. It is
// safe to share between goroutines; nothing mutates it after NewDomain.
type Domain struct {
	jobs            []model.Job
	machines        []model.Machine
	durations       DurationTable
	defaultDuration int
	granularity     int

	jobIndex     map[string]int
	machineIndex map[string]int
}

// OperationInstance is one concrete step of a job together with the
// machines able to run it.
type OperationInstance struct {
	JobID      string
	JobIndex   int
	Position   int
	Operation  model.OperationType
	Candidates []model.Machine
}

type domainOptions struct {
	durations       DurationTable
	defaultDuration int
	granularity     int
}

// Option customises Domain construction.
type Option func(*domainOptions)

// WithDurations sets the nominal duration table. The table is copied.
func WithDurations(t DurationTable) Option {
	return func(o *domainOptions) {
		o.durations = t.Clone()
	}
}

// WithDefaultDuration sets the fallback duration for operation types
// missing from the table.
func WithDefaultDuration(minutes int) Option {
	return func(o *domainOptions) {
		o.defaultDuration = minutes
	}
}

// WithGranularity sets the model time step in minutes.
func WithGranularity(minutes int) Option {
	return func(o *domainOptions) {
		o.granularity = minutes
	}
}

// NewDomain validates and freezes jobs and machines. Inputs are deep
// copied. Without WithDurations the standard table is used.
func NewDomain(jobs []model.Job, machines []model.Machine, opts ...Option) (*Domain, error) {
	o := domainOptions{
		durations:       DefaultDurations(),
		defaultDuration: DefaultOperationMinutes,
		granularity:     DefaultGranularityMinutes,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if len(jobs) == 0 {
		return nil, ErrEmptyJobList
	}
	if len(machines) == 0 {
		return nil, ErrEmptyMachineList
	}
	if o.defaultDuration <= 0 || o.defaultDuration > MaxDurationMinutes {
		return nil, fmt.Errorf("%w: default duration must be in [1, %d] (got %d)", ErrInvalidDuration, MaxDurationMinutes, o.defaultDuration)
	}
	if o.granularity <= 0 {
		return nil, fmt.Errorf("%w: granularity must be > 0 (got %d)", ErrInvalidDuration, o.granularity)
	}
	longest := o.defaultDuration
	for op, d := range o.durations {
		if d <= 0 || d > MaxDurationMinutes {
			return nil, fmt.Errorf("%w: duration for %q must be in [1, %d] (got %d)", ErrInvalidDuration, op, MaxDurationMinutes, d)
		}
		longest = max(longest, d)
	}

	d := &Domain{
		jobs:            make([]model.Job, 0, len(jobs)),
		machines:        make([]model.Machine, 0, len(machines)),
		durations:       o.durations,
		defaultDuration: o.defaultDuration,
		granularity:     o.granularity,
		jobIndex:        make(map[string]int, len(jobs)),
		machineIndex:    make(map[string]int, len(machines)),
	}

	for i, j := range jobs {
		if err := validateJob(j); err != nil {
			return nil, fmt.Errorf("job[%d]: %w", i, err)
		}
		if _, dup := d.jobIndex[j.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate job id %q", ErrInvalidJob, j.ID)
		}
		d.jobIndex[j.ID] = len(d.jobs)
		d.jobs = append(d.jobs, j.Clone())
	}

	for i, m := range machines {
		if err := validateMachine(m); err != nil {
			return nil, fmt.Errorf("machine[%d]: %w", i, err)
		}
		if slowest := float64(longest) / m.EfficiencyFactor; slowest > MaxDurationMinutes {
			return nil, fmt.Errorf("%w: machine %q efficiency factor %v stretches a %d-minute operation past %d minutes",
				ErrInvalidMachine, m.ID, m.EfficiencyFactor, longest, MaxDurationMinutes)
		}
		if _, dup := d.machineIndex[m.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate machine id %q", ErrInvalidMachine, m.ID)
		}
		d.machineIndex[m.ID] = len(d.machines)
		d.machines = append(d.machines, m.Clone())
	}

	return d, nil
}

func validateJob(j model.Job) error {
	if strings.TrimSpace(j.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidJob)
	}
	if len(j.Operations) == 0 {
		return fmt.Errorf("%w: job %q has no operations", ErrInvalidJob, j.ID)
	}
	for i, op := range j.Operations {
		if strings.TrimSpace(string(op)) == "" {
			return fmt.Errorf("%w: job %q operation %d is empty", ErrInvalidJob, j.ID, i)
		}
	}
	if j.ReleaseDate < 0 {
		return fmt.Errorf("%w: job %q release date must be >= 0 (got %d)", ErrInvalidJob, j.ID, j.ReleaseDate)
	}
	if j.DueDate < 0 {
		return fmt.Errorf("%w: job %q due date must be >= 0 (got %d)", ErrInvalidJob, j.ID, j.DueDate)
	}
	if j.Priority < 0 {
		return fmt.Errorf("%w: job %q priority must be >= 0 (got %d)", ErrInvalidJob, j.ID, j.Priority)
	}
	return nil
}

func validateMachine(m model.Machine) error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidMachine)
	}
	f := m.EfficiencyFactor
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return fmt.Errorf("%w: machine %q efficiency factor must be > 0 (got %v)", ErrInvalidMachine, m.ID, f)
	}
	return nil
}

// Jobs returns copies of the jobs in input order.
func (d *Domain) Jobs() []model.Job {
	out := make([]model.Job, len(d.jobs))
	for i, j := range d.jobs {
		out[i] = j.Clone()
	}
	return out
}

// Machines returns copies of the machines in input order.
func (d *Domain) Machines() []model.Machine {
	out := make([]model.Machine, len(d.machines))
	for i, m := range d.machines {
		out[i] = m.Clone()
	}
	return out
}

// NumJobs returns the number of jobs.
func (d *Domain) NumJobs() int { return len(d.jobs) }

// NumMachines returns the number of machines.
func (d *Domain) NumMachines() int { return len(d.machines) }

// Job looks up a job by id.
func (d *Domain) Job(id string) (model.Job, bool) {
	i, ok := d.jobIndex[id]
	if !ok {
		return model.Job{}, false
	}
	return d.jobs[i].Clone(), true
}

// Machine looks up a machine by id.
func (d *Domain) Machine(id string) (model.Machine, bool) {
	i, ok := d.machineIndex[id]
	if !ok {
		return model.Machine{}, false
	}
	return d.machines[i].Clone(), true
}

// JobIndex returns the input position of the job, or -1.
func (d *Domain) JobIndex(id string) int {
	if i, ok := d.jobIndex[id]; ok {
		return i
	}
	return -1
}

// MachineIndex returns the input position of the machine, or -1.
func (d *Domain) MachineIndex(id string) int {
	if i, ok := d.machineIndex[id]; ok {
		return i
	}
	return -1
}

// Granularity returns the model time step in minutes.
func (d *Domain) Granularity() int { return d.granularity }

// DefaultDuration returns the fallback nominal duration.
func (d *Domain) DefaultDuration() int { return d.defaultDuration }

// Durations returns a copy of the duration table.
func (d *Domain) Durations() DurationTable { return d.durations.Clone() }

// CandidateMachines returns, in input order, the machines whose
// capabilities include op.
func (d *Domain) CandidateMachines(op model.OperationType) ([]model.Machine, error) {
	var out []model.Machine
	for _, m := range d.machines {
		if m.CanPerform(op) {
			out = append(out, m.Clone())
		}
	}
	if len(out) == 0 {
		return nil, &NoCapableMachineError{Operation: op}
	}
	return out, nil
}

// CheckCapabilities reports every operation type that no machine can
// perform, each with the first job and position referencing it.
func (d *Domain) CheckCapabilities() error {
	seen := make(map[model.OperationType]struct{})
	var errs []error
	for _, j := range d.jobs {
		for pos, op := range j.Operations {
			if _, done := seen[op]; done {
				continue
			}
			seen[op] = struct{}{}
			if _, err := d.CandidateMachines(op); err != nil {
				errs = append(errs, &NoCapableMachineError{Operation: op, JobID: j.ID, Position: pos})
			}
		}
	}
	return errors.Join(errs...)
}

// NominalDuration returns the table duration for op or the default.
func (d *Domain) NominalDuration(op model.OperationType) int {
	return d.durations.Lookup(op, d.defaultDuration)
}

// EffectiveDuration is the nominal duration divided by the machine's
// efficiency factor, rounded up to whole minutes and then up to the
// granularity. Rounding up never under-estimates machine occupancy; the
// result saturates at MaxDurationMinutes.
func (d *Domain) EffectiveDuration(op model.OperationType, m model.Machine) int {
	nominal := d.NominalDuration(op)
	f := m.EfficiencyFactor
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		f = 1
	}
	q := math.Ceil(float64(nominal)/f - floatSlack)
	if q > MaxDurationMinutes {
		q = MaxDurationMinutes
	}
	minutes := max(int(q), 1)
	return AlignUp(minutes, d.granularity)
}

// MinEffectiveDuration is the fastest effective duration of op over its
// candidate machines.
func (d *Domain) MinEffectiveDuration(op model.OperationType) (int, error) {
	cands, err := d.CandidateMachines(op)
	if err != nil {
		return 0, err
	}
	best := math.MaxInt
	for _, m := range cands {
		if dur := d.EffectiveDuration(op, m); dur < best {
			best = dur
		}
	}
	return best, nil
}

// OperationInstances expands every job into its operation instances in job
// order, then position order.
func (d *Domain) OperationInstances() ([]OperationInstance, error) {
	var out []OperationInstance
	for ji, j := range d.jobs {
		for pos, op := range j.Operations {
			cands, err := d.CandidateMachines(op)
			if err != nil {
				return nil, &NoCapableMachineError{Operation: op, JobID: j.ID, Position: pos}
			}
			out = append(out, OperationInstance{
				JobID:      j.ID,
				JobIndex:   ji,
				Position:   pos,
				Operation:  op,
				Candidates: cands,
			})
		}
	}
	return out, nil
}
