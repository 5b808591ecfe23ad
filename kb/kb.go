package kb

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/signalsfoundry/jobshop-planner/core"
	"github.com/signalsfoundry/jobshop-planner/model"
)

var (
	// ErrJobExists is returned when a job id is registered twice.
	ErrJobExists = errors.New("job already exists")
	// ErrMachineExists is returned when a machine id is registered twice.
	ErrMachineExists = errors.New("machine already exists")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventJobAdded EventType = iota
	EventMachineAdded
)

func (t EventType) String() string {
	switch t {
	case EventJobAdded:
		return "job_added"
	case EventMachineAdded:
		return "machine_added"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is emitted to subscribers when something interesting happens.
// Only the field matching Type is populated.
type Event struct {
	Type    EventType
	Job     model.Job
	Machine model.Machine
}

// KnowledgeBase is an in-memory, thread-safe registry of jobs and machines.
// Entries keep their insertion order, which becomes the domain order of a
// Snapshot.
type KnowledgeBase struct {
	mu sync.RWMutex

	jobs     map[string]model.Job
	machines map[string]model.Machine
	jobOrder []string
	macOrder []string

	subs   map[int]func(Event)
	nextID int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		jobs:     make(map[string]model.Job),
		machines: make(map[string]model.Machine),
		subs:     make(map[int]func(Event)),
	}
}

// AddJob registers a job. It returns ErrJobExists if the ID is taken.
func (kb *KnowledgeBase) AddJob(j model.Job) error {
	kb.mu.Lock()
	if _, exists := kb.jobs[j.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrJobExists, j.ID)
	}
	stored := j.Clone()
	kb.jobs[j.ID] = stored
	kb.jobOrder = append(kb.jobOrder, j.ID)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	kb.notify(subs, Event{Type: EventJobAdded, Job: stored.Clone()})
	return nil
}

// AddMachine registers a machine. It returns ErrMachineExists if the ID is
// taken.
func (kb *KnowledgeBase) AddMachine(m model.Machine) error {
	kb.mu.Lock()
	if _, exists := kb.machines[m.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrMachineExists, m.ID)
	}
	stored := m.Clone()
	kb.machines[m.ID] = stored
	kb.macOrder = append(kb.macOrder, m.ID)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	kb.notify(subs, Event{Type: EventMachineAdded, Machine: stored.Clone()})
	return nil
}

// GetJob returns a copy of the job with the given ID.
func (kb *KnowledgeBase) GetJob(id string) (model.Job, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	j, ok := kb.jobs[id]
	if !ok {
		return model.Job{}, false
	}
	return j.Clone(), true
}

// GetMachine returns a copy of the machine with the given ID.
func (kb *KnowledgeBase) GetMachine(id string) (model.Machine, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	m, ok := kb.machines[id]
	if !ok {
		return model.Machine{}, false
	}
	return m.Clone(), true
}

// ListJobs returns a snapshot of all jobs in insertion order.
func (kb *KnowledgeBase) ListJobs() []model.Job {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.Job, 0, len(kb.jobOrder))
	for _, id := range kb.jobOrder {
		res = append(res, kb.jobs[id].Clone())
	}
	return res
}

// ListMachines returns a snapshot of all machines in insertion order.
func (kb *KnowledgeBase) ListMachines() []model.Machine {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.Machine, 0, len(kb.macOrder))
	for _, id := range kb.macOrder {
		res = append(res, kb.machines[id].Clone())
	}
	return res
}

// Snapshot freezes the current registry contents into an immutable domain.
// Later additions do not affect the returned Domain.
func (kb *KnowledgeBase) Snapshot(opts ...core.Option) (*core.Domain, error) {
	return core.NewDomain(kb.ListJobs(), kb.ListMachines(), opts...)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, kb.subs[id])
	}
	return out
}

// notify runs outside the lock so subscribers may call back into the KB.
func (kb *KnowledgeBase) notify(subs []func(Event), e Event) {
	for _, sub := range subs {
		sub(e)
	}
}
