package kb

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/signalsfoundry/jobshop-planner/model"
)

func job(id string, ops ...model.OperationType) model.Job {
	return model.Job{ID: id, Operations: ops, DueDate: 480, Priority: 1}
}

func machine(id string, caps ...model.OperationType) model.Machine {
	return model.Machine{ID: id, Capabilities: caps, EfficiencyFactor: 1.0}
}

func TestAddAndGetJob(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddJob(job("J1", "cutting", "welding")); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	got, ok := store.GetJob("J1")
	if !ok || len(got.Operations) != 2 {
		t.Fatalf("GetJob returned %#v, %v; want J1 with 2 operations", got, ok)
	}
	if _, ok := store.GetJob("missing"); ok {
		t.Fatalf("GetJob(missing) reported found")
	}
}

func TestAddDuplicates(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddJob(job("J1", "cutting")); err != nil {
		t.Fatalf("first AddJob error: %v", err)
	}
	if err := store.AddJob(job("J1", "welding")); !errors.Is(err, ErrJobExists) {
		t.Fatalf("duplicate AddJob err = %v, want ErrJobExists", err)
	}
	if err := store.AddMachine(machine("M1", "cutting")); err != nil {
		t.Fatalf("first AddMachine error: %v", err)
	}
	if err := store.AddMachine(machine("M1", "welding")); !errors.Is(err, ErrMachineExists) {
		t.Fatalf("duplicate AddMachine err = %v, want ErrMachineExists", err)
	}
}

func TestListPreservesInsertionOrder(t *testing.T) {
	store := NewKnowledgeBase()
	for i := 0; i < 5; i++ {
		if err := store.AddJob(job(fmt.Sprintf("J%d", 5-i), "cutting")); err != nil {
			t.Fatalf("AddJob error: %v", err)
		}
		if err := store.AddMachine(machine(fmt.Sprintf("M%d", 5-i), "cutting")); err != nil {
			t.Fatalf("AddMachine error: %v", err)
		}
	}

	jobs := store.ListJobs()
	machines := store.ListMachines()
	for i := 0; i < 5; i++ {
		if want := fmt.Sprintf("J%d", 5-i); jobs[i].ID != want {
			t.Fatalf("ListJobs[%d] = %s, want %s", i, jobs[i].ID, want)
		}
		if want := fmt.Sprintf("M%d", 5-i); machines[i].ID != want {
			t.Fatalf("ListMachines[%d] = %s, want %s", i, machines[i].ID, want)
		}
	}
}

func TestStoredCopiesAreDetached(t *testing.T) {
	store := NewKnowledgeBase()
	j := job("J1", "cutting")
	if err := store.AddJob(j); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	j.Operations[0] = "painting"

	got, _ := store.GetJob("J1")
	if got.Operations[0] != "cutting" {
		t.Fatalf("stored job mutated through caller slice: %v", got.Operations)
	}
}

func TestSnapshot(t *testing.T) {
	store := NewKnowledgeBase()
	_ = store.AddJob(job("J1", "cutting"))
	_ = store.AddMachine(machine("M1", "cutting"))

	d, err := store.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	_ = store.AddJob(job("J2", "cutting"))
	if d.NumJobs() != 1 {
		t.Fatalf("snapshot NumJobs = %d after later AddJob, want 1", d.NumJobs())
	}

	empty := NewKnowledgeBase()
	if _, err := empty.Snapshot(); err == nil {
		t.Fatalf("expected Snapshot of empty KB to fail")
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	store := NewKnowledgeBase()

	var got []Event
	unsubscribe := store.Subscribe(func(e Event) {
		got = append(got, e)
	})

	if err := store.AddMachine(machine("M1", "cutting")); err != nil {
		t.Fatalf("AddMachine error: %v", err)
	}
	if err := store.AddJob(job("J1", "cutting")); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	unsubscribe()
	if err := store.AddJob(job("J2", "cutting")); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Type != EventMachineAdded || got[0].Machine.ID != "M1" {
		t.Fatalf("event[0] = %+v, want machine_added M1", got[0])
	}
	if got[1].Type != EventJobAdded || got[1].Job.ID != "J1" {
		t.Fatalf("event[1] = %+v, want job_added J1", got[1])
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddMachine(machine("M1", "cutting")); err != nil {
		t.Fatalf("AddMachine error: %v", err)
	}

	var wg sync.WaitGroup
	// Concurrent readers/writers
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = store.GetMachine("M1")
			_ = store.ListJobs()
		}()
		go func() {
			defer wg.Done()
			_ = store.AddJob(job(fmt.Sprintf("J%d", i), "cutting"))
		}()
	}
	wg.Wait()

	if got := len(store.ListJobs()); got != 10 {
		t.Fatalf("ListJobs len=%d, want 10", got)
	}
}
