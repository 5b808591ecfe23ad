package model

// Quality records how the solve that produced a Schedule ended.
type Quality string

const (
	// QualityOptimal means the solver proved the makespan optimal.
	QualityOptimal Quality = "optimal"
	// QualityFeasible means a valid but not proven optimal schedule.
	QualityFeasible Quality = "feasible"
	// QualityTimedOut means the time budget ran out; the schedule is the
	// best found so far.
	QualityTimedOut Quality = "timed_out"
)

// Suboptimal reports whether the schedule may be improved by a longer solve.
func (q Quality) Suboptimal() bool {
	return q != QualityOptimal
}

// ScheduledOperation is one operation instance placed on a machine over
// the half-open interval [Start, End).
type ScheduledOperation struct {
	JobID          string
	OperationIndex int
	Operation      OperationType
	MachineID      string
	Start          int
	End            int
}

// Duration returns End - Start.
func (o ScheduledOperation) Duration() int {
	return o.End - o.Start
}

// ExportRow is the tuple handed to visualization collaborators.
type ExportRow struct {
	JobID          string `json:"job_id"`
	OperationIndex int    `json:"operation_index"`
	MachineID      string `json:"machine_id"`
	Start          int    `json:"start"`
	End            int    `json:"end"`
}

// Schedule is the decoded result of one solve. It is never mutated after
// construction; every accessor hands out copies.
type Schedule struct {
	ops     []ScheduledOperation
	quality Quality
}

// NewSchedule copies ops (expected in job order, then operation index) into
// a new immutable Schedule.
func NewSchedule(ops []ScheduledOperation, quality Quality) *Schedule {
	cp := make([]ScheduledOperation, len(ops))
	copy(cp, ops)
	return &Schedule{ops: cp, quality: quality}
}

// Quality returns how the underlying solve ended.
func (s *Schedule) Quality() Quality {
	if s == nil {
		return ""
	}
	return s.quality
}

// Len returns the number of scheduled operations.
func (s *Schedule) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ops)
}

// Operations returns a copy of all scheduled operations in schedule order.
func (s *Schedule) Operations() []ScheduledOperation {
	if s == nil {
		return nil
	}
	out := make([]ScheduledOperation, len(s.ops))
	copy(out, s.ops)
	return out
}

// ForJob returns the job's operations in schedule order.
func (s *Schedule) ForJob(jobID string) []ScheduledOperation {
	if s == nil {
		return nil
	}
	var out []ScheduledOperation
	for _, op := range s.ops {
		if op.JobID == jobID {
			out = append(out, op)
		}
	}
	return out
}

// ForMachine returns the operations assigned to machineID in schedule order.
func (s *Schedule) ForMachine(machineID string) []ScheduledOperation {
	if s == nil {
		return nil
	}
	var out []ScheduledOperation
	for _, op := range s.ops {
		if op.MachineID == machineID {
			out = append(out, op)
		}
	}
	return out
}

// Makespan returns the latest end time, or 0 for an empty schedule.
func (s *Schedule) Makespan() int {
	if s == nil {
		return 0
	}
	ms := 0
	for _, op := range s.ops {
		if op.End > ms {
			ms = op.End
		}
	}
	return ms
}

// Export flattens the schedule into visualization tuples.
func (s *Schedule) Export() []ExportRow {
	if s == nil {
		return nil
	}
	rows := make([]ExportRow, 0, len(s.ops))
	for _, op := range s.ops {
		rows = append(rows, ExportRow{
			JobID:          op.JobID,
			OperationIndex: op.OperationIndex,
			MachineID:      op.MachineID,
			Start:          op.Start,
			End:            op.End,
		})
	}
	return rows
}
