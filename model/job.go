package model

// OperationType names a kind of work (cutting, welding, ...). Machines
// advertise the operation types they can perform as capabilities.
type OperationType string

// Job is an ordered sequence of operations that must run one after another.
// Times are integral minutes measured from the plan epoch.
type Job struct {
	ID string

	// Operations is the fixed processing route. Position i must finish
	// before position i+1 starts.
	Operations []OperationType

	// ReleaseDate is the earliest minute any operation of the job may start.
	ReleaseDate int
	// DueDate is a soft target; missing it only costs tardiness.
	DueDate int
	// Priority weights the job's tardiness when a secondary objective is on.
	Priority int
}

// Clone returns a deep copy so callers cannot alter the route afterwards.
func (j Job) Clone() Job {
	ops := make([]OperationType, len(j.Operations))
	copy(ops, j.Operations)
	j.Operations = ops
	return j
}
