package model

// Machine is a processing resource. Its efficiency factor scales nominal
// operation durations: effective = nominal / EfficiencyFactor.
type Machine struct {
	ID               string
	Name             string
	Capabilities     []OperationType
	EfficiencyFactor float64
}

// CanPerform reports whether op is one of the machine's capabilities.
func (m Machine) CanPerform(op OperationType) bool {
	for _, c := range m.Capabilities {
		if c == op {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the machine.
func (m Machine) Clone() Machine {
	caps := make([]OperationType, len(m.Capabilities))
	copy(caps, m.Capabilities)
	m.Capabilities = caps
	return m
}
