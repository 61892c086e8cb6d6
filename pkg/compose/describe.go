package compose

// Description is a serializable view of a composition tree.
type Description struct {
	Name    string        `json:"name"`
	Kind    Kind          `json:"kind"`
	Reads   []string      `json:"reads,omitempty"`
	Writes  []string      `json:"writes,omitempty"`
	Members []Description `json:"members,omitempty"`
}

// Describe returns the topology of the engine tree.
func (e *Engine) Describe() Description {
	return Describe(e.root)
}

// Describe returns the topology of n.
func Describe(n Node) Description {
	d := Description{Name: n.Name(), Kind: n.Kind()}
	if s, ok := n.(*stageNode); ok {
		d.Reads = s.agent.Reads()
		d.Writes = s.agent.Writes()
		return d
	}
	for _, m := range n.Children() {
		d.Members = append(d.Members, Describe(m))
	}
	return d
}

// StageCount returns the number of agents in the description.
func (d Description) StageCount() int {
	if d.Kind == KindStage {
		return 1
	}
	total := 0
	for _, m := range d.Members {
		total += m.StageCount()
	}
	return total
}
