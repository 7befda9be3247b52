package common

// Graph is a snapshot of the catalog: the entities known to the store and
// the directed relationships between them.
//
// It is the exchange format for catalog files loaded by the CLI and for
// bulk imports. Relationships reference entities by ID.
type Graph struct {
	Entities      []Entity       `json:"entities" yaml:"entities"`
	Relationships []Relationship `json:"relationships,omitempty" yaml:"relationships,omitempty"`
}

// EntityByID returns the entity with the given ID and whether it was found.
func (g *Graph) EntityByID(id string) (Entity, bool) {
	for _, e := range g.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return Entity{}, false
}

// Clamp limits v to the closed interval [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
