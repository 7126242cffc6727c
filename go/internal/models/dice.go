package models

// DieDefinition describes one physical die the local client owns.
type DieDefinition struct {
	ID     string `json:"id"`
	Faces  int    `json:"faces"`
	Value  int    `json:"value,omitempty"` // last authoritative face value, 0 = unrolled
	InPlay bool   `json:"in_play"`
	Scored bool   `json:"scored"`
}

// DiceTable is the local participant's die set, keyed by die id. It is the
// client's own definition of each die; authoritative roll replays are
// validated against it.
type DiceTable map[string]*DieDefinition

// Rollable returns the ids of dice that are in play and not yet scored, in
// no particular order.
func (t DiceTable) Rollable() []string {
	ids := make([]string, 0, len(t))
	for id, d := range t {
		if d.InPlay && !d.Scored {
			ids = append(ids, id)
		}
	}
	return ids
}
