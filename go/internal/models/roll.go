package models

// RollDie is one die inside a roll snapshot.
type RollDie struct {
	DieID string `json:"die_id"`
	Faces int    `json:"faces"`
	Value int    `json:"value"`
}

// RollSnapshot is an ordered record of one roll. Index increases
// monotonically per turn; ServerID correlates a later scoring action to the
// roll it followed and may be empty on older servers.
type RollSnapshot struct {
	Index    int       `json:"index"`
	ServerID string    `json:"server_id,omitempty"`
	Dice     []RollDie `json:"dice"`
}
