package models

// Participant represents one seat in a session.
type Participant struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Bot           bool   `json:"bot"`
	Seated        bool   `json:"seated"`
	Ready         bool   `json:"ready"`
	Score         int    `json:"score"`
	DiceRemaining int    `json:"dice_remaining"`
	QueuedForNext bool   `json:"queued_for_next"`
	Finished      bool   `json:"finished"`
}
