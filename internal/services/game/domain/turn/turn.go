// Package turn defines the payloads exchanged during one synchronized round:
// the moves a player submits and the result a resolution produces.
package turn

import (
	"encoding/json"
	"time"
)

// Unit actions understood by the bundled resolver. Other actions pass through
// the ledger untouched.
const (
	ActionMove   = "move"
	ActionAttack = "attack"
	ActionDefend = "defend"
)

// Move is one per-unit action.
type Move struct {
	UnitID string `json:"unit_id"`
	Action string `json:"action"`
	// Target is a hex coordinate [q, r] or a unit id; kept verbatim.
	Target json.RawMessage `json:"target,omitempty"`
}

// Submission is everything a player sent for one turn.
type Submission struct {
	Turn        int       `json:"turn"`
	Moves       []Move    `json:"moves"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Record is one update or event entry.
type Record map[string]any

// Result is the immutable outcome of a resolved turn.
type Result struct {
	Updates []Record `json:"updates"`
	Events  []Record `json:"events"`
}
