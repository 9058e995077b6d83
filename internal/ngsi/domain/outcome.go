package ngsi

import "encoding/json"

// OutcomeKind is the terminal state of a translate call.
type OutcomeKind string

const (
	OutcomeUpdated OutcomeKind = "Updated"
	OutcomeQueried OutcomeKind = "Queried"
	// OutcomeSkipped means the update produced no entity worth sending.
	OutcomeSkipped OutcomeKind = "Skipped"
)

// Outcome is returned alongside a nil error when the exchange succeeded.
type Outcome struct {
	Kind     OutcomeKind
	Entities int
	Payload  json.RawMessage
}
