package models

// SuggestRequest is what the decision advisor sees when it is asked to act
// for a stand-in.
type SuggestRequest struct {
	Config          SessionConfig `json:"config"`
	Phase           Phase         `json:"phase"`
	Role            DecisionRole  `json:"role"`
	Round           int           `json:"round"`
	Bounds          Bounds        `json:"bounds"`
	OwnHistory      []Outcome     `json:"own_history"`
	OpponentHistory []Outcome     `json:"opponent_history"`
	// PendingOffer is the proposer's offer during the respond phase.
	PendingOffer *float64 `json:"pending_offer,omitempty"`
}
