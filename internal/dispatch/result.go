package dispatch

// Outcome is the terminal per-recipient classification of a dispatch.
type Outcome string

const (
	OutcomeAccepted               Outcome = "accepted"
	OutcomeFailed                 Outcome = "failed"
	OutcomeSuppressedPreference   Outcome = "suppressed_preference"
	OutcomeSuppressedUnsubscribed Outcome = "suppressed_unsubscribed"
	OutcomeSuppressedDuplicate    Outcome = "suppressed_duplicate"
	OutcomeSuppressedCooldown     Outcome = "suppressed_cooldown"
	OutcomeSuppressedMuted        Outcome = "suppressed_muted"
)

type RecipientOutcome struct {
	RecipientID string  `json:"recipient_id"`
	Outcome     Outcome `json:"outcome"`
	Reason      string  `json:"reason,omitempty"`
}

// BatchResult aggregates one dispatch call. The counter identity
// accepted + failed + suppressed_* == total_recipients holds for every
// result the orchestrator returns.
type BatchResult struct {
	TotalRecipients        int `json:"total_recipients"`
	Accepted               int `json:"accepted"`
	Failed                 int `json:"failed"`
	SuppressedPreference   int `json:"suppressed_preference"`
	SuppressedUnsubscribed int `json:"suppressed_unsubscribed"`
	SuppressedDuplicate    int `json:"suppressed_duplicate"`
	SuppressedCooldown     int `json:"suppressed_cooldown"`
	SuppressedMuted        int `json:"suppressed_muted"`

	Outcomes []RecipientOutcome `json:"outcomes"`
	Errors   []string           `json:"errors,omitempty"`
}

func (r *BatchResult) record(recipientID string, outcome Outcome, reason string) {
	r.Outcomes = append(r.Outcomes, RecipientOutcome{
		RecipientID: recipientID,
		Outcome:     outcome,
		Reason:      reason,
	})
	switch outcome {
	case OutcomeAccepted:
		r.Accepted++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSuppressedPreference:
		r.SuppressedPreference++
	case OutcomeSuppressedUnsubscribed:
		r.SuppressedUnsubscribed++
	case OutcomeSuppressedDuplicate:
		r.SuppressedDuplicate++
	case OutcomeSuppressedCooldown:
		r.SuppressedCooldown++
	case OutcomeSuppressedMuted:
		r.SuppressedMuted++
	}
}

func (r *BatchResult) addError(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
}
