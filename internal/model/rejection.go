package model

import "time"

// Rejection reasons.
const (
	ReasonPayloadMissing     = "payload_missing"
	ReasonMalformedPayload   = "malformed_payload"
	ReasonInvalidCorrectness = "invalid_correctness"
)

// Rejection records a raw attempt the normalizer refused, for the dead-letter queue.
type Rejection struct {
	RunID     string     `json:"run_id,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	UserID    string     `json:"user_id,omitempty"`
	Reason    string     `json:"reason"`
	Error     string     `json:"error"`
	Record    RawAttempt `json:"record"`
}
