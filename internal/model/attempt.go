package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Keys of a raw attempt as returned by the statistics source.
const (
	KeyUserID         = "lti_user_id"
	KeyPassbackParams = "passback_params"
	KeyIsCorrect      = "is_correct"
	KeyAttemptType    = "attempt_type"
	KeyCreatedAt      = "created_at"
)

// Keys expected inside the decoded passback parameters.
const (
	KeyOAuthConsumerKey     = "oauth_consumer_key"
	KeyLISResultSourcedID   = "lis_result_sourcedid"
	KeyLISOutcomeServiceURL = "lis_outcome_service_url"
)

// Attempt type labels counted by the daily summary.
const (
	AttemptTypeRun    = "run"
	AttemptTypeSubmit = "submit"
)

// RawAttempt is one untrusted record from the statistics source. Numbers are
// kept as json.Number so the correctness flag can be checked exactly.
type RawAttempt map[string]any

// UserID returns the raw user identifier when it is a string.
func (r RawAttempt) UserID() string {
	if s, ok := r[KeyUserID].(string); ok {
		return s
	}
	if n, ok := r[KeyUserID].(json.Number); ok {
		return n.String()
	}
	return ""
}

// Correctness is the three-valued grading outcome of an attempt.
type Correctness int8

const (
	CorrectnessUnknown Correctness = iota
	CorrectnessFalse
	CorrectnessTrue
)

func (c Correctness) String() string {
	switch c {
	case CorrectnessTrue:
		return "true"
	case CorrectnessFalse:
		return "false"
	default:
		return "unknown"
	}
}

// Bool returns the outcome as a nullable bool for storage.
func (c Correctness) Bool() *bool {
	switch c {
	case CorrectnessTrue:
		v := true
		return &v
	case CorrectnessFalse:
		v := false
		return &v
	default:
		return nil
	}
}

// Value implements driver.Valuer; Unknown is stored as NULL.
func (c Correctness) Value() (driver.Value, error) {
	if b := c.Bool(); b != nil {
		return *b, nil
	}
	return nil, nil
}

// Scan implements sql.Scanner.
func (c *Correctness) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c = CorrectnessUnknown
	case bool:
		if v {
			*c = CorrectnessTrue
		} else {
			*c = CorrectnessFalse
		}
	default:
		return fmt.Errorf("scan correctness: unsupported type %T", src)
	}
	return nil
}

// MarshalJSON encodes Unknown as null.
func (c Correctness) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Bool())
}

// UnmarshalJSON accepts true, false and null.
func (c *Correctness) UnmarshalJSON(data []byte) error {
	var b *bool
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("decode correctness: %w", err)
	}
	switch {
	case b == nil:
		*c = CorrectnessUnknown
	case *b:
		*c = CorrectnessTrue
	default:
		*c = CorrectnessFalse
	}
	return nil
}

// CleanAttempt is a validated attempt and the row schema of grader_attempts.
type CleanAttempt struct {
	UserID               *string     `json:"user_id"`
	OAuthConsumerKey     *string     `json:"oauth_consumer_key"`
	LISResultSourcedID   *string     `json:"lis_result_sourcedid"`
	LISOutcomeServiceURL *string     `json:"lis_outcome_service_url"`
	IsCorrect            Correctness `json:"is_correct"`
	AttemptType          *string     `json:"attempt_type"`
	CreatedAt            *string     `json:"created_at"`
}
