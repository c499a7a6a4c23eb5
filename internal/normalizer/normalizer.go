// Package normalizer turns raw statistics records into clean grader attempts.
package normalizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/telhawk-systems/gradersync/internal/literal"
	"github.com/telhawk-systems/gradersync/internal/logging"
	"github.com/telhawk-systems/gradersync/internal/model"
)

var (
	ErrPayloadMissing     = errors.New("payload missing")
	ErrMalformedPayload   = errors.New("malformed payload")
	ErrInvalidCorrectness = errors.New("invalid correctness value")
)

// RejectError describes why a raw attempt produced no clean attempt.
type RejectError struct {
	Reason string
	UserID string
	Err    error
}

func (e *RejectError) Error() string {
	return e.Err.Error()
}

func (e *RejectError) Unwrap() error {
	return e.Err
}

func reject(raw model.RawAttempt, reason string, err error) *RejectError {
	return &RejectError{Reason: reason, UserID: raw.UserID(), Err: err}
}

// Normalizer validates raw attempts and logs every rejection.
type Normalizer struct {
	logger *logging.Logger
	now    func() time.Time
}

// New creates a Normalizer that logs rejections to logger.
func New(logger *logging.Logger) *Normalizer {
	return &Normalizer{logger: logger, now: time.Now}
}

// Result is the outcome of normalizing a batch.
type Result struct {
	Attempts   []model.CleanAttempt
	Rejections []model.Rejection
}

// Rejected returns the number of rejections per reason.
func (r Result) Rejected() map[string]int {
	counts := make(map[string]int)
	for _, rej := range r.Rejections {
		counts[rej.Reason]++
	}
	return counts
}

// NormalizeAll normalizes every record in order. Each record yields exactly one
// clean attempt or one rejection.
func (n *Normalizer) NormalizeAll(ctx context.Context, raws []model.RawAttempt) Result {
	res := Result{Attempts: make([]model.CleanAttempt, 0, len(raws))}
	for _, raw := range raws {
		attempt, err := Normalize(raw)
		if err == nil {
			res.Attempts = append(res.Attempts, attempt)
			continue
		}

		var rej *RejectError
		if !errors.As(err, &rej) {
			rej = reject(raw, "unknown", err)
		}
		n.logger.ErrorContext(ctx, "attempt rejected: "+reasonMessage(rej),
			logging.UserID(rej.UserID),
			logging.Reason(rej.Reason),
			logging.Error(err),
		)
		res.Rejections = append(res.Rejections, model.Rejection{
			RunID:     logging.RunIDFromContext(ctx),
			Timestamp: n.now().UTC(),
			UserID:    rej.UserID,
			Reason:    rej.Reason,
			Error:     err.Error(),
			Record:    raw,
		})
	}
	return res
}

func reasonMessage(rej *RejectError) string {
	switch {
	case errors.Is(rej, ErrPayloadMissing):
		return ErrPayloadMissing.Error()
	case errors.Is(rej, ErrMalformedPayload):
		return ErrMalformedPayload.Error()
	case errors.Is(rej, ErrInvalidCorrectness):
		return ErrInvalidCorrectness.Error()
	}
	return rej.Reason
}

// Normalize converts a single raw attempt. The checks run in order and the
// first failure rejects the record with a *RejectError:
//
//  1. passback_params must be a non-blank string
//  2. it must decode as a literal mapping
//  3. is_correct must be absent/null, 1/true or 0/false
//
// Missing passback sub-fields are not an error and become null.
func Normalize(raw model.RawAttempt) (model.CleanAttempt, error) {
	payload, ok := raw[model.KeyPassbackParams].(string)
	if !ok || strings.TrimSpace(payload) == "" {
		return model.CleanAttempt{}, reject(raw, model.ReasonPayloadMissing, ErrPayloadMissing)
	}

	passback, err := literal.DecodeMap(payload)
	if err != nil {
		return model.CleanAttempt{}, reject(raw, model.ReasonMalformedPayload,
			fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}

	correct, err := Correctness(raw[model.KeyIsCorrect])
	if err != nil {
		return model.CleanAttempt{}, reject(raw, model.ReasonInvalidCorrectness, err)
	}

	return model.CleanAttempt{
		UserID:               text(raw[model.KeyUserID]),
		OAuthConsumerKey:     text(passback[model.KeyOAuthConsumerKey]),
		LISResultSourcedID:   text(passback[model.KeyLISResultSourcedID]),
		LISOutcomeServiceURL: text(passback[model.KeyLISOutcomeServiceURL]),
		IsCorrect:            correct,
		AttemptType:          text(raw[model.KeyAttemptType]),
		CreatedAt:            text(raw[model.KeyCreatedAt]),
	}, nil
}

// Correctness coerces a raw correctness indicator. Absent or null is Unknown;
// boolean true or a number equal to 1 is True; boolean false or a number
// equal to 0 is False. Every other value is an error.
func Correctness(v any) (model.Correctness, error) {
	switch x := v.(type) {
	case nil:
		return model.CorrectnessUnknown, nil
	case bool:
		if x {
			return model.CorrectnessTrue, nil
		}
		return model.CorrectnessFalse, nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			break
		}
		return numericCorrectness(f, v)
	case float64:
		return numericCorrectness(x, v)
	case int:
		return numericCorrectness(float64(x), v)
	case int64:
		return numericCorrectness(float64(x), v)
	}
	return model.CorrectnessUnknown, fmt.Errorf("%w: %s", ErrInvalidCorrectness, describe(v))
}

func numericCorrectness(f float64, raw any) (model.Correctness, error) {
	switch f {
	case 1:
		return model.CorrectnessTrue, nil
	case 0:
		return model.CorrectnessFalse, nil
	}
	return model.CorrectnessUnknown, fmt.Errorf("%w: %s", ErrInvalidCorrectness, describe(raw))
}

func describe(v any) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprintf("%v (%T)", v, v)
}

// text renders a loosely typed value for a TEXT column. Strings pass through
// verbatim, null stays null, scalars use their canonical form and containers
// are encoded as JSON.
func text(v any) *string {
	var s string
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		s = x
	case json.Number:
		s = x.String()
	case bool:
		s = strconv.FormatBool(x)
	case int64:
		s = strconv.FormatInt(x, 10)
	case *big.Int:
		s = x.String()
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			s = fmt.Sprint(x)
		} else {
			s = string(data)
		}
	}
	return &s
}
