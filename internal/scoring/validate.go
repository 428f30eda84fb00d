package scoring

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"
)

const (
	fieldUpvotes   = "upvotes"
	fieldDownvotes = "downvotes"
	fieldCreatedAt = "createdAt"
)

// ErrInvalidRankingInput is wrapped by every ValidationError.
var ErrInvalidRankingInput = errors.New("scoring: invalid ranking input")

// ValidationError reports the first invalid ranking field with a stable message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRankingInput
}

// RankingInput carries untrusted ranking fields, typically decoded from JSON.
// Counters accept Go integers, integral float64 values and json.Number; CreatedAt accepts
// an ISO 8601 string or a time.Time.
type RankingInput struct {
	Upvotes   any `json:"upvotes"`
	Downvotes any `json:"downvotes"`
	CreatedAt any `json:"createdAt"`
}

// Ranking is the computed ranking view for validated inputs.
type Ranking struct {
	Counts        Counts
	Score         int64
	VoteComponent float64
	TimeComponent float64
	HotScore      float64
	CreatedAt     time.Time
}

// ValidateRankingInput checks upvotes, then downvotes, then createdAt, and reports the first
// failure so callers always see the same message for the same input.
func ValidateRankingInput(input RankingInput) (Counts, time.Time, error) {
	upvotes, err := parseCounter(fieldUpvotes, input.Upvotes)
	if err != nil {
		return Counts{}, time.Time{}, err
	}
	downvotes, err := parseCounter(fieldDownvotes, input.Downvotes)
	if err != nil {
		return Counts{}, time.Time{}, err
	}
	createdAt, err := parseCreatedAt(input.CreatedAt)
	if err != nil {
		return Counts{}, time.Time{}, err
	}
	return Counts{Upvotes: upvotes, Downvotes: downvotes}, createdAt, nil
}

// Compute validates the input and derives score and hot score.
func Compute(input RankingInput) (Ranking, error) {
	counts, createdAt, err := ValidateRankingInput(input)
	if err != nil {
		return Ranking{}, err
	}
	score := counts.Score()
	voteComponent := VoteComponent(score)
	timeComponent := TimeComponent(createdAt)
	return Ranking{
		Counts:        counts,
		Score:         score,
		VoteComponent: voteComponent,
		TimeComponent: timeComponent,
		HotScore:      voteComponent + timeComponent,
		CreatedAt:     createdAt,
	}, nil
}

func parseCounter(field string, raw any) (int64, error) {
	if raw == nil {
		return 0, requiredError(field)
	}
	invalid := &ValidationError{Field: field, Message: field + " must be a non-negative integer"}
	switch value := raw.(type) {
	case int:
		return nonNegative(int64(value), invalid)
	case int32:
		return nonNegative(int64(value), invalid)
	case int64:
		return nonNegative(value, invalid)
	case float64:
		return integralCounter(value, invalid)
	case json.Number:
		if parsed, err := value.Int64(); err == nil {
			return nonNegative(parsed, invalid)
		}
		// 5.0 and 1e3 are integers written in float notation.
		parsed, err := value.Float64()
		if err != nil {
			return 0, invalid
		}
		return integralCounter(parsed, invalid)
	default:
		return 0, invalid
	}
}

func integralCounter(value float64, invalid error) (int64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value != math.Trunc(value) || value >= math.MaxInt64 {
		return 0, invalid
	}
	return nonNegative(int64(value), invalid)
}

func nonNegative(value int64, invalid error) (int64, error) {
	if value < 0 {
		return 0, invalid
	}
	return value, nil
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseCreatedAt(raw any) (time.Time, error) {
	if raw == nil {
		return time.Time{}, requiredError(fieldCreatedAt)
	}
	invalid := &ValidationError{Field: fieldCreatedAt, Message: fieldCreatedAt + " must be a valid ISO date string"}
	switch value := raw.(type) {
	case time.Time:
		if value.IsZero() {
			return time.Time{}, invalid
		}
		return value.UTC(), nil
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return time.Time{}, requiredError(fieldCreatedAt)
		}
		for _, layout := range isoLayouts {
			parsed, err := time.Parse(layout, trimmed)
			if err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, invalid
	default:
		return time.Time{}, invalid
	}
}

func requiredError(field string) error {
	return &ValidationError{Field: field, Message: field + " is required"}
}
