package scoring

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRankingInputReportsFirstFieldInFixedOrder(t *testing.T) {
	testCases := []struct {
		name        string
		input       RankingInput
		wantField   string
		wantMessage string
	}{
		{
			name:        "everything-missing",
			input:       RankingInput{},
			wantField:   "upvotes",
			wantMessage: "upvotes is required",
		},
		{
			name:        "downvotes-and-created-at-missing",
			input:       RankingInput{Upvotes: 3},
			wantField:   "downvotes",
			wantMessage: "downvotes is required",
		},
		{
			name:        "created-at-missing",
			input:       RankingInput{Upvotes: 3, Downvotes: 1},
			wantField:   "createdAt",
			wantMessage: "createdAt is required",
		},
		{
			name:        "negative-upvotes-before-missing-downvotes",
			input:       RankingInput{Upvotes: -1},
			wantField:   "upvotes",
			wantMessage: "upvotes must be a non-negative integer",
		},
		{
			name:        "fractional-downvotes",
			input:       RankingInput{Upvotes: 1.0, Downvotes: 2.5, CreatedAt: "2025-01-01T00:00:00Z"},
			wantField:   "downvotes",
			wantMessage: "downvotes must be a non-negative integer",
		},
		{
			name:        "string-upvotes",
			input:       RankingInput{Upvotes: "10", Downvotes: 0, CreatedAt: "2025-01-01T00:00:00Z"},
			wantField:   "upvotes",
			wantMessage: "upvotes must be a non-negative integer",
		},
		{
			name:        "garbage-date",
			input:       RankingInput{Upvotes: 1, Downvotes: 0, CreatedAt: "yesterday"},
			wantField:   "createdAt",
			wantMessage: "createdAt must be a valid ISO date string",
		},
		{
			name:        "numeric-date",
			input:       RankingInput{Upvotes: 1, Downvotes: 0, CreatedAt: 1700000000.0},
			wantField:   "createdAt",
			wantMessage: "createdAt must be a valid ISO date string",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, _, err := ValidateRankingInput(testCase.input)
			require.Error(t, err)

			var validationErr *ValidationError
			require.True(t, errors.As(err, &validationErr))
			assert.Equal(t, testCase.wantField, validationErr.Field)
			assert.Equal(t, testCase.wantMessage, err.Error())
			assert.ErrorIs(t, err, ErrInvalidRankingInput)
		})
	}
}

func TestComputeFromDecodedJSON(t *testing.T) {
	var input RankingInput
	body := `{"upvotes": 7, "downvotes": 2, "createdAt": "2024-01-01T12:30:00.000Z"}`
	require.NoError(t, json.Unmarshal([]byte(body), &input))

	ranking, err := Compute(input)
	require.NoError(t, err)

	assert.Equal(t, Counts{Upvotes: 7, Downvotes: 2}, ranking.Counts)
	assert.Equal(t, int64(5), ranking.Score)
	assert.InDelta(t, 45000.0/45000.0, ranking.TimeComponent, floatTolerance)
	assert.InDelta(t, ranking.VoteComponent+ranking.TimeComponent, ranking.HotScore, floatTolerance)
	assert.Equal(t, time.Date(2024, time.January, 1, 12, 30, 0, 0, time.UTC), ranking.CreatedAt)
}

func TestComputeAcceptsDateOnlyAndJSONNumber(t *testing.T) {
	ranking, err := Compute(RankingInput{
		Upvotes:   json.Number("0"),
		Downvotes: json.Number("0"),
		CreatedAt: "2024-01-02",
	})
	require.NoError(t, err)
	assert.InDelta(t, 86400.0/45000.0, ranking.HotScore, floatTolerance)
}

func TestComputeIsIdempotent(t *testing.T) {
	input := RankingInput{Upvotes: 12, Downvotes: 30, CreatedAt: time.Date(2025, 5, 5, 5, 5, 5, 0, time.UTC)}

	first, err := Compute(input)
	require.NoError(t, err)
	second, err := Compute(input)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Less(t, first.VoteComponent, 0.0)
}

func TestComputeAcceptsIntegralCountersInFloatNotation(t *testing.T) {
	testCases := []struct {
		name     string
		upvotes  string
		wantErr  bool
		wantUpvotes int64
	}{
		{name: "plain-integer", upvotes: "5", wantUpvotes: 5},
		{name: "trailing-zero-fraction", upvotes: "5.0", wantUpvotes: 5},
		{name: "exponent", upvotes: "1e3", wantUpvotes: 1000},
		{name: "fractional", upvotes: "5.5", wantErr: true},
		{name: "negative-exponent", upvotes: "-1e2", wantErr: true},
		{name: "beyond-int64", upvotes: "1e19", wantErr: true},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			body := `{"upvotes": ` + testCase.upvotes + `, "downvotes": 0, "createdAt": "2025-01-01T00:00:00Z"}`
			decoder := json.NewDecoder(strings.NewReader(body))
			decoder.UseNumber()
			var input RankingInput
			require.NoError(t, decoder.Decode(&input))

			ranking, err := Compute(input)
			if testCase.wantErr {
				require.Error(t, err)
				assert.Equal(t, "upvotes must be a non-negative integer", err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testCase.wantUpvotes, ranking.Counts.Upvotes)
		})
	}
}
