package voting

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/scoring"
)

// Outcome reports what a cast did to the voter's vote record.
type Outcome string

const (
	// OutcomeCreated means no vote existed and one was recorded.
	OutcomeCreated Outcome = "created"
	// OutcomeUpdated means the existing vote was flipped.
	OutcomeUpdated Outcome = "updated"
	// OutcomeDeleted means the existing vote was repeated and therefore removed.
	OutcomeDeleted Outcome = "deleted"
)

type transition struct {
	outcome Outcome
	// value is zero when the vote is deleted.
	value VoteValue
	delta scoring.Delta
}

func resolveVote(existing *Vote, value VoteValue) (transition, error) {
	if !value.Valid() {
		return transition{}, fmt.Errorf("vote value %d is not 1 or -1", value)
	}
	if existing == nil {
		return transition{
			outcome: OutcomeCreated,
			value:   value,
			delta:   counterDelta(value, 1),
		}, nil
	}

	current := existing.VoteValue()
	if !current.Valid() {
		return transition{}, fmt.Errorf("stored vote %s has value %d", existing.ID, existing.Value)
	}
	if current == value {
		return transition{
			outcome: OutcomeDeleted,
			delta:   counterDelta(current, -1),
		}, nil
	}

	removed := counterDelta(current, -1)
	added := counterDelta(value, 1)
	return transition{
		outcome: OutcomeUpdated,
		value:   value,
		delta: scoring.Delta{
			Upvotes:   removed.Upvotes + added.Upvotes,
			Downvotes: removed.Downvotes + added.Downvotes,
		},
	}, nil
}

func counterDelta(value VoteValue, step int) scoring.Delta {
	if value == VoteUp {
		return scoring.Delta{Upvotes: step}
	}
	return scoring.Delta{Downvotes: step}
}
