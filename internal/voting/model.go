package voting

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/scoring"
)

// VoteValue is an upvote (+1) or a downvote (-1). Zero is never stored.
type VoteValue int

const (
	// VoteUp increments the upvote counter.
	VoteUp VoteValue = 1
	// VoteDown increments the downvote counter.
	VoteDown VoteValue = -1
)

// ParseVoteValue accepts exactly 1 or -1.
func ParseVoteValue(raw int) (VoteValue, error) {
	value := VoteValue(raw)
	if !value.Valid() {
		return 0, newInvalidInputError(opCastVote, "invalid_value", messageInvalidValue)
	}
	return value, nil
}

// Valid reports whether the value is +1 or -1.
func (v VoteValue) Valid() bool {
	return v == VoteUp || v == VoteDown
}

// Int exposes the raw value.
func (v VoteValue) Int() int {
	return int(v)
}

// Target is the post or comment a vote applies to.
type Target struct {
	kind scoring.EntityKind
	id   string
}

// NewTarget validates a target type ("post" or "comment") and identifier.
func NewTarget(kind string, id string) (Target, error) {
	entityKind, err := scoring.ParseEntityKind(kind)
	if err != nil {
		return Target{}, newInvalidInputError(opNewTarget, "invalid_target_type", messageInvalidTargetType)
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return Target{}, newInvalidInputError(opNewTarget, "missing_target_id", messageMissingTarget)
	}
	if len(trimmed) > identity.MaxIdentifierLength {
		return Target{}, newInvalidInputError(opNewTarget, "target_id_too_long", messageMissingTarget)
	}
	return Target{kind: entityKind, id: trimmed}, nil
}

// PostTarget is shorthand for NewTarget("post", id).
func PostTarget(id string) (Target, error) {
	return NewTarget(string(scoring.EntityPost), id)
}

// CommentTarget is shorthand for NewTarget("comment", id).
func CommentTarget(id string) (Target, error) {
	return NewTarget(string(scoring.EntityComment), id)
}

func (t Target) Kind() scoring.EntityKind {
	return t.kind
}

func (t Target) ID() string {
	return t.id
}

// IsZero reports whether the target was never initialized.
func (t Target) IsZero() bool {
	return t.kind == "" || t.id == ""
}

// Ref converts the target into the score store's entity reference.
func (t Target) Ref() scoring.EntityRef {
	return scoring.EntityRef{Kind: t.kind, ID: t.id}
}

// Key renders "post:<id>" or "comment:<id>", used for subscriptions.
func (t Target) Key() string {
	return string(t.kind) + ":" + t.id
}

func (t Target) column() string {
	if t.kind == scoring.EntityComment {
		return columnCommentID
	}
	return columnPostID
}

const (
	columnPostID      = "post_id"
	columnCommentID   = "comment_id"
	columnUserID      = "user_id"
	columnAnonymousID = "anonymous_id"
	columnValue       = "value"
)

// Vote is one voter's current vote on one target.
// Each of the four (target column, voter column) pairs carries a unique index; NULLs never collide.
type Vote struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	PostID      *string   `gorm:"column:post_id;size:190;uniqueIndex:idx_votes_post_user,priority:1;uniqueIndex:idx_votes_post_anonymous,priority:1;check:chk_votes_single_target,(post_id IS NULL) <> (comment_id IS NULL)"`
	CommentID   *string   `gorm:"column:comment_id;size:190;uniqueIndex:idx_votes_comment_user,priority:1;uniqueIndex:idx_votes_comment_anonymous,priority:1"`
	UserID      *string   `gorm:"column:user_id;size:190;uniqueIndex:idx_votes_post_user,priority:2;uniqueIndex:idx_votes_comment_user,priority:2;check:chk_votes_single_voter,(user_id IS NULL) <> (anonymous_id IS NULL)"`
	AnonymousID *string   `gorm:"column:anonymous_id;size:190;uniqueIndex:idx_votes_post_anonymous,priority:2;uniqueIndex:idx_votes_comment_anonymous,priority:2"`
	Value       int       `gorm:"column:value;not null;check:chk_votes_value,value IN (-1, 1)"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Vote) TableName() string {
	return "votes"
}

// VoteValue returns the stored value as a VoteValue.
func (v Vote) VoteValue() VoteValue {
	return VoteValue(v.Value)
}

func newVote(id string, target Target, voter identity.Identity, value VoteValue, now time.Time) Vote {
	vote := Vote{
		ID:        id,
		Value:     value.Int(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	targetID := target.ID()
	if target.Kind() == scoring.EntityComment {
		vote.CommentID = &targetID
	} else {
		vote.PostID = &targetID
	}
	vote.UserID, vote.AnonymousID = voter.Columns()
	return vote
}

func voterColumn(voter identity.Identity) string {
	if voter.IsRegistered() {
		return columnUserID
	}
	return columnAnonymousID
}
