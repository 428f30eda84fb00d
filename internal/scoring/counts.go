package scoring

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidDelta indicates a counter delta outside {-1, 0, +1}.
	ErrInvalidDelta = errors.New("scoring: invalid delta")
	// ErrInvalidEntity indicates an unknown entity kind or an empty identifier.
	ErrInvalidEntity = errors.New("scoring: invalid entity reference")
	// ErrEntityNotFound indicates that the scored row does not exist.
	ErrEntityNotFound = errors.New("scoring: entity not found")
)

// EntityKind enumerates the scored tables.
type EntityKind string

const (
	// EntityPost scores a post and maintains its hot score.
	EntityPost EntityKind = "post"
	// EntityComment scores a comment.
	EntityComment EntityKind = "comment"
)

// ParseEntityKind accepts "post" or "comment" in any case.
func ParseEntityKind(raw string) (EntityKind, error) {
	switch EntityKind(strings.ToLower(strings.TrimSpace(raw))) {
	case EntityPost:
		return EntityPost, nil
	case EntityComment:
		return EntityComment, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidEntity, raw)
	}
}

// Table returns the table backing the entity kind.
func (k EntityKind) Table() string {
	switch k {
	case EntityPost:
		return "posts"
	case EntityComment:
		return "comments"
	default:
		return ""
	}
}

// Label returns the capitalized name used in user-facing messages.
func (k EntityKind) Label() string {
	switch k {
	case EntityPost:
		return "Post"
	case EntityComment:
		return "Comment"
	default:
		return "Entity"
	}
}

// HasHotScore reports whether the kind carries a hot score column.
func (k EntityKind) HasHotScore() bool {
	return k == EntityPost
}

// EntityRef points at one scored row.
type EntityRef struct {
	Kind EntityKind
	ID   string
}

// Validate checks the kind and identifier.
func (r EntityRef) Validate() error {
	if r.Kind.Table() == "" {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEntity, r.Kind)
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidEntity)
	}
	return nil
}

// Counts holds the two vote counters of a scored entity.
type Counts struct {
	Upvotes   int64
	Downvotes int64
}

// Score returns upvotes minus downvotes.
func (c Counts) Score() int64 {
	return c.Upvotes - c.Downvotes
}

// Delta is the signed change the ledger applies to each counter.
type Delta struct {
	Upvotes   int
	Downvotes int
}

// Validate rejects components outside {-1, 0, +1}.
func (d Delta) Validate() error {
	if d.Upvotes < -1 || d.Upvotes > 1 {
		return fmt.Errorf("%w: upvote delta %d", ErrInvalidDelta, d.Upvotes)
	}
	if d.Downvotes < -1 || d.Downvotes > 1 {
		return fmt.Errorf("%w: downvote delta %d", ErrInvalidDelta, d.Downvotes)
	}
	return nil
}

// IsZero reports whether the delta changes nothing.
func (d Delta) IsZero() bool {
	return d.Upvotes == 0 && d.Downvotes == 0
}

// ApplyCounts adds the delta and clamps each counter at zero.
func ApplyCounts(current Counts, delta Delta) Counts {
	return Counts{
		Upvotes:   clampNonNegative(current.Upvotes + int64(delta.Upvotes)),
		Downvotes: clampNonNegative(current.Downvotes + int64(delta.Downvotes)),
	}
}

func clampNonNegative(value int64) int64 {
	if value < 0 {
		return 0
	}
	return value
}

// Tally is the ranking view of a scored entity after a write or on read.
type Tally struct {
	Kind      EntityKind
	ID        string
	Upvotes   int64
	Downvotes int64
	Score     int64
	// HotScore is nil for comments.
	HotScore  *float64
	CreatedAt time.Time
}

// Counts returns the tally's counters.
func (t Tally) Counts() Counts {
	return Counts{Upvotes: t.Upvotes, Downvotes: t.Downvotes}
}
