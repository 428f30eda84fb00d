package identity

import (
	"errors"
	"fmt"
	"strings"
)

// Kind distinguishes registered accounts from anonymous device tokens.
type Kind string

const (
	// KindRegistered identifies a voter or author backed by an account.
	KindRegistered Kind = "user"
	// KindAnonymous identifies a voter or author known only by a client-generated token.
	KindAnonymous Kind = "anon"
)

// MaxIdentifierLength bounds stored identifiers to the size:190 columns.
const MaxIdentifierLength = 190

var (
	// ErrMissingIdentity indicates that neither a user id nor an anonymous id was supplied.
	ErrMissingIdentity = errors.New("identity: voter identity is required")
	// ErrAmbiguousIdentity indicates that both a user id and an anonymous id were supplied.
	ErrAmbiguousIdentity = errors.New("identity: voter identity is ambiguous")
	// ErrInvalidIdentifier indicates that an identifier exceeds storage bounds.
	ErrInvalidIdentifier = errors.New("identity: invalid identifier")
)

// Identity is exactly one of a registered user or an anonymous client.
// The zero value is not a valid identity.
type Identity struct {
	kind Kind
	id   string
}

// NewRegistered validates a user identifier and returns a registered identity.
func NewRegistered(userID string) (Identity, error) {
	id, err := normalizeIdentifier(userID)
	if err != nil {
		return Identity{}, err
	}
	return Identity{kind: KindRegistered, id: id}, nil
}

// NewAnonymous validates an anonymous token and returns an anonymous identity.
func NewAnonymous(anonymousID string) (Identity, error) {
	id, err := normalizeIdentifier(anonymousID)
	if err != nil {
		return Identity{}, err
	}
	return Identity{kind: KindAnonymous, id: id}, nil
}

// FromParts builds an identity from the two nullable columns used in storage.
// Exactly one of the values must be non-empty.
func FromParts(userID, anonymousID string) (Identity, error) {
	hasUser := strings.TrimSpace(userID) != ""
	hasAnonymous := strings.TrimSpace(anonymousID) != ""
	switch {
	case hasUser && hasAnonymous:
		return Identity{}, ErrAmbiguousIdentity
	case hasUser:
		return NewRegistered(userID)
	case hasAnonymous:
		return NewAnonymous(anonymousID)
	default:
		return Identity{}, ErrMissingIdentity
	}
}

// Kind reports whether the identity is registered or anonymous.
func (i Identity) Kind() Kind {
	return i.kind
}

// ID returns the raw identifier.
func (i Identity) ID() string {
	return i.id
}

// IsZero reports whether the identity was never initialized.
func (i Identity) IsZero() bool {
	return i.kind == "" || i.id == ""
}

// IsRegistered reports whether the identity is backed by an account.
func (i Identity) IsRegistered() bool {
	return i.kind == KindRegistered && i.id != ""
}

// Key renders a storage key unique across both identity kinds.
func (i Identity) Key() string {
	if i.IsZero() {
		return ""
	}
	return string(i.kind) + ":" + i.id
}

// Columns splits the identity into the user id and anonymous id columns.
// The column that does not apply is nil.
func (i Identity) Columns() (userID *string, anonymousID *string) {
	if i.IsZero() {
		return nil, nil
	}
	value := i.id
	if i.kind == KindRegistered {
		return &value, nil
	}
	return nil, &value
}

// String implements fmt.Stringer.
func (i Identity) String() string {
	return i.Key()
}

func normalizeIdentifier(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrMissingIdentity
	}
	if len(trimmed) > MaxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidIdentifier, MaxIdentifierLength)
	}
	return trimmed, nil
}
