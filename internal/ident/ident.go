// Package ident is the single place entity identifiers get validated and
// normalized. Every service boundary parses raw ids through here; nothing
// downstream compares ids in any form other than the canonical string.
package ident

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalid is returned for anything that does not normalize to a UUID.
var ErrInvalid = errors.New("invalid id")

// ID is the canonical string form of an entity identifier.
type ID string

func (id ID) String() string { return string(id) }

// Parse normalizes a raw identifier into its canonical form. It accepts
// surrounding whitespace and any case, and rejects everything that is not
// a UUID, including empty strings and stringified objects leaking out of
// sloppy clients.
func Parse(raw string) (ID, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalid
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", ErrInvalid
	}
	return ID(u.String()), nil
}

// MustParse is for tests and wiring code where the input is known-good.
func MustParse(raw string) ID {
	id, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// New returns a fresh canonical id.
func New() ID {
	return ID(uuid.NewString())
}
