// Package works reads a subject's works one at a time, in the randomized
// order the backend produces for a seed.
package works

import (
	"errors"
	"fmt"
)

// Type is the kind of work being read.
type Type string

const (
	Essay            Type = "essay"
	Characterization Type = "characterization"
)

var (
	ErrInvalidType    = errors.New("invalid work type")
	ErrWorkNotFound   = errors.New("work not found")
	ErrNoWorks        = errors.New("subject has no readable works")
	ErrNotStarted     = errors.New("reader has not advanced yet")
	ErrAlreadyStarted = errors.New("reader already started")
)

// ParseType validates s as a work type.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case Essay, Characterization:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
}

// Identifier names one work. OpaqueID is only valid inside the paging
// session that produced it; WorkID is stable.
type Identifier struct {
	OpaqueID string `json:"id"`
	WorkID   int    `json:"workID"`
}

// Content is a work's identifier together with its full text.
type Content struct {
	Identifier
	Body string `json:"content"`
}

// PageWindow is the page info of the last fetched connection page.
type PageWindow struct {
	StartCursor     *string `json:"startCursor"`
	EndCursor       *string `json:"endCursor"`
	HasNextPage     bool    `json:"hasNextPage"`
	HasPreviousPage bool    `json:"hasPreviousPage"`
}

// exhausted reports whether every page for the current seed was read.
func (w PageWindow) exhausted() bool {
	return !w.HasNextPage && w.EndCursor != nil
}
