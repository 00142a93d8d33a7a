// Package bookmark saves and looks up the works a reader bookmarked. Every
// operation acts on behalf of the user whose token the gateway forwards.
package bookmark

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/FiveIT/eseuri/internal/gateway"
	"github.com/FiveIT/eseuri/internal/queries"
)

var (
	ErrInvalidName = errors.New("bookmark name is required")
	// ErrNoSubscriptions is returned by Watch when the service was built
	// without a Subscriber.
	ErrNoSubscriptions = errors.New("bookmark subscriptions are not available")
)

// Status is the bookmark state of one work.
type Status struct {
	WorkID     int    `json:"workID"`
	Bookmarked bool   `json:"bookmarked"`
	Name       string `json:"name,omitempty"`
}

// Subscriber is the part of the gateway client that streams subscription
// results.
type Subscriber interface {
	Subscribe(ctx context.Context, op queries.Operation, vars any, out any, onData func() error) error
}

type Service struct {
	exec gateway.Executor
	subs Subscriber
}

// NewService builds the service. subs may be nil, in which case Watch fails.
func NewService(exec gateway.Executor, subs Subscriber) *Service {
	return &Service{exec: exec, subs: subs}
}

// Bookmark saves workID under name.
func (s *Service) Bookmark(ctx context.Context, workID int, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	var res queries.InsertBookmarkResult
	if err := s.exec.Execute(ctx, queries.InsertBookmark, queries.BookmarkVars{WorkID: workID, Name: name}, &res); err != nil {
		return fmt.Errorf("bookmark work %d: %w", workID, err)
	}
	return nil
}

// Remove deletes the bookmark of workID. Removing a work that was not
// bookmarked succeeds.
func (s *Service) Remove(ctx context.Context, workID int) error {
	var res queries.DeleteBookmarkResult
	if err := s.exec.Execute(ctx, queries.DeleteBookmark, queries.BookmarkVars{WorkID: workID}, &res); err != nil {
		return fmt.Errorf("remove bookmark %d: %w", workID, err)
	}
	return nil
}

// Lookup reports whether workID is bookmarked and under which name.
func (s *Service) Lookup(ctx context.Context, workID int) (name string, ok bool, err error) {
	var res queries.BookmarksResult
	if err := s.exec.Execute(ctx, queries.IsBookmarked, queries.BookmarkVars{WorkID: workID}, &res); err != nil {
		return "", false, fmt.Errorf("lookup bookmark %d: %w", workID, err)
	}
	st := statusOf(workID, res)
	return st.Name, st.Bookmarked, nil
}

// Watch calls fn with the current status of workID and again every time it
// changes, until ctx is cancelled or fn returns an error.
func (s *Service) Watch(ctx context.Context, workID int, fn func(Status) error) error {
	if s.subs == nil {
		return ErrNoSubscriptions
	}
	var res queries.BookmarksResult
	return s.subs.Subscribe(ctx, queries.BookmarkStatus, queries.BookmarkVars{WorkID: workID}, &res, func() error {
		st := statusOf(workID, res)
		res = queries.BookmarksResult{}
		return fn(st)
	})
}

func statusOf(workID int, res queries.BookmarksResult) Status {
	if len(res.Rows) == 0 {
		return Status{WorkID: workID}
	}
	return Status{WorkID: workID, Bookmarked: true, Name: res.Rows[0].Name}
}
