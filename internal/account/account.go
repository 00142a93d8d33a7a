// Package account answers what the token alone cannot tell about the caller:
// the role stored for them and whether they finished registering.
package account

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/FiveIT/eseuri/internal/gateway"
	"github.com/FiveIT/eseuri/internal/queries"
)

var ErrNotFound = errors.New("user not found")

// Info is the caller as Hasura stores them.
type Info struct {
	ID           int    `json:"id"`
	IsRegistered bool   `json:"isRegistered"`
	Role         string `json:"role"`
}

type Service struct {
	exec gateway.Executor
}

func NewService(exec gateway.Executor) *Service {
	return &Service{exec: exec}
}

// Info reads the user's row with the admin secret, acting as that user.
func (s *Service) Info(ctx context.Context, userID int, role string) (Info, error) {
	ctx = gateway.WithSessionVars(gateway.WithPromotion(ctx), gateway.SessionVars{
		UserID: strconv.Itoa(userID),
		Role:   role,
	})
	row, err := s.lookup(ctx, userID)
	if err != nil {
		return Info{}, err
	}
	return Info{ID: userID, IsRegistered: row.UpdatedAt != nil, Role: row.Role}, nil
}

// Registered reports whether the user completed registration. The lookup
// runs with the caller's own token.
func (s *Service) Registered(ctx context.Context, userID int) (bool, error) {
	row, err := s.lookup(ctx, userID)
	if err != nil {
		return false, err
	}
	return row.UpdatedAt != nil, nil
}

func (s *Service) lookup(ctx context.Context, userID int) (queries.UserRow, error) {
	var res queries.UserResult
	if err := s.exec.Execute(ctx, queries.User, queries.UserVars{ID: userID}, &res); err != nil {
		return queries.UserRow{}, fmt.Errorf("lookup user %d: %w", userID, err)
	}
	if len(res.Rows) == 0 {
		return queries.UserRow{}, fmt.Errorf("%w: %d", ErrNotFound, userID)
	}
	return res.Rows[0], nil
}
