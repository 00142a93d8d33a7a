// Package subject resolves the titles and characters works are written about.
package subject

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/FiveIT/eseuri/internal/gateway"
	"github.com/FiveIT/eseuri/internal/queries"
)

var (
	// ErrNotFound means no subject matches the slug and work type.
	ErrNotFound = errors.New("subject not found")
	// ErrEmpty is returned together with the subject when it has no works.
	ErrEmpty = errors.New("subject has no works")
)

type Subject struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	WorkCount int    `json:"workCount"`
}

// Summary is one entry of the subject catalogue.
type Summary struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Creator   string `json:"creator"`
	Type      string `json:"type"`
	WorkCount int    `json:"workCount"`
}

type Resolver struct {
	exec gateway.Executor
}

func NewResolver(exec gateway.Executor) *Resolver {
	return &Resolver{exec: exec}
}

// Resolve looks up the subject behind a URL slug. A subject without works
// is returned along with ErrEmpty so callers can still show its name.
func (r *Resolver) Resolve(ctx context.Context, slug, workType string) (Subject, error) {
	var res queries.SubjectResult
	vars := queries.SubjectVars{URL: slug, Type: workType}
	if err := r.exec.Execute(ctx, queries.SubjectByURL, vars, &res); err != nil {
		return Subject{}, err
	}
	if len(res.Rows) == 0 {
		return Subject{}, fmt.Errorf("%w: %s/%s", ErrNotFound, workType, slug)
	}

	row := res.Rows[0]
	s := Subject{ID: row.ID, Name: row.Name, WorkCount: row.WorkCount}
	if s.WorkCount == 0 {
		return s, ErrEmpty
	}
	return s, nil
}

// List returns every subject of a work type, ordered by creator and name.
func (r *Resolver) List(ctx context.Context, workType string) ([]Summary, error) {
	var res queries.SummariesResult
	if err := r.exec.Execute(ctx, queries.WorkSummaries, queries.SummariesVars{Type: workType}, &res); err != nil {
		return nil, err
	}
	return summaries(res.Rows), nil
}

// Search returns the subjects whose name starts with prefix.
func (r *Resolver) Search(ctx context.Context, workType, prefix string) ([]Summary, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return r.List(ctx, workType)
	}

	var res queries.SummariesResult
	vars := queries.SummariesVars{Type: workType, Query: escapeLike(prefix) + "%"}
	if err := r.exec.Execute(ctx, queries.SearchWorkSummaries, vars, &res); err != nil {
		return nil, err
	}
	return summaries(res.Rows), nil
}

func summaries(rows []queries.SummaryRow) []Summary {
	out := make([]Summary, 0, len(rows))
	for _, row := range rows {
		out = append(out, Summary{
			ID:        row.ID,
			Name:      row.Name,
			URL:       row.URL,
			Creator:   row.Creator,
			Type:      row.Type,
			WorkCount: row.WorkCount,
		})
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
