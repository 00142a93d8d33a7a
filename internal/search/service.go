// Package search finds subjects by name. Meilisearch answers when it is
// configured and healthy; otherwise the query goes to Hasura.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/FiveIT/eseuri/internal/subject"
	"github.com/sirupsen/logrus"
)

// Catalogue is the backend view of subjects, implemented by subject.Resolver.
type Catalogue interface {
	List(ctx context.Context, workType string) ([]subject.Summary, error)
	Search(ctx context.Context, workType, prefix string) ([]subject.Summary, error)
}

var ErrUnavailable = errors.New("meilisearch is not available")

// WorkTypes lists the types Reindex loads.
var WorkTypes = []string{"essay", "characterization"}

// Service tries Meilisearch first and falls back to the catalogue.
type Service struct {
	meili     *Meili
	catalogue Catalogue
	log       *logrus.Entry
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, catalogue Catalogue, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{meili: meili, catalogue: catalogue, log: logger.WithField("component", "search")}
}

// Search returns the subjects matching q. Backend errors are returned;
// Meilisearch errors only trigger the fallback.
func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	if s.meili != nil && s.meili.Healthy() && q.Text != "" {
		records, total, err := s.meili.Search(ctx, q)
		if err == nil {
			results := make([]subject.Summary, 0, len(records))
			for _, r := range records {
				results = append(results, r.summary())
			}
			return Response{Results: results, Total: total, Query: q.Text, Source: SourceMeili}, nil
		}
		s.log.WithError(err).Warn("meilisearch error, falling back to hasura")
	}

	types := WorkTypes
	if q.Type != "" {
		types = []string{q.Type}
	}
	results := []subject.Summary{}
	for _, typ := range types {
		found, err := s.catalogue.Search(ctx, typ, q.Text)
		if err != nil {
			return Response{}, fmt.Errorf("search %s subjects: %w", typ, err)
		}
		results = append(results, found...)
	}
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return Response{Results: results, Total: len(results), Query: q.Text, Source: SourceBackend}, nil
}

// Reindex replaces the Meilisearch subject index with every subject from the
// catalogue and returns how many were pushed. Subjects removed from the
// catalogue drop out of the index.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if s.meili == nil || !s.meili.Healthy() {
		return 0, ErrUnavailable
	}
	var records []SubjectRecord
	for _, typ := range WorkTypes {
		found, err := s.catalogue.List(ctx, typ)
		if err != nil {
			return 0, fmt.Errorf("reindex %s subjects: %w", typ, err)
		}
		for _, sum := range found {
			if sum.Type == "" {
				sum.Type = typ
			}
			records = append(records, recordOf(sum))
		}
	}
	if err := s.meili.ReplaceSubjects(ctx, records); err != nil {
		return 0, fmt.Errorf("reindex: %w", err)
	}
	s.log.WithField("subjects", len(records)).Info("subject index rebuilt")
	return len(records), nil
}

// Close stops the Meilisearch health loop, if any.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}
