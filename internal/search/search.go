package search

import (
	"strconv"

	"github.com/FiveIT/eseuri/internal/subject"
)

// Source names the backend that answered a query.
type Source string

const (
	SourceMeili   Source = "meilisearch"
	SourceBackend Source = "hasura"
)

// Query describes a search request.
type Query struct {
	Text  string
	Type  string // empty = all work types
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []subject.Summary `json:"results"`
	Total   int               `json:"total"`
	Query   string            `json:"query"`
	Source  Source            `json:"source"`
}

// SubjectRecord is the data we index for a subject.
type SubjectRecord struct {
	ID        string `json:"id"`
	SubjectID int    `json:"subjectId"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Creator   string `json:"creator"`
	Type      string `json:"type"`
	WorkCount int    `json:"workCount"`
}

func recordOf(s subject.Summary) SubjectRecord {
	return SubjectRecord{
		// Titles and characters have separate id sequences.
		ID:        s.Type + "-" + strconv.Itoa(s.ID),
		SubjectID: s.ID,
		Name:      s.Name,
		URL:       s.URL,
		Creator:   s.Creator,
		Type:      s.Type,
		WorkCount: s.WorkCount,
	}
}

func (r SubjectRecord) summary() subject.Summary {
	return subject.Summary{
		ID:        r.SubjectID,
		Name:      r.Name,
		URL:       r.URL,
		Creator:   r.Creator,
		Type:      r.Type,
		WorkCount: r.WorkCount,
	}
}
