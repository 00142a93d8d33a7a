// Package queries holds every GraphQL operation the reader sends to Hasura,
// together with the typed variables and results for each one.
package queries

import (
	"errors"
	"fmt"
)

// Endpoint selects which Hasura API an operation is sent to.
type Endpoint int

const (
	// GraphQL is the regular /v1/graphql API.
	GraphQL Endpoint = iota
	// Relay is the /v1beta1/relay API, which exposes connections and node(id).
	Relay
)

// Kind is the GraphQL operation type.
type Kind string

const (
	Query        Kind = "query"
	Mutation     Kind = "mutation"
	Subscription Kind = "subscription"
)

// Operation is a named GraphQL document bound to an endpoint.
type Operation struct {
	Name     string
	Kind     Kind
	Endpoint Endpoint
	Document string
}

// PageSize is the number of work identifiers requested per connection page.
const PageSize = 50

var errMissingData = errors.New("missing data")

var (
	SubjectByURL = Operation{
		Name:     "SubjectByURL",
		Kind:     Query,
		Endpoint: GraphQL,
		Document: `query SubjectByURL($url: String!, $type: String!) {
  work_summaries(where: {url: {_eq: $url}, type: {_eq: $type}}, limit: 1) {
    id
    name
    work_count
  }
}`,
	}

	WorkSummaries = Operation{
		Name:     "WorkSummaries",
		Kind:     Query,
		Endpoint: GraphQL,
		Document: `query WorkSummaries($type: String!) {
  work_summaries(where: {type: {_eq: $type}}, order_by: [{creator: asc}, {name: asc}]) {
    id
    name
    url
    creator
    type
    work_count
  }
}`,
	}

	SearchWorkSummaries = Operation{
		Name:     "SearchWorkSummaries",
		Kind:     Query,
		Endpoint: GraphQL,
		Document: `query SearchWorkSummaries($type: String!, $query: String!) {
  work_summaries(where: {type: {_eq: $type}, name: {_ilike: $query}}, order_by: [{creator: asc}, {name: asc}]) {
    id
    name
    url
    creator
    type
    work_count
  }
}`,
	}

	ListEssays = Operation{
		Name:     "ListEssays",
		Kind:     Query,
		Endpoint: Relay,
		Document: `query ListEssays($seed: String!, $subjectID: Int!, $first: Int!, $after: String) {
  list_works: list_essays_connection(args: {seed: $seed}, where: {title_id: {_eq: $subjectID}}, first: $first, after: $after) {
    pageInfo {
      startCursor
      endCursor
      hasNextPage
      hasPreviousPage
    }
    edges {
      cursor
      node {
        id
        work_id
      }
    }
  }
}`,
	}

	ListCharacterizations = Operation{
		Name:     "ListCharacterizations",
		Kind:     Query,
		Endpoint: Relay,
		Document: `query ListCharacterizations($seed: String!, $subjectID: Int!, $first: Int!, $after: String) {
  list_works: list_characterizations_connection(args: {seed: $seed}, where: {character_id: {_eq: $subjectID}}, first: $first, after: $after) {
    pageInfo {
      startCursor
      endCursor
      hasNextPage
      hasPreviousPage
    }
    edges {
      cursor
      node {
        id
        work_id
      }
    }
  }
}`,
	}

	WorkContent = Operation{
		Name:     "WorkContent",
		Kind:     Query,
		Endpoint: Relay,
		Document: `query WorkContent($id: ID!) {
  node(id: $id) {
    id
    ... on essays {
      work_id
      work {
        content
      }
    }
    ... on characterizations {
      work_id
      work {
        content
      }
    }
  }
}`,
	}

	WorkID = Operation{
		Name:     "WorkID",
		Kind:     Query,
		Endpoint: Relay,
		Document: `query WorkID($id: ID!) {
  node(id: $id) {
    id
    ... on essays {
      work_id
    }
    ... on characterizations {
      work_id
    }
  }
}`,
	}

	InsertBookmark = Operation{
		Name:     "InsertBookmark",
		Kind:     Mutation,
		Endpoint: GraphQL,
		Document: `mutation InsertBookmark($workID: Int!, $name: String!) {
  insert_bookmarks_one(object: {work_id: $workID, name: $name}) {
    work_id
    name
  }
}`,
	}

	DeleteBookmark = Operation{
		Name:     "DeleteBookmark",
		Kind:     Mutation,
		Endpoint: GraphQL,
		Document: `mutation DeleteBookmark($workID: Int!) {
  delete_bookmarks(where: {work_id: {_eq: $workID}}) {
    affected_rows
  }
}`,
	}

	IsBookmarked = Operation{
		Name:     "IsBookmarked",
		Kind:     Query,
		Endpoint: GraphQL,
		Document: `query IsBookmarked($workID: Int!) {
  bookmarks(where: {work_id: {_eq: $workID}}, limit: 1) {
    work_id
    name
  }
}`,
	}

	BookmarkStatus = Operation{
		Name:     "BookmarkStatus",
		Kind:     Subscription,
		Endpoint: GraphQL,
		Document: `subscription BookmarkStatus($workID: Int!) {
  bookmarks(where: {work_id: {_eq: $workID}}, limit: 1) {
    work_id
    name
  }
}`,
	}

	User = Operation{
		Name:     "User",
		Kind:     Query,
		Endpoint: GraphQL,
		Document: `query User($id: Int!) {
  users(where: {id: {_eq: $id}}, limit: 1) {
    id
    role
    updated_at
  }
}`,
	}

	InsertWork = Operation{
		Name:     "InsertWork",
		Kind:     Mutation,
		Endpoint: GraphQL,
		Document: `mutation InsertWork($content: String!, $status: work_status_enum!, $requestedTeacherID: Int) {
  insert_works_one(object: {content: $content, status: $status, teacher_id: $requestedTeacherID}) {
    id
  }
}`,
	}

	InsertEssay = Operation{
		Name:     "InsertEssay",
		Kind:     Mutation,
		Endpoint: GraphQL,
		Document: `mutation InsertEssay($workID: Int!, $subjectID: Int!) {
  insert_essays_one(object: {work_id: $workID, title_id: $subjectID}) {
    work_id
  }
}`,
	}

	InsertCharacterization = Operation{
		Name:     "InsertCharacterization",
		Kind:     Mutation,
		Endpoint: GraphQL,
		Document: `mutation InsertCharacterization($workID: Int!, $subjectID: Int!) {
  insert_characterizations_one(object: {work_id: $workID, character_id: $subjectID}) {
    work_id
  }
}`,
	}
)

// InsertWorkSupertype returns the mutation that attaches a work to a subject
// of the given type.
func InsertWorkSupertype(workType string) (Operation, error) {
	switch workType {
	case "essay":
		return InsertEssay, nil
	case "characterization":
		return InsertCharacterization, nil
	default:
		return Operation{}, fmt.Errorf("no insert mutation for work type %q", workType)
	}
}

// ListWorks returns the connection query for a work type.
func ListWorks(workType string) (Operation, error) {
	switch workType {
	case "essay":
		return ListEssays, nil
	case "characterization":
		return ListCharacterizations, nil
	default:
		return Operation{}, fmt.Errorf("no connection query for work type %q", workType)
	}
}

type SubjectVars struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

type SubjectRow struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	WorkCount int    `json:"work_count"`
}

type SubjectResult struct {
	Rows []SubjectRow `json:"work_summaries"`
}

func (r *SubjectResult) Validate() error {
	if r.Rows == nil {
		return fmt.Errorf("work_summaries: %w", errMissingData)
	}
	return nil
}

type SummariesVars struct {
	Type  string `json:"type"`
	Query string `json:"query,omitempty"`
}

type SummaryRow struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Creator   string `json:"creator"`
	Type      string `json:"type"`
	WorkCount int    `json:"work_count"`
}

type SummariesResult struct {
	Rows []SummaryRow `json:"work_summaries"`
}

func (r *SummariesResult) Validate() error {
	if r.Rows == nil {
		return fmt.Errorf("work_summaries: %w", errMissingData)
	}
	return nil
}

// ListWorksVars are shared by ListEssays and ListCharacterizations.
type ListWorksVars struct {
	Seed      string  `json:"seed"`
	SubjectID int     `json:"subjectID"`
	First     int     `json:"first"`
	After     *string `json:"after"`
}

type PageInfo struct {
	StartCursor     *string `json:"startCursor"`
	EndCursor       *string `json:"endCursor"`
	HasNextPage     bool    `json:"hasNextPage"`
	HasPreviousPage bool    `json:"hasPreviousPage"`
}

type WorkEdge struct {
	Cursor string `json:"cursor"`
	Node   struct {
		ID     string `json:"id"`
		WorkID int    `json:"work_id"`
	} `json:"node"`
}

type ListWorksResult struct {
	Connection *struct {
		PageInfo PageInfo   `json:"pageInfo"`
		Edges    []WorkEdge `json:"edges"`
	} `json:"list_works"`
}

func (r *ListWorksResult) Validate() error {
	if r.Connection == nil {
		return fmt.Errorf("list_works: %w", errMissingData)
	}
	for i, edge := range r.Connection.Edges {
		if edge.Node.ID == "" {
			return fmt.Errorf("list_works.edges[%d].node.id: %w", i, errMissingData)
		}
	}
	return nil
}

type NodeVars struct {
	ID string `json:"id"`
}

type WorkContentResult struct {
	Node *struct {
		ID     string `json:"id"`
		WorkID int    `json:"work_id"`
		Work   *struct {
			Content string `json:"content"`
		} `json:"work"`
	} `json:"node"`
}

func (r *WorkContentResult) Validate() error {
	if r.Node != nil && r.Node.Work == nil {
		return fmt.Errorf("node.work: %w", errMissingData)
	}
	return nil
}

type WorkIDResult struct {
	Node *struct {
		ID     string `json:"id"`
		WorkID int    `json:"work_id"`
	} `json:"node"`
}

type BookmarkVars struct {
	WorkID int    `json:"workID"`
	Name   string `json:"name,omitempty"`
}

type BookmarkRow struct {
	WorkID int    `json:"work_id"`
	Name   string `json:"name"`
}

type InsertBookmarkResult struct {
	Row *BookmarkRow `json:"insert_bookmarks_one"`
}

func (r *InsertBookmarkResult) Validate() error {
	if r.Row == nil {
		return fmt.Errorf("insert_bookmarks_one: %w", errMissingData)
	}
	return nil
}

type DeleteBookmarkResult struct {
	Deleted *struct {
		AffectedRows int `json:"affected_rows"`
	} `json:"delete_bookmarks"`
}

func (r *DeleteBookmarkResult) Validate() error {
	if r.Deleted == nil {
		return fmt.Errorf("delete_bookmarks: %w", errMissingData)
	}
	return nil
}

// BookmarksResult is returned by both IsBookmarked and BookmarkStatus.
type BookmarksResult struct {
	Rows []BookmarkRow `json:"bookmarks"`
}

func (r *BookmarksResult) Validate() error {
	if r.Rows == nil {
		return fmt.Errorf("bookmarks: %w", errMissingData)
	}
	return nil
}

type UserVars struct {
	ID int `json:"id"`
}

// UserRow is a user as Hasura stores it. UpdatedAt is set once the user
// completed registration.
type UserRow struct {
	ID        int     `json:"id"`
	Role      string  `json:"role"`
	UpdatedAt *string `json:"updated_at"`
}

type UserResult struct {
	Rows []UserRow `json:"users"`
}

func (r *UserResult) Validate() error {
	if r.Rows == nil {
		return fmt.Errorf("users: %w", errMissingData)
	}
	return nil
}

type InsertWorkVars struct {
	Content            string `json:"content"`
	Status             string `json:"status"`
	RequestedTeacherID *int   `json:"requestedTeacherID"`
}

type InsertWorkResult struct {
	Work *struct {
		ID int `json:"id"`
	} `json:"insert_works_one"`
}

func (r *InsertWorkResult) Validate() error {
	if r.Work == nil {
		return fmt.Errorf("insert_works_one: %w", errMissingData)
	}
	return nil
}

// SupertypeVars are shared by InsertEssay and InsertCharacterization.
type SupertypeVars struct {
	WorkID    int `json:"workID"`
	SubjectID int `json:"subjectID"`
}
