package works

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"

	"github.com/FiveIT/eseuri/internal/gateway"
	"github.com/FiveIT/eseuri/internal/queries"
	"github.com/FiveIT/eseuri/internal/subject"
	"github.com/sirupsen/logrus"
)

// SeedFunc draws the seed the backend uses to order a subject's works.
type SeedFunc func() string

// RandomSeed returns a decimal in [0, 1), the range Hasura's setseed accepts.
func RandomSeed() string {
	return strconv.FormatFloat(rand.Float64(), 'f', -1, 64)
}

type Option func(*Paginator)

func WithSeedFunc(fn SeedFunc) Option {
	return func(p *Paginator) { p.newSeed = fn }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(p *Paginator) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// State is everything a Paginator needs to resume where it stopped.
type State struct {
	Subject     subject.Subject `json:"subject"`
	Type        Type            `json:"type"`
	Seed        string          `json:"seed"`
	Identifiers []Identifier    `json:"identifiers"`
	Position    int             `json:"position"`
	Page        PageWindow      `json:"page"`
}

// Paginator walks the works of one subject forwards and backwards. The
// identifiers it fetched are kept and never reordered; bodies are fetched
// again on every move.
//
// A Paginator is not safe for concurrent use: callers must wait for one
// Advance or Retreat to return before issuing the next.
type Paginator struct {
	exec    gateway.Executor
	content *ContentFetcher
	list    queries.Operation
	newSeed SeedFunc
	logger  *logrus.Logger
	log     *logrus.Entry

	subject  subject.Subject
	typ      Type
	seed     string
	ids      []Identifier
	position int
	page     PageWindow
}

// NewPaginator creates a paginator positioned before the first work. It
// refuses subjects without works.
func NewPaginator(exec gateway.Executor, s subject.Subject, typ Type, opts ...Option) (*Paginator, error) {
	return newPaginator(exec, State{Subject: s, Type: typ, Position: -1}, opts)
}

// RestorePaginator recreates a paginator from a State snapshot.
func RestorePaginator(exec gateway.Executor, state State, opts ...Option) (*Paginator, error) {
	if state.Position < -1 || state.Position >= len(state.Identifiers) {
		return nil, fmt.Errorf("restore reader: position %d outside [-1, %d)", state.Position, len(state.Identifiers))
	}
	if state.Seed == "" {
		return nil, fmt.Errorf("restore reader: missing seed")
	}
	return newPaginator(exec, state, opts)
}

func newPaginator(exec gateway.Executor, state State, opts []Option) (*Paginator, error) {
	if state.Subject.WorkCount == 0 {
		return nil, fmt.Errorf("%w: %s", subject.ErrEmpty, state.Subject.Name)
	}
	if _, err := ParseType(string(state.Type)); err != nil {
		return nil, err
	}
	list, err := queries.ListWorks(string(state.Type))
	if err != nil {
		return nil, err
	}

	p := &Paginator{
		exec:     exec,
		content:  NewContentFetcher(exec),
		list:     list,
		newSeed:  RandomSeed,
		logger:   logrus.StandardLogger(),
		subject:  state.Subject,
		typ:      state.Type,
		seed:     state.Seed,
		ids:      append([]Identifier(nil), state.Identifiers...),
		position: state.Position,
		page:     state.Page,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.seed == "" {
		p.seed = p.newSeed()
	}
	p.log = p.logger.WithFields(logrus.Fields{
		"subject_id": p.subject.ID,
		"work_type":  string(p.typ),
	})
	return p, nil
}

// Seed makes the work with the given opaque id the first one Advance
// returns. An empty id leaves the paginator unchanged.
func (p *Paginator) Seed(ctx context.Context, startID string) error {
	if startID == "" {
		return nil
	}
	if p.position != -1 || len(p.ids) != 0 {
		return ErrAlreadyStarted
	}
	id, err := lookupWorkID(ctx, p.exec, startID)
	if err != nil {
		return err
	}
	p.ids = append(p.ids, id)
	return nil
}

// Advance moves to the next work and returns its content. When every page
// for the current seed has been read, a new seed is drawn and reading
// continues in a fresh order, so Advance never runs out of works.
//
// On error the position is left where it was.
func (p *Paginator) Advance(ctx context.Context) (Content, error) {
	p.position++

	reshuffled := false
	for p.position == len(p.ids) {
		if p.page.exhausted() {
			p.reshuffle()
			reshuffled = true
			continue
		}

		after := p.page.EndCursor
		added, err := p.fetchPage(ctx)
		if err != nil {
			p.position--
			return Content{}, err
		}
		if added > 0 {
			continue
		}
		// An empty first page means there is nothing to read under any seed.
		if after == nil || reshuffled {
			p.position--
			return Content{}, fmt.Errorf("%w: %s", ErrNoWorks, p.subject.Name)
		}
		p.reshuffle()
		reshuffled = true
	}

	c, err := p.fetchCurrent(ctx)
	if err != nil {
		p.position--
		return Content{}, err
	}
	return c, nil
}

// Retreat moves to the previous work. done is true when there is no work
// before the returned one; stepping back from the first work returns done
// with zero Content and makes no request.
func (p *Paginator) Retreat(ctx context.Context) (c Content, done bool, err error) {
	if p.position <= 0 {
		p.position = -1
		return Content{}, true, nil
	}

	p.position--
	c, err = p.fetchCurrent(ctx)
	if err != nil {
		p.position++
		return Content{}, false, err
	}
	return c, p.position == 0, nil
}

// Current fetches the content at the current position again.
func (p *Paginator) Current(ctx context.Context) (Content, error) {
	if p.position < 0 {
		return Content{}, ErrNotStarted
	}
	return p.fetchCurrent(ctx)
}

// Position is the index of the current work, or -1 before the first one.
func (p *Paginator) Position() int {
	return p.position
}

func (p *Paginator) Subject() subject.Subject {
	return p.subject
}

func (p *Paginator) Type() Type {
	return p.typ
}

// State returns a snapshot that RestorePaginator accepts.
func (p *Paginator) State() State {
	return State{
		Subject:     p.subject,
		Type:        p.typ,
		Seed:        p.seed,
		Identifiers: append([]Identifier(nil), p.ids...),
		Position:    p.position,
		Page:        p.page,
	}
}

func (p *Paginator) reshuffle() {
	p.seed = p.newSeed()
	p.page = PageWindow{}
	p.log.WithField("fetched", len(p.ids)).Debug("works exhausted, reshuffling")
}

func (p *Paginator) fetchPage(ctx context.Context) (int, error) {
	vars := queries.ListWorksVars{
		Seed:      p.seed,
		SubjectID: p.subject.ID,
		First:     queries.PageSize,
		After:     p.page.EndCursor,
	}
	var res queries.ListWorksResult
	if err := p.exec.Execute(ctx, p.list, vars, &res); err != nil {
		return 0, err
	}

	conn := res.Connection
	for _, edge := range conn.Edges {
		p.ids = append(p.ids, Identifier{OpaqueID: edge.Node.ID, WorkID: edge.Node.WorkID})
	}
	p.page = PageWindow{
		StartCursor:     conn.PageInfo.StartCursor,
		EndCursor:       conn.PageInfo.EndCursor,
		HasNextPage:     conn.PageInfo.HasNextPage,
		HasPreviousPage: conn.PageInfo.HasPreviousPage,
	}

	p.log.WithFields(logrus.Fields{
		"edges":         len(conn.Edges),
		"has_next_page": conn.PageInfo.HasNextPage,
	}).Debug("fetched works page")
	return len(conn.Edges), nil
}

func (p *Paginator) fetchCurrent(ctx context.Context) (Content, error) {
	id := p.ids[p.position]
	c, err := p.content.Fetch(ctx, id.OpaqueID)
	if err != nil {
		return Content{}, err
	}
	c.Identifier = id
	return c, nil
}
