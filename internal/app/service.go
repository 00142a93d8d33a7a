// Package app hosts reading sessions behind an HTTP API. A reading session
// is a works.Paginator whose state is kept in a session.Store between
// requests.
package app

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/FiveIT/eseuri/internal/account"
	"github.com/FiveIT/eseuri/internal/auth"
	"github.com/FiveIT/eseuri/internal/bookmark"
	"github.com/FiveIT/eseuri/internal/gateway"
	"github.com/FiveIT/eseuri/internal/rbac"
	"github.com/FiveIT/eseuri/internal/search"
	"github.com/FiveIT/eseuri/internal/session"
	"github.com/FiveIT/eseuri/internal/subject"
	"github.com/FiveIT/eseuri/internal/submission"
	"github.com/FiveIT/eseuri/internal/works"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Session identifies the caller of a request.
type Session struct {
	UserID string
	Role   rbac.Role
	Token  string
	// Registered is the token's registration claim. A false claim may be
	// stale, see EnsureRegistered.
	Registered bool
}

// Reader describes a reading session.
type Reader struct {
	ID       string          `json:"id"`
	Subject  subject.Subject `json:"subject"`
	Type     works.Type      `json:"type"`
	Position int             `json:"position"`
	Empty    bool            `json:"empty,omitempty"`
}

// Page is the result of moving a reader.
type Page struct {
	Reader Reader         `json:"reader"`
	Work   *works.Content `json:"work"`
	Done   bool           `json:"done"`
}

// SubjectView is a resolved subject. Empty subjects are not an error.
type SubjectView struct {
	Subject subject.Subject `json:"subject"`
	Type    works.Type      `json:"type"`
	Empty   bool            `json:"empty"`
}

type Options struct {
	// Executor must forward the token carried by the request context, see
	// gateway.ContextToken.
	Executor   gateway.Executor
	Subscriber bookmark.Subscriber
	Store      session.Store
	Search     *search.Service
	// Verifier checks bearer tokens. When nil, tokens are passed to Hasura
	// unverified and the caller is identified by a hash of the token.
	Verifier *auth.Verifier
	// Extractor reads uploaded documents. Uploads are refused when nil.
	Extractor submission.Extractor
	Logger    *logrus.Logger
	// Pinger reports the health of the session store, if it has one.
	Pinger func(context.Context) error

	SeedFunc works.SeedFunc
	NewID    func() string
	Now      func() time.Time
}

type Service struct {
	exec      gateway.Executor
	resolver  *subject.Resolver
	bookmarks *bookmark.Service
	accounts  *account.Service
	submit    *submission.Service
	search    *search.Service
	store     session.Store
	verifier  *auth.Verifier
	logger    *logrus.Logger
	pinger    func(context.Context) error
	seedFunc  works.SeedFunc
	newID     func() string
	now       func() time.Time
	locks     *keyedMutex
}

func New(opts Options) *Service {
	s := &Service{
		exec:      opts.Executor,
		resolver:  subject.NewResolver(opts.Executor),
		bookmarks: bookmark.NewService(opts.Executor, opts.Subscriber),
		accounts:  account.NewService(opts.Executor),
		search:    opts.Search,
		store:     opts.Store,
		verifier:  opts.Verifier,
		logger:    opts.Logger,
		pinger:    opts.Pinger,
		seedFunc:  opts.SeedFunc,
		newID:     opts.NewID,
		now:       opts.Now,
		locks:     newKeyedMutex(),
	}
	if s.store == nil {
		s.store = session.NewMemoryStore(session.DefaultTTL)
	}
	if s.search == nil {
		s.search = search.NewService(nil, s.resolver, opts.Logger)
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	s.submit = submission.NewService(opts.Executor, opts.Extractor, s.logger)
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SessionFromToken identifies the caller behind a bearer token.
func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, auth.ErrInvalidToken
	}
	if s.verifier == nil {
		return Session{
			UserID:     fmt.Sprintf("token:%x", sha256.Sum256([]byte(token))),
			Role:       rbac.RoleStudent,
			Token:      token,
			Registered: true,
		}, nil
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		UserID:     claims.UserID,
		Role:       rbac.Normalize(claims.DefaultRole),
		Token:      token,
		Registered: claims.Registered,
	}, nil
}

// IsRegistered reports whether the caller completed registration. Tokens
// issued before registration finished still carry a false claim, so the
// user's row is checked before answering no.
func (s *Service) IsRegistered(ctx context.Context, caller Session) (bool, error) {
	if caller.Registered {
		return true, nil
	}
	id, err := numericUserID(caller)
	if err != nil {
		return false, err
	}
	ok, err := s.accounts.Registered(ctx, id)
	if errors.Is(err, account.ErrNotFound) {
		return false, nil
	}
	return ok, err
}

// EnsureRegistered fails with an UNREGISTERED error unless the caller
// completed registration.
func (s *Service) EnsureRegistered(ctx context.Context, caller Session) error {
	ok, err := s.IsRegistered(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return errUnregistered
	}
	return nil
}

// UserInfo returns the caller's stored id, role and registration state.
func (s *Service) UserInfo(ctx context.Context, caller Session) (account.Info, error) {
	id, err := numericUserID(caller)
	if err != nil {
		return account.Info{}, err
	}
	return s.accounts.Info(ctx, id, string(caller.Role))
}

// Submit stores an uploaded document as a new work by the caller.
func (s *Service) Submit(ctx context.Context, caller Session, up submission.Upload) (submission.Work, error) {
	id, err := numericUserID(caller)
	if err != nil {
		return submission.Work{}, err
	}
	return s.submit.Submit(ctx, submission.Author{UserID: id, Role: string(caller.Role)}, up)
}

// numericUserID returns the Hasura user id of a verified caller.
func numericUserID(caller Session) (int, error) {
	id, err := strconv.Atoi(caller.UserID)
	if err != nil {
		return 0, errUnverifiedUser
	}
	return id, nil
}

// Ping checks the session store.
func (s *Service) Ping(ctx context.Context) error {
	if s.pinger == nil {
		return nil
	}
	return s.pinger(ctx)
}

// Subject resolves a subject by slug.
func (s *Service) Subject(ctx context.Context, workType, slug string) (SubjectView, error) {
	typ, err := works.ParseType(workType)
	if err != nil {
		return SubjectView{}, err
	}
	subj, err := s.resolver.Resolve(ctx, slug, string(typ))
	if errors.Is(err, subject.ErrEmpty) {
		return SubjectView{Subject: subj, Type: typ, Empty: true}, nil
	}
	if err != nil {
		return SubjectView{}, err
	}
	return SubjectView{Subject: subj, Type: typ}, nil
}

// SearchSubjects finds subjects by name prefix.
func (s *Service) SearchSubjects(ctx context.Context, workType, text string, limit int) (search.Response, error) {
	if workType != "" {
		if _, err := works.ParseType(workType); err != nil {
			return search.Response{}, err
		}
	}
	return s.search.Search(ctx, search.Query{Text: strings.TrimSpace(text), Type: workType, Limit: limit})
}

// Open starts a reading session over the works of a subject. When beginWith
// is set, that work is read first. An empty subject yields a Reader with
// Empty set and no session.
func (s *Service) Open(ctx context.Context, caller Session, workType, slug, beginWith string) (Reader, error) {
	view, err := s.Subject(ctx, workType, slug)
	if err != nil {
		return Reader{}, err
	}
	if view.Empty {
		return Reader{Subject: view.Subject, Type: view.Type, Position: -1, Empty: true}, nil
	}

	p, err := works.NewPaginator(s.exec, view.Subject, view.Type, s.paginatorOptions()...)
	if err != nil {
		return Reader{}, err
	}
	if err := p.Seed(ctx, beginWith); err != nil {
		return Reader{}, err
	}

	now := s.now().UTC()
	rec := session.Record{
		ID:        s.newID(),
		UserID:    caller.UserID,
		State:     p.State(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return Reader{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"reader_id":  rec.ID,
		"subject_id": view.Subject.ID,
		"work_type":  string(view.Type),
	}).Info("reader opened")
	return readerOf(rec.ID, p), nil
}

// Next advances a reader to its next work.
func (s *Service) Next(ctx context.Context, caller Session, id string) (Page, error) {
	return s.move(ctx, caller, id, func(p *works.Paginator) (Page, error) {
		c, err := p.Advance(ctx)
		if err != nil {
			return Page{}, err
		}
		return Page{Work: &c}, nil
	})
}

// Prev moves a reader back one work. Done is set when there is nothing
// before the returned work, or when the reader stepped back past the first
// work, in which case Work is nil.
func (s *Service) Prev(ctx context.Context, caller Session, id string) (Page, error) {
	return s.move(ctx, caller, id, func(p *works.Paginator) (Page, error) {
		c, done, err := p.Retreat(ctx)
		if err != nil {
			return Page{}, err
		}
		page := Page{Done: done}
		if c.OpaqueID != "" {
			page.Work = &c
		}
		return page, nil
	})
}

// Current returns the work a reader is on.
func (s *Service) Current(ctx context.Context, caller Session, id string) (Page, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	rec, p, err := s.load(ctx, caller, id)
	if err != nil {
		return Page{}, err
	}
	page := Page{Reader: readerOf(rec.ID, p)}
	if p.Position() < 0 {
		return page, nil
	}
	c, err := p.Current(ctx)
	if err != nil {
		return Page{}, err
	}
	page.Work = &c
	return page, nil
}

// Close ends a reading session.
func (s *Service) Close(ctx context.Context, caller Session, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if _, _, err := s.load(ctx, caller, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

func (s *Service) move(ctx context.Context, caller Session, id string, step func(*works.Paginator) (Page, error)) (Page, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	rec, p, err := s.load(ctx, caller, id)
	if err != nil {
		return Page{}, err
	}
	page, err := step(p)
	if err != nil {
		return Page{}, err
	}

	rec.State = p.State()
	rec.UpdatedAt = s.now().UTC()
	if err := s.store.Save(ctx, rec); err != nil {
		return Page{}, err
	}
	page.Reader = readerOf(rec.ID, p)
	return page, nil
}

func (s *Service) load(ctx context.Context, caller Session, id string) (session.Record, *works.Paginator, error) {
	rec, err := s.store.Load(ctx, id)
	if err != nil {
		return session.Record{}, nil, err
	}
	if rec.UserID != caller.UserID {
		return session.Record{}, nil, errForbidden
	}
	p, err := works.RestorePaginator(s.exec, rec.State, s.paginatorOptions()...)
	if err != nil {
		return session.Record{}, nil, fmt.Errorf("reader %s: %w", id, err)
	}
	return rec, p, nil
}

func (s *Service) paginatorOptions() []works.Option {
	opts := []works.Option{works.WithLogger(s.logger)}
	if s.seedFunc != nil {
		opts = append(opts, works.WithSeedFunc(s.seedFunc))
	}
	return opts
}

func readerOf(id string, p *works.Paginator) Reader {
	return Reader{ID: id, Subject: p.Subject(), Type: p.Type(), Position: p.Position()}
}

// Reindex rebuilds the subject search index. The catalogue is read with the
// admin secret.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	return s.search.Reindex(gateway.WithPromotion(ctx))
}

// Bookmark saves a work for the caller.
func (s *Service) Bookmark(ctx context.Context, workID int, name string) error {
	return s.bookmarks.Bookmark(ctx, workID, name)
}

func (s *Service) RemoveBookmark(ctx context.Context, workID int) error {
	return s.bookmarks.Remove(ctx, workID)
}

func (s *Service) BookmarkStatus(ctx context.Context, workID int) (bookmark.Status, error) {
	name, ok, err := s.bookmarks.Lookup(ctx, workID)
	if err != nil {
		return bookmark.Status{}, err
	}
	return bookmark.Status{WorkID: workID, Bookmarked: ok, Name: name}, nil
}

// WatchBookmark streams bookmark status changes for a work.
func (s *Service) WatchBookmark(ctx context.Context, workID int, fn func(bookmark.Status) error) error {
	return s.bookmarks.Watch(ctx, workID, fn)
}
