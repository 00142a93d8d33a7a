package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/FiveIT/eseuri/internal/auth"
	"github.com/FiveIT/eseuri/internal/gateway"
	"github.com/FiveIT/eseuri/internal/gateway/gatewaytest"
	"github.com/FiveIT/eseuri/internal/queries"
	"github.com/FiveIT/eseuri/internal/session"
	"github.com/sirupsen/logrus"
)

const ionEssays = `{"list_works":{"pageInfo":{"startCursor":"c1","endCursor":"c2","hasNextPage":false,"hasPreviousPage":false},"edges":[` +
	`{"cursor":"c1","node":{"id":"W1","work_id":101}},{"cursor":"c2","node":{"id":"W2","work_id":102}}]}}`

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type testEnv struct {
	fake   *gatewaytest.Fake
	store  *session.MemoryStore
	server *HTTPServer
}

func newTestEnv(t *testing.T, opts ...func(*Options)) *testEnv {
	t.Helper()
	fake := gatewaytest.New()
	fake.Reply(queries.SubjectByURL.Name, `{"work_summaries":[{"id":7,"name":"Ion","work_count":2}]}`)
	fake.Reply(queries.ListEssays.Name, ionEssays)
	fake.Handle(queries.WorkContent.Name, func(raw json.RawMessage) (string, error) {
		var vars queries.NodeVars
		if err := json.Unmarshal(raw, &vars); err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"node":{"id":%q,"work_id":0,"work":{"content":"body of %s"}}}`, vars.ID, vars.ID), nil
	})

	store := session.NewMemoryStore(time.Hour)
	ids := 0
	o := Options{
		Executor: fake,
		Store:    store,
		Logger:   quietLogger(),
		SeedFunc: func() string { return "0.5" },
		NewID: func() string {
			ids++
			return fmt.Sprintf("reader-%d", ids)
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &testEnv{fake: fake, store: store, server: NewHTTPServer(New(o), "*")}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)

	var response map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
			t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
		}
	}
	return rr.Code, response
}

func workID(t *testing.T, page map[string]any) string {
	t.Helper()
	work, ok := page["work"].(map[string]any)
	if !ok {
		t.Fatalf("expected a work in %v", page)
	}
	return work["id"].(string)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodGet, "/api/health", "", nil)
	if status != http.StatusOK || body["ok"] != true {
		t.Fatalf("unexpected health response: %d %v", status, body)
	}
}

func TestReadyEndpointReportsStoreFailure(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Pinger = func(context.Context) error { return errors.New("redis down") }
	})
	status, body := env.do(t, http.MethodGet, "/api/ready", "", nil)
	if status != http.StatusServiceUnavailable || body["ok"] != false {
		t.Fatalf("unexpected ready response: %d %v", status, body)
	}
}

func TestReaderFlow(t *testing.T) {
	env := newTestEnv(t)

	status, reader := env.do(t, http.MethodPost, "/api/readers", "tok", map[string]any{"type": "essay", "slug": "ion"})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", status, reader)
	}
	if reader["id"] != "reader-1" || reader["position"] != float64(-1) {
		t.Fatalf("unexpected reader: %v", reader)
	}

	var seen []string
	for i := 0; i < 3; i++ {
		status, page := env.do(t, http.MethodPost, "/api/readers/reader-1/next", "tok", nil)
		if status != http.StatusOK {
			t.Fatalf("next %d: expected 200, got %d %v", i, status, page)
		}
		seen = append(seen, workID(t, page))
	}
	// Two works, then a reshuffle that starts over in the new order.
	if strings.Join(seen, ",") != "W1,W2,W1" {
		t.Fatalf("unexpected order: %v", seen)
	}

	status, page := env.do(t, http.MethodPost, "/api/readers/reader-1/prev", "tok", nil)
	if status != http.StatusOK || workID(t, page) != "W2" || page["done"] != false {
		t.Fatalf("unexpected prev: %d %v", status, page)
	}
	status, page = env.do(t, http.MethodPost, "/api/readers/reader-1/prev", "tok", nil)
	if status != http.StatusOK || workID(t, page) != "W1" || page["done"] != true {
		t.Fatalf("expected first work with done, got %d %v", status, page)
	}
	status, page = env.do(t, http.MethodPost, "/api/readers/reader-1/prev", "tok", nil)
	if status != http.StatusOK || page["work"] != nil || page["done"] != true {
		t.Fatalf("expected done without work, got %d %v", status, page)
	}

	status, page = env.do(t, http.MethodGet, "/api/readers/reader-1", "tok", nil)
	if status != http.StatusOK || page["work"] != nil {
		t.Fatalf("expected no current work before start, got %d %v", status, page)
	}
	if r := page["reader"].(map[string]any); r["position"] != float64(-1) {
		t.Fatalf("expected position -1, got %v", r)
	}

	status, _ = env.do(t, http.MethodDelete, "/api/readers/reader-1", "tok", nil)
	if status != http.StatusOK {
		t.Fatalf("expected close to succeed, got %d", status)
	}
	status, body := env.do(t, http.MethodGet, "/api/readers/reader-1", "tok", nil)
	if status != http.StatusNotFound || body["code"] != "READER_NOT_FOUND" {
		t.Fatalf("expected closed reader to be gone, got %d %v", status, body)
	}
}

func TestReaderBeginsWithRequestedWork(t *testing.T) {
	env := newTestEnv(t)
	env.fake.Reply(queries.WorkID.Name, `{"node":{"id":"W9","work_id":109}}`)

	status, _ := env.do(t, http.MethodPost, "/api/readers", "tok", map[string]any{"type": "essay", "slug": "ion", "begin": "W9"})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	_, page := env.do(t, http.MethodPost, "/api/readers/reader-1/next", "tok", nil)
	work := page["work"].(map[string]any)
	if work["id"] != "W9" || work["workID"] != float64(109) {
		t.Fatalf("expected the requested work first, got %v", work)
	}
}

func TestReaderRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodPost, "/api/readers", "", map[string]any{"type": "essay", "slug": "ion"})
	if status != http.StatusUnauthorized || body["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected 401, got %d %v", status, body)
	}
}

func TestReaderBelongsToItsOwner(t *testing.T) {
	env := newTestEnv(t)
	if status, _ := env.do(t, http.MethodPost, "/api/readers", "alice", map[string]any{"type": "essay", "slug": "ion"}); status != http.StatusCreated {
		t.Fatalf("open failed: %d", status)
	}
	status, body := env.do(t, http.MethodPost, "/api/readers/reader-1/next", "bob", nil)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %v", status, body)
	}
}

func TestOpenEmptySubject(t *testing.T) {
	env := newTestEnv(t)
	env.fake.Reply(queries.SubjectByURL.Name, `{"work_summaries":[{"id":8,"name":"Baltagul","work_count":0}]}`)

	status, body := env.do(t, http.MethodPost, "/api/readers", "tok", map[string]any{"type": "essay", "slug": "baltagul"})
	if status != http.StatusOK || body["empty"] != true {
		t.Fatalf("expected empty subject, got %d %v", status, body)
	}
	if len(env.fake.Calls(queries.ListEssays.Name)) != 0 {
		t.Error("no works should be listed for an empty subject")
	}
	if _, err := env.store.Load(context.Background(), "reader-1"); err == nil {
		t.Error("no session should be stored for an empty subject")
	}
}

func TestOpenRejectsInvalidType(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodPost, "/api/readers", "tok", map[string]any{"type": "poem", "slug": "ion"})
	if status != http.StatusBadRequest || body["code"] != "INVALID_WORK_TYPE" {
		t.Fatalf("expected 400, got %d %v", status, body)
	}
}

func TestSubjectEndpoint(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/subjects/essay/ion", "", nil)
	if status != http.StatusOK || body["empty"] != false {
		t.Fatalf("unexpected subject response: %d %v", status, body)
	}
	if s := body["subject"].(map[string]any); s["name"] != "Ion" || s["workCount"] != float64(2) {
		t.Fatalf("unexpected subject: %v", s)
	}

	env.fake.Reply(queries.SubjectByURL.Name, `{"work_summaries":[]}`)
	status, body = env.do(t, http.MethodGet, "/api/subjects/essay/missing-slug", "", nil)
	if status != http.StatusNotFound || body["code"] != "SUBJECT_NOT_FOUND" {
		t.Fatalf("expected 404, got %d %v", status, body)
	}
}

func TestSubjectSearchEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.fake.Reply(queries.SearchWorkSummaries.Name, `{"work_summaries":[{"id":7,"name":"Ion","url":"ion","creator":"Liviu Rebreanu","type":"essay","work_count":2}]}`)

	status, body := env.do(t, http.MethodGet, "/api/subjects?type=essay&q=io", "", nil)
	if status != http.StatusOK || body["total"] != float64(1) || body["source"] != "hasura" {
		t.Fatalf("unexpected search response: %d %v", status, body)
	}
}

func TestGatewayErrorsMapToBadGateway(t *testing.T) {
	env := newTestEnv(t)
	env.fake.Fail(queries.SubjectByURL.Name, &gateway.GatewayError{Operation: "SubjectByURL", Code: "validation-failed", Message: "field not found", Path: "$.selectionSet"})

	status, body := env.do(t, http.MethodGet, "/api/subjects/essay/ion", "", nil)
	if status != http.StatusBadGateway || body["code"] != "GATEWAY_ERROR" {
		t.Fatalf("expected 502, got %d %v", status, body)
	}
	details := body["details"].(map[string]any)
	if details["code"] != "validation-failed" || details["path"] != "$.selectionSet" {
		t.Fatalf("unexpected details: %v", details)
	}
}

func TestBookmarkEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.fake.Reply(queries.InsertBookmark.Name, `{"insert_bookmarks_one":{"work_id":101,"name":"bac"}}`)
	env.fake.Reply(queries.IsBookmarked.Name, `{"bookmarks":[{"work_id":101,"name":"bac"}]}`)
	env.fake.Reply(queries.DeleteBookmark.Name, `{"delete_bookmarks":{"affected_rows":1}}`)

	status, body := env.do(t, http.MethodPut, "/api/bookmarks/101", "tok", map[string]any{"name": "bac"})
	if status != http.StatusOK || body["bookmarked"] != true {
		t.Fatalf("unexpected PUT response: %d %v", status, body)
	}
	status, body = env.do(t, http.MethodGet, "/api/bookmarks/101", "tok", nil)
	if status != http.StatusOK || body["bookmarked"] != true || body["name"] != "bac" {
		t.Fatalf("unexpected GET response: %d %v", status, body)
	}
	status, body = env.do(t, http.MethodDelete, "/api/bookmarks/101", "tok", nil)
	if status != http.StatusOK || body["bookmarked"] != false {
		t.Fatalf("unexpected DELETE response: %d %v", status, body)
	}

	status, body = env.do(t, http.MethodPut, "/api/bookmarks/101", "tok", map[string]any{"name": " "})
	if status != http.StatusBadRequest || body["code"] != "INVALID_BOOKMARK" {
		t.Fatalf("expected 400 for a blank name, got %d %v", status, body)
	}
	status, _ = env.do(t, http.MethodGet, "/api/bookmarks/abc", "tok", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad work id, got %d", status)
	}
}

func TestVerifiedTokens(t *testing.T) {
	secret := `{"type":"HS256","key":"test-secret"}`
	verifier, err := auth.ParseSecret(secret)
	if err != nil {
		t.Fatalf("ParseSecret() error = %v", err)
	}
	env := newTestEnv(t, func(o *Options) { o.Verifier = verifier })

	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{UserID: "42", DefaultRole: "student", Registered: true, ExpiresAt: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if status, body := env.do(t, http.MethodPost, "/api/readers", token, map[string]any{"type": "essay", "slug": "ion"}); status != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", status, body)
	}
	rec, err := env.store.Load(context.Background(), "reader-1")
	if err != nil || rec.UserID != "42" {
		t.Fatalf("expected session owned by user 42, got %+v %v", rec, err)
	}

	if status, _ := env.do(t, http.MethodPost, "/api/readers", "forged", map[string]any{"type": "essay", "slug": "ion"}); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a forged token, got %d", status)
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodGet, "/api/nope", "", nil)
	if status != http.StatusNotFound || body["code"] != "NOT_FOUND" {
		t.Fatalf("expected 404, got %d %v", status, body)
	}
}

func TestUnregisteredUsersAreRejected(t *testing.T) {
	verifier, err := auth.ParseSecret(`{"type":"HS256","key":"test-secret"}`)
	if err != nil {
		t.Fatalf("ParseSecret() error = %v", err)
	}
	env := newTestEnv(t, func(o *Options) { o.Verifier = verifier })

	env.fake.Reply(queries.User.Name, `{"users":[{"id":43,"role":"student","updated_at":null}]}`)

	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{UserID: "43", DefaultRole: "student"})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	status, body := env.do(t, http.MethodGet, "/api/bookmarks/101", token, nil)
	if status != http.StatusUnauthorized || body["code"] != "UNREGISTERED" {
		t.Fatalf("expected 401 UNREGISTERED, got %d %v", status, body)
	}
	if len(env.fake.Calls(queries.IsBookmarked.Name)) != 0 {
		t.Error("unregistered requests must not reach the backend")
	}
}

func TestAnonymousRoleCannotBookmark(t *testing.T) {
	verifier, err := auth.ParseSecret(`{"type":"HS256","key":"test-secret"}`)
	if err != nil {
		t.Fatalf("ParseSecret() error = %v", err)
	}
	env := newTestEnv(t, func(o *Options) { o.Verifier = verifier })

	token, _ := auth.IssueToken([]byte("test-secret"), auth.Claims{UserID: "44", DefaultRole: "anonymous", Registered: true})
	status, _ := env.do(t, http.MethodPut, "/api/bookmarks/101", token, map[string]any{"name": "bac"})
	if status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
	if len(env.fake.Calls(queries.InsertBookmark.Name)) != 0 {
		t.Error("forbidden request must not reach the backend")
	}
}

func TestReindexRequiresAdmin(t *testing.T) {
	verifier, err := auth.ParseSecret(`{"type":"HS256","key":"test-secret"}`)
	if err != nil {
		t.Fatalf("ParseSecret() error = %v", err)
	}
	env := newTestEnv(t, func(o *Options) { o.Verifier = verifier })

	teacher, _ := auth.IssueToken([]byte("test-secret"), auth.Claims{UserID: "1", DefaultRole: "teacher", Registered: true})
	if status, _ := env.do(t, http.MethodPost, "/api/admin/reindex", teacher, nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 for a teacher, got %d", status)
	}

	admin, _ := auth.IssueToken([]byte("test-secret"), auth.Claims{UserID: "2", DefaultRole: "admin", Registered: true})
	status, body := env.do(t, http.MethodPost, "/api/admin/reindex", admin, nil)
	if status != http.StatusServiceUnavailable || body["code"] != "SEARCH_UNAVAILABLE" {
		t.Fatalf("expected 503 without meilisearch, got %d %v", status, body)
	}
}
