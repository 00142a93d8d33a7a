package app

import (
	"net/http"
	"testing"
	"time"

	"github.com/FiveIT/eseuri/internal/auth"
	"github.com/FiveIT/eseuri/internal/queries"
)

const testSecret = "test-secret"

func newVerifiedEnv(t *testing.T, opts ...func(*Options)) *testEnv {
	t.Helper()
	verifier, err := auth.ParseSecret(`{"type":"HS256","key":"` + testSecret + `"}`)
	if err != nil {
		t.Fatalf("ParseSecret() error = %v", err)
	}
	return newTestEnv(t, append([]func(*Options){func(o *Options) { o.Verifier = verifier }}, opts...)...)
}

func issue(t *testing.T, claims auth.Claims) string {
	t.Helper()
	claims.ExpiresAt = time.Now().Add(time.Hour)
	token, err := auth.IssueToken([]byte(testSecret), claims)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func TestStaleRegistrationClaimFallsBackToUserRow(t *testing.T) {
	env := newVerifiedEnv(t)
	env.fake.Reply(queries.User.Name, `{"users":[{"id":43,"role":"student","updated_at":"2021-05-01T10:00:00+00:00"}]}`)
	env.fake.Reply(queries.IsBookmarked.Name, `{"bookmarks":[]}`)

	token := issue(t, auth.Claims{UserID: "43", DefaultRole: "student"})
	status, body := env.do(t, http.MethodGet, "/api/bookmarks/101", token, nil)
	if status != http.StatusOK || body["bookmarked"] != false {
		t.Fatalf("expected a registered user to pass, got %d %v", status, body)
	}

	var vars queries.UserVars
	if err := env.fake.Calls(queries.User.Name)[0].DecodeVars(&vars); err != nil || vars.ID != 43 {
		t.Fatalf("expected a lookup of user 43, got %+v (%v)", vars, err)
	}
}

func TestRegisteredClaimSkipsUserLookup(t *testing.T) {
	env := newVerifiedEnv(t)
	env.fake.Reply(queries.IsBookmarked.Name, `{"bookmarks":[]}`)

	token := issue(t, auth.Claims{UserID: "42", DefaultRole: "student", Registered: true})
	if status, _ := env.do(t, http.MethodGet, "/api/bookmarks/101", token, nil); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if n := len(env.fake.Calls(queries.User.Name)); n != 0 {
		t.Errorf("expected no user lookup, got %d", n)
	}
}

func TestIsRegisteredEndpoint(t *testing.T) {
	env := newVerifiedEnv(t)
	env.fake.Reply(queries.User.Name, `{"users":[{"id":43,"role":"student","updated_at":null}]}`)

	status, body := env.do(t, http.MethodGet, "/api/isregistered", issue(t, auth.Claims{UserID: "43", DefaultRole: "student"}), nil)
	if status != http.StatusOK || body["isRegistered"] != false {
		t.Fatalf("expected an unregistered user, got %d %v", status, body)
	}

	status, body = env.do(t, http.MethodGet, "/api/isregistered", issue(t, auth.Claims{UserID: "42", DefaultRole: "student", Registered: true}), nil)
	if status != http.StatusOK || body["isRegistered"] != true {
		t.Fatalf("expected a registered user, got %d %v", status, body)
	}

	env.fake.Reply(queries.User.Name, `{"users":[]}`)
	status, body = env.do(t, http.MethodGet, "/api/isregistered", issue(t, auth.Claims{UserID: "99", DefaultRole: "student"}), nil)
	if status != http.StatusOK || body["isRegistered"] != false {
		t.Fatalf("expected a missing user to be unregistered, got %d %v", status, body)
	}
}

func TestUserInfoEndpoint(t *testing.T) {
	env := newVerifiedEnv(t)
	env.fake.Reply(queries.User.Name, `{"users":[{"id":7,"role":"teacher","updated_at":"2021-05-01T10:00:00+00:00"}]}`)

	// The claim is stale; the stored row decides.
	token := issue(t, auth.Claims{UserID: "7", DefaultRole: "student"})
	status, body := env.do(t, http.MethodGet, "/api/userinfo", token, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", status, body)
	}
	if body["id"] != float64(7) || body["role"] != "teacher" || body["isRegistered"] != true {
		t.Fatalf("unexpected user info: %v", body)
	}

	env.fake.Reply(queries.User.Name, `{"users":[]}`)
	status, body = env.do(t, http.MethodGet, "/api/userinfo", token, nil)
	if status != http.StatusNotFound || body["code"] != "USER_NOT_FOUND" {
		t.Fatalf("expected 404 USER_NOT_FOUND, got %d %v", status, body)
	}
}

func TestUserInfoNeedsVerifiedToken(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodGet, "/api/userinfo", "tok", nil)
	if status != http.StatusForbidden || body["code"] != "VERIFIED_TOKEN_REQUIRED" {
		t.Fatalf("expected 403, got %d %v", status, body)
	}
	if status, _ := env.do(t, http.MethodGet, "/api/userinfo", "", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", status)
	}
}
