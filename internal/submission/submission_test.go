package submission

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/FiveIT/eseuri/internal/gateway/gatewaytest"
	"github.com/FiveIT/eseuri/internal/queries"
	"github.com/FiveIT/eseuri/internal/works"
	"github.com/google/go-tika/tika"
	"github.com/sirupsen/logrus"
)

// fakeTika answers detection from the first bytes of the upload and
// extraction with a fixed text.
type fakeTika struct {
	mu     sync.Mutex
	parsed int
}

func (f *fakeTika) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if strings.HasPrefix(r.URL.Path, "/detect") {
		switch {
		case bytes.HasPrefix(body, []byte("PK")):
			_, _ = w.Write([]byte(mimeDOCX))
		case bytes.HasPrefix(body, []byte("\x89PNG")):
			_, _ = w.Write([]byte("image/png"))
		default:
			_, _ = w.Write([]byte(mimeTXT))
		}
		return
	}
	f.mu.Lock()
	f.parsed++
	f.mu.Unlock()
	_, _ = w.Write([]byte("Ion, romanul lui Rebreanu"))
}

func (f *fakeTika) parses() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parsed
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestService(t *testing.T, fake *gatewaytest.Fake) (*Service, *fakeTika) {
	t.Helper()
	extractor := &fakeTika{}
	server := httptest.NewServer(extractor)
	t.Cleanup(server.Close)

	fake.Reply(queries.InsertWork.Name, `{"insert_works_one":{"id":31}}`)
	fake.Reply(queries.InsertEssay.Name, `{"insert_essays_one":{"work_id":31}}`)
	fake.Reply(queries.InsertCharacterization.Name, `{"insert_characterizations_one":{"work_id":31}}`)
	return NewService(fake, tika.NewClient(nil, server.URL), quietLogger()), extractor
}

func TestSubmitTextByStudentIsPending(t *testing.T) {
	fake := gatewaytest.New()
	fake.Reply(queries.User.Name, `{"users":[{"id":5,"role":"student","updated_at":"2021-05-01T10:00:00+00:00"}]}`)
	svc, extractor := newTestService(t, fake)

	work, err := svc.Submit(context.Background(), Author{UserID: 5, Role: "student"}, Upload{
		Type:      "essay",
		SubjectID: 3,
		File:      strings.NewReader("Ion este un roman realist."),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if work != (Work{ID: 31, Status: StatusPending}) {
		t.Errorf("unexpected work: %+v", work)
	}
	if extractor.parses() != 0 {
		t.Errorf("plain text must not be sent for extraction")
	}

	var vars queries.InsertWorkVars
	if err := fake.Calls(queries.InsertWork.Name)[0].DecodeVars(&vars); err != nil {
		t.Fatalf("decode vars: %v", err)
	}
	if vars.Content != "Ion este un roman realist." || vars.Status != StatusPending || vars.RequestedTeacherID != nil {
		t.Errorf("unexpected insert vars: %+v", vars)
	}

	var link queries.SupertypeVars
	if err := fake.Calls(queries.InsertEssay.Name)[0].DecodeVars(&link); err != nil {
		t.Fatalf("decode vars: %v", err)
	}
	if link != (queries.SupertypeVars{WorkID: 31, SubjectID: 3}) {
		t.Errorf("unexpected essay link: %+v", link)
	}
}

func TestSubmitDocumentByTeacherIsApproved(t *testing.T) {
	fake := gatewaytest.New()
	svc, extractor := newTestService(t, fake)

	work, err := svc.Submit(context.Background(), Author{UserID: 9, Role: "teacher"}, Upload{
		Type:               "characterization",
		SubjectID:          4,
		RequestedTeacherID: 12,
		File:               strings.NewReader("PK\x03\x04 docx bytes"),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if work.Status != StatusApproved {
		t.Errorf("expected approved, got %s", work.Status)
	}
	if n := extractor.parses(); n != 1 {
		t.Errorf("expected one extraction, got %d", n)
	}
	if len(fake.Calls(queries.User.Name)) != 0 {
		t.Error("a teacher token needs no user lookup")
	}

	var vars queries.InsertWorkVars
	if err := fake.Calls(queries.InsertWork.Name)[0].DecodeVars(&vars); err != nil {
		t.Fatalf("decode vars: %v", err)
	}
	if vars.Content != "Ion, romanul lui Rebreanu" || vars.RequestedTeacherID == nil || *vars.RequestedTeacherID != 12 {
		t.Errorf("unexpected insert vars: %+v", vars)
	}
	if len(fake.Calls(queries.InsertCharacterization.Name)) != 1 {
		t.Error("expected the work to be attached to a character")
	}
}

func TestSubmitUsesStoredTeacherRole(t *testing.T) {
	fake := gatewaytest.New()
	fake.Reply(queries.User.Name, `{"users":[{"id":5,"role":"teacher","updated_at":"2021-05-01T10:00:00+00:00"}]}`)
	svc, _ := newTestService(t, fake)

	work, err := svc.Submit(context.Background(), Author{UserID: 5, Role: "student"}, Upload{
		Type: "essay", SubjectID: 3, File: strings.NewReader("text"),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if work.Status != StatusApproved {
		t.Errorf("expected approved for a stored teacher, got %s", work.Status)
	}
}

func TestSubmitRejectsBadUploads(t *testing.T) {
	cases := []struct {
		name string
		up   Upload
		want error
	}{
		{name: "image", up: Upload{Type: "essay", SubjectID: 1, File: strings.NewReader("\x89PNG....")}, want: ErrUnsupportedFile},
		{name: "blank text", up: Upload{Type: "essay", SubjectID: 1, File: strings.NewReader("  \n")}, want: ErrEmptyFile},
		{name: "work type", up: Upload{Type: "poem", SubjectID: 1, File: strings.NewReader("text")}, want: works.ErrInvalidType},
		{name: "subject", up: Upload{Type: "essay", File: strings.NewReader("text")}, want: ErrInvalidSubject},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := gatewaytest.New()
			svc, _ := newTestService(t, fake)
			_, err := svc.Submit(context.Background(), Author{UserID: 1, Role: "teacher"}, tc.up)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(fake.Calls(queries.InsertWork.Name)) != 0 {
				t.Error("rejected uploads must not be stored")
			}
		})
	}
}

func TestSubmitWithoutExtractor(t *testing.T) {
	svc := NewService(gatewaytest.New(), nil, quietLogger())
	_, err := svc.Submit(context.Background(), Author{UserID: 1}, Upload{Type: "essay", SubjectID: 1, File: strings.NewReader("x")})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
