// Package submission turns uploaded documents into works awaiting review.
package submission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/FiveIT/eseuri/internal/account"
	"github.com/FiveIT/eseuri/internal/gateway"
	"github.com/FiveIT/eseuri/internal/queries"
	"github.com/FiveIT/eseuri/internal/works"
	"github.com/sirupsen/logrus"
)

// Work statuses. Works written by teachers skip review.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
)

// Accepted document types, as reported by Tika.
const (
	mimeDOC  = "application/msword"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeODT  = "application/vnd.oasis.opendocument.text"
	mimeRTF  = "application/rtf"
	mimeTXT  = "text/plain"
)

var (
	ErrUnavailable     = errors.New("document extraction is not configured")
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrEmptyFile       = errors.New("uploaded file has no text")
	ErrInvalidSubject  = errors.New("subject id must be positive")
)

// Extractor detects a document's MIME type and extracts its text.
// *tika.Client satisfies it.
type Extractor interface {
	Detect(ctx context.Context, input io.Reader) (string, error)
	Parse(ctx context.Context, input io.Reader) (string, error)
}

// Author is the user submitting a work.
type Author struct {
	UserID int
	Role   string
}

type Upload struct {
	Type      string
	SubjectID int
	// RequestedTeacherID optionally names the teacher asked to review the work.
	RequestedTeacherID int
	File               io.ReadSeeker
}

type Work struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
}

type Service struct {
	exec      gateway.Executor
	extractor Extractor
	accounts  *account.Service
	log       *logrus.Entry
}

// NewService builds a submission service. extractor may be nil, in which
// case Submit fails with ErrUnavailable.
func NewService(exec gateway.Executor, extractor Extractor, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		exec:      exec,
		extractor: extractor,
		accounts:  account.NewService(exec),
		log:       logger.WithField("component", "submission"),
	}
}

// Submit extracts the text of up.File and stores it as a new work attached
// to the upload's subject. Inserts run with the admin secret as the author.
func (s *Service) Submit(ctx context.Context, author Author, up Upload) (Work, error) {
	if s.extractor == nil {
		return Work{}, ErrUnavailable
	}
	typ, err := works.ParseType(up.Type)
	if err != nil {
		return Work{}, err
	}
	supertype, err := queries.InsertWorkSupertype(string(typ))
	if err != nil {
		return Work{}, err
	}
	if up.SubjectID <= 0 {
		return Work{}, ErrInvalidSubject
	}

	body, err := s.extract(ctx, up.File)
	if err != nil {
		return Work{}, err
	}
	status, err := s.status(ctx, author)
	if err != nil {
		return Work{}, err
	}

	promoted := gateway.WithSessionVars(gateway.WithPromotion(ctx), gateway.SessionVars{
		UserID: strconv.Itoa(author.UserID),
		Role:   author.Role,
	})

	vars := queries.InsertWorkVars{Content: body, Status: status}
	if up.RequestedTeacherID != 0 {
		teacher := up.RequestedTeacherID
		vars.RequestedTeacherID = &teacher
	}
	var inserted queries.InsertWorkResult
	if err := s.exec.Execute(promoted, queries.InsertWork, vars, &inserted); err != nil {
		return Work{}, fmt.Errorf("insert work: %w", err)
	}
	work := Work{ID: inserted.Work.ID, Status: status}

	link := queries.SupertypeVars{WorkID: work.ID, SubjectID: up.SubjectID}
	if err := s.exec.Execute(gateway.WithPromotion(ctx), supertype, link, nil); err != nil {
		return Work{}, fmt.Errorf("attach work %d to subject %d: %w", work.ID, up.SubjectID, err)
	}

	s.log.WithFields(logrus.Fields{
		"work_id":    work.ID,
		"subject_id": up.SubjectID,
		"work_type":  string(typ),
		"status":     status,
	}).Info("work submitted")
	return work, nil
}

func (s *Service) extract(ctx context.Context, file io.ReadSeeker) (string, error) {
	detected, err := s.extractor.Detect(ctx, file)
	if err != nil {
		return "", fmt.Errorf("detect file type: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind upload: %w", err)
	}

	mediaType, _, _ := strings.Cut(strings.TrimSpace(detected), ";")
	var body string
	switch mediaType {
	case mimeDOC, mimeDOCX, mimeODT, mimeRTF:
		body, err = s.extractor.Parse(ctx, file)
		if err != nil {
			return "", fmt.Errorf("extract text: %w", err)
		}
	case mimeTXT:
		raw, err := io.ReadAll(file)
		if err != nil {
			return "", fmt.Errorf("read upload: %w", err)
		}
		body = string(raw)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFile, mediaType)
	}

	if strings.TrimSpace(body) == "" {
		return "", ErrEmptyFile
	}
	return body, nil
}

// status approves works by teachers. The stored role is consulted when the
// token carries a different one.
func (s *Service) status(ctx context.Context, author Author) (string, error) {
	if author.Role == "teacher" {
		return StatusApproved, nil
	}
	info, err := s.accounts.Info(ctx, author.UserID, author.Role)
	if err != nil {
		return "", err
	}
	if info.Role == "teacher" {
		return StatusApproved, nil
	}
	return StatusPending, nil
}
