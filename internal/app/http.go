package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/FiveIT/eseuri/internal/auth"
	"github.com/FiveIT/eseuri/internal/bookmark"
	"github.com/FiveIT/eseuri/internal/gateway"
	"github.com/FiveIT/eseuri/internal/rbac"
	"github.com/FiveIT/eseuri/internal/submission"
	"github.com/sirupsen/logrus"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *logrus.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: service.logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	s.log.WithFields(logrus.Fields{
		"request_id": requestID(r.Context()),
		"user_id":    session.UserID,
		"role":       string(session.Role),
		"action":     string(action),
	}).Warn("forbidden")
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

type openReaderRequest struct {
	Type  string `json:"type"`
	Slug  string `json:"slug"`
	Begin string `json:"begin"`
}

type bookmarkRequest struct {
	Name string `json:"name"`
}

const maxUploadSize = 10 << 20

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"sessions": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["sessions"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// The subject catalogue is public; a token, when sent, is still forwarded.
	if token := bearerToken(r); token != "" {
		r = r.WithContext(gateway.WithToken(r.Context(), token))
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "subjects":
		s.handleSubjects(w, r, parts[2:])
		return
	case "userinfo":
		if len(parts) != 2 || r.Method != http.MethodGet {
			break
		}
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		info, err := s.service.UserInfo(r.Context(), session)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
		return
	case "isregistered":
		if len(parts) != 2 || r.Method != http.MethodGet {
			break
		}
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		registered, err := s.service.IsRegistered(r.Context(), session)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"isRegistered": registered})
		return
	case "works":
		if len(parts) != 2 || r.Method != http.MethodPost {
			break
		}
		session, ok := s.requireRegisteredSession(w, r)
		if !ok {
			return
		}
		if !rbac.Can(session.Role, rbac.ActionSubmit) {
			s.forbid(w, r, session, rbac.ActionSubmit)
			return
		}
		s.handleUpload(w, r, session)
		return
	case "readers":
		session, ok := s.requireRegisteredSession(w, r)
		if !ok {
			return
		}
		if !rbac.Can(session.Role, rbac.ActionRead) {
			s.forbid(w, r, session, rbac.ActionRead)
			return
		}
		s.handleReaders(w, r, session, parts[2:])
		return
	case "bookmarks":
		session, ok := s.requireRegisteredSession(w, r)
		if !ok {
			return
		}
		if !rbac.Can(session.Role, rbac.ActionBookmark) {
			s.forbid(w, r, session, rbac.ActionBookmark)
			return
		}
		s.handleBookmarks(w, r, parts[2:])
		return
	case "admin":
		if len(parts) != 3 || parts[2] != "reindex" || r.Method != http.MethodPost {
			break
		}
		session, ok := s.requireRegisteredSession(w, r)
		if !ok {
			return
		}
		if !rbac.Can(session.Role, rbac.ActionReindex) {
			s.forbid(w, r, session, rbac.ActionReindex)
			return
		}
		n, err := s.service.Reindex(r.Context())
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"indexed": n})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSubjects(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch len(parts) {
	case 0:
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		resp, err := s.service.SearchSubjects(r.Context(), q.Get("type"), q.Get("q"), limit)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case 2:
		view, err := s.service.Subject(r.Context(), parts[0], parts[1])
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReaders(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var req openReaderRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(req.Slug) == "" {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "slug is required", nil)
			return
		}
		reader, err := s.service.Open(ctx, session, req.Type, req.Slug, req.Begin)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		if reader.Empty {
			writeJSON(w, http.StatusOK, reader)
			return
		}
		writeJSON(w, http.StatusCreated, reader)
		return
	}

	id := parts[0]
	var (
		page Page
		err  error
	)
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		page, err = s.service.Current(ctx, session, id)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.Close(ctx, session, id); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	case len(parts) == 2 && parts[1] == "next" && r.Method == http.MethodPost:
		page, err = s.service.Next(ctx, session, id)
	case len(parts) == 2 && parts[1] == "prev" && r.Method == http.MethodPost:
		page, err = s.service.Prev(ctx, session, id)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *HTTPServer) handleBookmarks(w http.ResponseWriter, r *http.Request, parts []string) {
	watch := len(parts) == 2 && parts[1] == "watch"
	if len(parts) != 1 && !watch {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	workID, err := strconv.Atoi(parts[0])
	if err != nil || workID <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_WORK_ID", "Work id must be a positive integer", nil)
		return
	}
	ctx := r.Context()

	if watch {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		s.watchBookmark(w, r, workID)
		return
	}

	switch r.Method {
	case http.MethodGet:
		status, err := s.service.BookmarkStatus(ctx, workID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	case http.MethodPut:
		var req bookmarkRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.Bookmark(ctx, workID, req.Name); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"workID": workID, "bookmarked": true, "name": strings.TrimSpace(req.Name)})
	case http.MethodDelete:
		if err := s.service.RemoveBookmark(ctx, workID); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"workID": workID, "bookmarked": false})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

// watchBookmark streams the bookmark status of a work as server-sent
// events until the client goes away.
func (s *HTTPServer) watchBookmark(w http.ResponseWriter, r *http.Request, workID int) {
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	started := false
	err := s.service.WatchBookmark(r.Context(), workID, func(st bookmark.Status) error {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		payload, err := json.Marshal(st)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", payload); err != nil {
			return err
		}
		return rc.Flush()
	})
	if err == nil {
		return
	}
	if !started {
		s.writeMappedError(w, r, err)
		return
	}
	s.log.WithFields(logrus.Fields{
		"request_id": requestID(r.Context()),
		"work_id":    workID,
	}).WithError(err).Warn("bookmark stream ended")
	_, code, message, _ := mapError(err)
	payload, _ := json.Marshal(map[string]any{"code": code, "error": message})
	_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
	_ = rc.Flush()
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, session Session) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FORM", "Upload form is invalid", nil)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "MISSING_FILE", "No file was uploaded", nil)
		return
	}
	defer file.Close()

	subjectID, _ := strconv.Atoi(r.FormValue("subject"))
	teacherID, _ := strconv.Atoi(r.FormValue("requestedTeacher"))
	work, err := s.service.Submit(r.Context(), session, submission.Upload{
		Type:               r.FormValue("type"),
		SubjectID:          subjectID,
		RequestedTeacherID: teacherID,
		File:               file,
	})
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, work)
}

// requireRegisteredSession is requireSession for routes closed to users who
// have not finished registering.
func (s *HTTPServer) requireRegisteredSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return Session{}, false
	}
	if err := s.service.EnsureRegistered(r.Context(), session); err != nil {
		s.writeMappedError(w, r, err)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.writeMappedError(w, r, err)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID(r.Context()),
			"code":       code,
		}).WithError(err).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
