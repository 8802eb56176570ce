package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"kanban/api/internal/auth"
	"kanban/api/internal/export"
	"kanban/api/internal/logging"
	"kanban/api/internal/media"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: logging.OrNop(logger).Named("http")}
}

func (s *HTTPServer) Handler() http.Handler {
	origins := []string{"*"}
	if s.corsOrigin != "" && s.corsOrigin != "*" {
		origins = strings.Split(s.corsOrigin, ",")
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:         600,
	})
	return s.withMiddleware(c.Handler(http.HandlerFunc(s.handle)))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	read := r.Method == http.MethodGet || r.Method == http.MethodHead
	if read && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	if read && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if strings.HasPrefix(r.URL.Path, "/api/auth/") {
		s.handleAuth(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID, "email": session.Email})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch parts[1] {
	case "me":
		s.handleMe(w, r, session, parts[2:])
	case "workspaces":
		s.handleWorkspaces(w, r, session, parts[2:])
	case "boards":
		s.handleBoards(w, r, session, parts[2:])
	case "lists":
		s.handleLists(w, r, session, parts[2:])
	case "tasks":
		s.handleTasks(w, r, session, parts[2:])
	case "search":
		s.handleSearch(w, r, session, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
		Token       string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	ctx := r.Context()

	switch strings.TrimPrefix(r.URL.Path, "/api/auth/") {
	case "signup":
		payload, err := s.service.SignUp(ctx, body.Email, body.Password, body.DisplayName)
		s.respond(w, r, http.StatusCreated, payload, err)
	case "signin":
		session, err := s.service.SignIn(ctx, body.Email, body.Password)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
	case "verify-email":
		err := s.service.VerifyEmail(ctx, body.Token)
		s.respond(w, r, http.StatusOK, map[string]any{"message": "Email verified successfully"}, err)
	case "resend-verification":
		payload, err := s.service.ResendVerification(ctx, body.Email)
		s.respond(w, r, http.StatusOK, payload, err)
	case "reset-password/request":
		payload, err := s.service.RequestPasswordReset(ctx, body.Email)
		s.respond(w, r, http.StatusOK, payload, err)
	case "reset-password":
		err := s.service.ResetPassword(ctx, body.Token, body.Password)
		s.respond(w, r, http.StatusOK, map[string]any{"message": "Password updated, please sign in again"}, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"email":        session.Email,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		payload, err := s.service.Me(ctx, session)
		s.respond(w, r, http.StatusOK, payload, err)
	case len(rest) == 0 && r.Method == http.MethodPatch:
		var body struct {
			DisplayName string `json:"displayName"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		payload, err := s.service.UpdateProfile(ctx, session, body.DisplayName)
		s.respond(w, r, http.StatusOK, payload, err)
	case len(rest) == 1 && rest[0] == "avatar" && (r.Method == http.MethodPut || r.Method == http.MethodPost):
		data, err := readUpload(w, r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		payload, err := s.service.UploadAvatar(ctx, session, data)
		s.respond(w, r, http.StatusOK, payload, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleWorkspaces(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			workspaces, err := s.service.ListWorkspaces(ctx, session)
			s.respond(w, r, http.StatusOK, map[string]any{"workspaces": workspaces}, err)
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			if !s.decode(w, r, &body) {
				return
			}
			payload, err := s.service.CreateWorkspace(ctx, session, body.Name)
			s.respond(w, r, http.StatusCreated, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	workspaceID := rest[0]
	switch {
	case len(rest) == 1 && r.Method == http.MethodGet:
		payload, err := s.service.GetWorkspace(ctx, session, workspaceID)
		s.respond(w, r, http.StatusOK, payload, err)
	case len(rest) == 1 && r.Method == http.MethodPatch:
		var body struct {
			Name string `json:"name"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		payload, err := s.service.RenameWorkspace(ctx, session, workspaceID, body.Name)
		s.respond(w, r, http.StatusOK, payload, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		err := s.service.DeleteWorkspace(ctx, session, workspaceID)
		s.respond(w, r, http.StatusOK, map[string]any{"ok": true}, err)

	case len(rest) == 2 && rest[1] == "members" && r.Method == http.MethodGet:
		members, err := s.service.ListMembers(ctx, session, workspaceID)
		s.respond(w, r, http.StatusOK, map[string]any{"members": members}, err)
	case len(rest) == 2 && rest[1] == "members" && r.Method == http.MethodPost:
		var body struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		payload, err := s.service.AddMember(ctx, session, workspaceID, body.Email, body.Role)
		s.respond(w, r, http.StatusCreated, payload, err)
	case len(rest) == 3 && rest[1] == "members" && r.Method == http.MethodPatch:
		var body struct {
			Role string `json:"role"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		err := s.service.UpdateMemberRole(ctx, session, workspaceID, rest[2], body.Role)
		s.respond(w, r, http.StatusOK, map[string]any{"ok": true, "userId": rest[2], "role": body.Role}, err)
	case len(rest) == 3 && rest[1] == "members" && r.Method == http.MethodDelete:
		err := s.service.RemoveMember(ctx, session, workspaceID, rest[2])
		s.respond(w, r, http.StatusOK, map[string]any{"ok": true}, err)

	case len(rest) == 2 && rest[1] == "boards" && r.Method == http.MethodGet:
		boards, err := s.service.ListBoards(ctx, session, workspaceID)
		s.respond(w, r, http.StatusOK, map[string]any{"boards": boards}, err)
	case len(rest) == 2 && rest[1] == "boards" && r.Method == http.MethodPost:
		var body struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		payload, err := s.service.CreateBoard(ctx, session, workspaceID, body.Title, body.Description)
		s.respond(w, r, http.StatusCreated, payload, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleBoards(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if len(rest) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	ctx := r.Context()
	boardID := rest[0]
	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetBoard(ctx, session, boardID)
			s.respond(w, r, http.StatusOK, payload, err)
		case http.MethodPatch:
			var patch BoardPatch
			if !s.decode(w, r, &patch) {
				return
			}
			payload, err := s.service.UpdateBoard(ctx, session, boardID, patch)
			s.respond(w, r, http.StatusOK, payload, err)
		case http.MethodDelete:
			err := s.service.DeleteBoard(ctx, session, boardID)
			s.respond(w, r, http.StatusOK, map[string]any{"ok": true}, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch {
	case len(rest) == 2 && rest[1] == "lists" && r.Method == http.MethodPost:
		var body struct {
			Title    string `json:"title"`
			Position *int   `json:"position"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		payload, err := s.service.CreateList(ctx, session, boardID, body.Title, body.Position)
		s.respond(w, r, http.StatusCreated, payload, err)

	case len(rest) == 2 && rest[1] == "tags" && r.Method == http.MethodGet:
		tags, err := s.service.ListTags(ctx, session, boardID)
		s.respond(w, r, http.StatusOK, map[string]any{"tags": tags}, err)
	case len(rest) == 2 && rest[1] == "tags" && r.Method == http.MethodPost:
		var body struct {
			Name  string `json:"name"`
			Color string `json:"color"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		payload, err := s.service.CreateTag(ctx, session, boardID, body.Name, body.Color)
		s.respond(w, r, http.StatusCreated, payload, err)
	case len(rest) == 3 && rest[1] == "tags" && r.Method == http.MethodDelete:
		err := s.service.DeleteTag(ctx, session, boardID, rest[2])
		s.respond(w, r, http.StatusOK, map[string]any{"ok": true}, err)

	case len(rest) == 2 && rest[1] == "cover" && (r.Method == http.MethodPut || r.Method == http.MethodPost):
		data, err := readUpload(w, r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		payload, err := s.service.UploadCover(ctx, session, boardID, data)
		s.respond(w, r, http.StatusOK, payload, err)

	case len(rest) == 2 && rest[1] == "export" && r.Method == http.MethodGet:
		format := export.Format(strings.ToLower(r.URL.Query().Get("format")))
		if format == "" {
			format = export.FormatPDF
		}
		result, err := s.service.ExportBoard(ctx, session, boardID, format)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)

	case len(rest) == 2 && rest[1] == "history" && r.Method == http.MethodGet:
		query := r.URL.Query()
		if query.Get("from") != "" || query.Get("to") != "" {
			changes, err := s.service.CompareHistory(ctx, session, boardID, query.Get("from"), query.Get("to"))
			s.respond(w, r, http.StatusOK, map[string]any{"changes": changes}, err)
			return
		}
		commits, err := s.service.BoardHistory(ctx, session, boardID, queryInt(r, "limit", 0))
		s.respond(w, r, http.StatusOK, map[string]any{"commits": commits}, err)

	case len(rest) == 2 && rest[1] == "events" && r.Method == http.MethodGet:
		events, err := s.service.BoardEvents(ctx, session, boardID, queryInt(r, "limit", 0))
		s.respond(w, r, http.StatusOK, map[string]any{"events": events}, err)

	case len(rest) == 2 && rest[1] == "drops" && r.Method == http.MethodPost:
		var env DropEnvelope
		if !s.decode(w, r, &env) {
			return
		}
		req, err := DecodeDrop(boardID, env)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		payload, err := s.service.ApplyDrop(ctx, session, boardID, req)
		s.respond(w, r, http.StatusOK, payload, err)

	case len(rest) == 2 && rest[1] == "repair" && (r.Method == http.MethodGet || r.Method == http.MethodPost):
		payload, err := s.service.RepairBoard(ctx, session, boardID, r.Method == http.MethodGet)
		s.respond(w, r, http.StatusOK, payload, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

type positionBody struct {
	Position *int   `json:"position"`
	ListID   string `json:"listId"`
}

func (s *HTTPServer) handleLists(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if len(rest) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	ctx := r.Context()
	listID := rest[0]
	switch {
	case len(rest) == 1 && r.Method == http.MethodPatch:
		var body struct {
			Title string `json:"title"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		payload, err := s.service.RenameList(ctx, session, listID, body.Title)
		s.respond(w, r, http.StatusOK, payload, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		payload, err := s.service.DeleteList(ctx, session, listID)
		s.respond(w, r, http.StatusOK, payload, err)
	case len(rest) == 2 && rest[1] == "move" && r.Method == http.MethodPost:
		var body positionBody
		if !s.decode(w, r, &body) {
			return
		}
		if body.Position == nil {
			s.fail(w, r, validationError("position is required"))
			return
		}
		payload, err := s.service.MoveList(ctx, session, listID, *body.Position)
		s.respond(w, r, http.StatusOK, payload, err)
	case len(rest) == 2 && rest[1] == "tasks" && r.Method == http.MethodPost:
		var input TaskInput
		if !s.decode(w, r, &input) {
			return
		}
		payload, err := s.service.CreateTask(ctx, session, listID, input)
		s.respond(w, r, http.StatusCreated, payload, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if len(rest) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	ctx := r.Context()
	taskID := rest[0]
	switch {
	case len(rest) == 1 && r.Method == http.MethodGet:
		payload, err := s.service.GetTask(ctx, session, taskID)
		s.respond(w, r, http.StatusOK, payload, err)
	case len(rest) == 1 && r.Method == http.MethodPatch:
		var patch TaskPatch
		if !s.decode(w, r, &patch) {
			return
		}
		payload, err := s.service.UpdateTask(ctx, session, taskID, patch)
		s.respond(w, r, http.StatusOK, payload, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		payload, err := s.service.DeleteTask(ctx, session, taskID)
		s.respond(w, r, http.StatusOK, payload, err)
	case len(rest) == 2 && rest[1] == "move" && r.Method == http.MethodPost:
		var body positionBody
		if !s.decode(w, r, &body) {
			return
		}
		if body.Position == nil {
			s.fail(w, r, validationError("position is required"))
			return
		}
		payload, err := s.service.MoveTask(ctx, session, taskID, *body.Position)
		s.respond(w, r, http.StatusOK, payload, err)
	case len(rest) == 2 && rest[1] == "transfer" && r.Method == http.MethodPost:
		var body positionBody
		if !s.decode(w, r, &body) {
			return
		}
		if body.ListID == "" {
			s.fail(w, r, validationError("listId is required"))
			return
		}
		position := 0
		if body.Position != nil {
			position = *body.Position
		}
		payload, err := s.service.TransferTask(ctx, session, taskID, body.ListID, position)
		s.respond(w, r, http.StatusOK, payload, err)
	case len(rest) == 3 && rest[1] == "tags" && (r.Method == http.MethodPut || r.Method == http.MethodDelete):
		payload, err := s.service.SetTaskTag(ctx, session, taskID, rest[2], r.Method == http.MethodPut)
		s.respond(w, r, http.StatusOK, payload, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if len(rest) != 0 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	query := r.URL.Query()
	resp, err := s.service.Search(r.Context(), session, query.Get("q"), query.Get("type"), queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	s.respond(w, r, http.StatusOK, resp, err)
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
		s.log.Error("session lookup failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = randomRequestID()
		}
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", id)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		s.log.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Duration("duration", time.Since(started)),
		)
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

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
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
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// readUpload returns an image sent either as the "file" part of a multipart
// form or as the raw request body.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxImageBytes+1<<20)
	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				return nil, media.ErrTooLarge
			}
			return nil, validationError("multipart upload needs a file field")
		}
		defer file.Close()
		src = file
	}
	data, err := io.ReadAll(io.LimitReader(src, media.MaxImageBytes+1))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, media.ErrTooLarge
		}
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}

func bearerToken(r *http.Request) string {
	return auth.BearerToken(strings.TrimSpace(r.Header.Get("Authorization")))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
