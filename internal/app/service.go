package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"kanban/api/internal/auth"
	"kanban/api/internal/authpw"
	"kanban/api/internal/config"
	"kanban/api/internal/export"
	"kanban/api/internal/history"
	"kanban/api/internal/logging"
	"kanban/api/internal/media"
	"kanban/api/internal/rbac"
	"kanban/api/internal/search"
	"kanban/api/internal/store"
	"kanban/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	authpw.UserStore
	tokenStore
	Ping(ctx context.Context) error
	UpdateUserProfile(ctx context.Context, userID, displayName string) error
	SetUserAvatar(ctx context.Context, userID, objectKey string) error

	CreateWorkspace(ctx context.Context, ws store.Workspace) error
	GetWorkspace(ctx context.Context, workspaceID string) (store.Workspace, error)
	ListWorkspacesForUser(ctx context.Context, userID string) ([]store.Workspace, error)
	RenameWorkspace(ctx context.Context, workspaceID, name string) error
	DeleteWorkspace(ctx context.Context, workspaceID string) error
	GetMemberRole(ctx context.Context, workspaceID, userID string) (string, error)
	ListMembers(ctx context.Context, workspaceID string) ([]store.Member, error)
	AddMember(ctx context.Context, workspaceID, userID, role string) error
	UpdateMemberRole(ctx context.Context, workspaceID, userID, role string) error
	RemoveMember(ctx context.Context, workspaceID, userID string) error

	CreateBoard(ctx context.Context, board store.Board) error
	GetBoard(ctx context.Context, boardID string) (store.Board, error)
	ListBoards(ctx context.Context, workspaceID string) ([]store.Board, error)
	UpdateBoard(ctx context.Context, boardID, title, description string) error
	SetBoardCover(ctx context.Context, boardID, objectKey string) error
	DeleteBoard(ctx context.Context, boardID string) error

	GetList(ctx context.Context, listID string) (store.BoardList, error)
	ListLists(ctx context.Context, boardID string) ([]store.BoardList, error)
	RenameList(ctx context.Context, listID, title string) error
	GetTask(ctx context.Context, taskID string) (store.Task, error)
	ListTasks(ctx context.Context, listID string) ([]store.Task, error)
	ListBoardTasks(ctx context.Context, boardID string) ([]store.Task, error)
	UpdateTask(ctx context.Context, taskID string, patch store.TaskPatch) error

	ReorderLists(ctx context.Context, boardID string, act store.Activity, plan store.ListPlanner) (store.PlanResult[store.BoardList], error)
	ReorderTasks(ctx context.Context, listID string, act store.Activity, plan store.TaskPlanner) (store.PlanResult[store.Task], error)
	TransferTask(ctx context.Context, taskID, toListID string, act store.Activity, plan store.TransferPlanner) (store.TransferResult, error)
	VerifyBoard(ctx context.Context, boardID string) ([]store.DensityIssue, error)
	RepairBoard(ctx context.Context, boardID, actorID string) (int, error)
	RecordEvent(ctx context.Context, boardID string, act store.Activity) error
	ListEvents(ctx context.Context, boardID string, limit int) ([]store.BoardEvent, error)

	CreateTag(ctx context.Context, tag store.Tag) error
	GetTag(ctx context.Context, tagID string) (store.Tag, error)
	ListTags(ctx context.Context, boardID string) ([]store.Tag, error)
	DeleteTag(ctx context.Context, tagID string) error
	AttachTag(ctx context.Context, taskID, tagID string) error
	DetachTag(ctx context.Context, taskID, tagID string) error
}

// tokenStore holds refresh sessions and the access token denylist. Redis when
// configured, otherwise the data store.
type tokenStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type userSessionRevoker interface {
	RevokeUserSessions(ctx context.Context, userID string) error
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexBoard(b search.BoardRecord)
	IndexTask(t search.TaskRecord)
	DeleteBoard(id string)
	DeleteTask(id string)
}

type mediaStore interface {
	Put(ctx context.Context, kind media.Kind, ownerID string, data []byte) (string, error)
	URL(ctx context.Context, key string) (string, error)
	Remove(ctx context.Context, key string)
}

type boardExporter interface {
	Export(ctx context.Context, b export.Board, format export.Format) (*export.Result, error)
}

type historyStore interface {
	Record(boardID string, snap history.Snapshot, author, message string) (history.Commit, bool, error)
	History(boardID string, limit int) ([]history.Commit, error)
	Snapshot(boardID, hash string) (history.Snapshot, error)
	Remove(boardID string) error
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendInvitationEmail(to, userName, inviter, workspaceName, workspaceURL string) error
}

// Deps are the collaborators of a Service. Only Store is required; a nil
// Tokens falls back to Store and the other features are disabled when unset.
type Deps struct {
	Store      dataStore
	Tokens     tokenStore
	Search     searchIndex
	Media      mediaStore
	Export     boardExporter
	History    historyStore
	Mail       mailer
	Logger     *zap.Logger
	BcryptCost int
}

type Service struct {
	cfg     config.Config
	store   dataStore
	tokens  tokenStore
	auth    *authpw.Service
	search  searchIndex
	media   mediaStore
	export  boardExporter
	history historyStore
	mail    mailer
	log     *zap.Logger
	now     func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	tokens := deps.Tokens
	if tokens == nil {
		tokens = deps.Store
	}
	return &Service{
		cfg:     cfg,
		store:   deps.Store,
		tokens:  tokens,
		auth:    authpw.NewService(deps.Store, deps.BcryptCost),
		search:  deps.Search,
		media:   deps.Media,
		export:  deps.Export,
		history: deps.History,
		mail:    deps.Mail,
		log:     logging.OrNop(deps.Logger),
		now:     time.Now,
	}
}

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) mailConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

func (s *Service) appLink(path string, query url.Values) string {
	link := s.cfg.AppURL + path
	if len(query) > 0 {
		link += "?" + query.Encode()
	}
	return link
}

// Accounts

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (map[string]any, error) {
	resp, err := s.auth.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, DisplayName: displayName})
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"userId":  resp.User.ID,
		"message": "Please check your email to verify your account",
	}
	if !s.mailConfigured() {
		payload["devVerificationToken"] = resp.VerificationToken
		payload["message"] = "Account created. Verify your email to continue."
		return payload, nil
	}
	link := s.appLink("/verify-email", url.Values{"token": {resp.VerificationToken}})
	if err := s.mail.SendVerificationEmail(resp.User.Email, resp.User.DisplayName, link); err != nil {
		s.log.Warn("verification email failed", zap.String("user_id", resp.User.ID), zap.Error(err))
	}
	return payload, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	return s.auth.VerifyEmail(ctx, token)
}

func (s *Service) ResendVerification(ctx context.Context, email string) (map[string]any, error) {
	user, token, err := s.auth.ResendVerification(ctx, email)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"message": "If the address needs verification, a new link is on its way"}
	if token == "" {
		return payload, nil
	}
	if !s.mailConfigured() {
		payload["devVerificationToken"] = token
		return payload, nil
	}
	link := s.appLink("/verify-email", url.Values{"token": {token}})
	if err := s.mail.SendVerificationEmail(user.Email, user.DisplayName, link); err != nil {
		s.log.Warn("verification email failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	return payload, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) RequestPasswordReset(ctx context.Context, email string) (map[string]any, error) {
	user, token, err := s.auth.RequestPasswordReset(ctx, email)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"message": "If an account exists, a reset link has been sent"}
	if token == "" {
		return payload, nil
	}
	if !s.mailConfigured() {
		payload["devResetToken"] = token
		return payload, nil
	}
	link := s.appLink("/reset-password", url.Values{"token": {token}})
	if err := s.mail.SendPasswordResetEmail(user.Email, user.DisplayName, link); err != nil {
		s.log.Warn("password reset email failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	return payload, nil
}

// ResetPassword sets the new password and signs the user out everywhere the
// token store allows it.
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	userID, err := s.auth.ResetPassword(ctx, token, password)
	if err != nil {
		return err
	}
	if revoker, ok := s.tokens.(userSessionRevoker); ok {
		if err := revoker.RevokeUserSessions(ctx, userID); err != nil {
			s.log.Warn("revoke sessions after reset failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// Sessions

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.tokens.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, fmt.Errorf("%w: refresh session: %v", auth.ErrInvalidToken, err)
	}
	if err := s.tokens.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.NewID("jti")
	token, expiresAt, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, user.Email, jti, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	if err := s.tokens.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, s.now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.tokens.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if store.IsNotFound(err) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout is best effort: failures are logged and the client drops its tokens
// either way.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) {
	if session.JTI != "" {
		if err := s.tokens.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.log.Warn("revoke access token failed", zap.String("user_id", session.UserID), zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.tokens.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.log.Warn("revoke refresh session failed", zap.Error(err))
		}
	}
}

// Profile

func (s *Service) Me(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return s.userView(ctx, user), nil
}

func (s *Service) UpdateProfile(ctx context.Context, session Session, displayName string) (map[string]any, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return nil, validationError("displayName is required")
	}
	if err := s.store.UpdateUserProfile(ctx, session.UserID, name); err != nil {
		return nil, err
	}
	return s.Me(ctx, session)
}

func (s *Service) UploadAvatar(ctx context.Context, session Session, data []byte) (map[string]any, error) {
	if s.media == nil {
		return nil, mediaUnavailable()
	}
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	key, err := s.media.Put(ctx, media.KindAvatar, user.ID, data)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetUserAvatar(ctx, user.ID, key); err != nil {
		s.media.Remove(ctx, key)
		return nil, err
	}
	s.media.Remove(ctx, user.AvatarKey)
	user.AvatarKey = key
	return s.userView(ctx, user), nil
}

func mediaUnavailable() *DomainError {
	return domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Image uploads are not configured", nil)
}

// mediaURL presigns key, returning nil when there is nothing to show.
func (s *Service) mediaURL(ctx context.Context, key string) any {
	if key == "" || s.media == nil {
		return nil
	}
	u, err := s.media.URL(ctx, key)
	if err != nil {
		s.log.Warn("presign media failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	return u
}

func (s *Service) userView(ctx context.Context, user store.User) map[string]any {
	return map[string]any{
		"id":            user.ID,
		"displayName":   user.DisplayName,
		"email":         user.Email,
		"emailVerified": user.IsEmailVerified,
		"avatarUrl":     s.mediaURL(ctx, user.AvatarKey),
		"createdAt":     user.CreatedAt,
	}
}

// Authorization

// authorize returns the caller's role in workspaceID when it permits action.
// Non-members get NOT_FOUND so workspace ids are not probeable.
func (s *Service) authorize(ctx context.Context, session Session, workspaceID string, action rbac.Action) (rbac.Role, error) {
	raw, err := s.store.GetMemberRole(ctx, workspaceID, session.UserID)
	if err != nil {
		if store.IsNotFound(err) {
			return "", notFound("Workspace")
		}
		return "", err
	}
	role := rbac.Normalize(raw)
	if !rbac.Can(role, action) {
		return role, forbidden()
	}
	return role, nil
}

func (s *Service) boardFor(ctx context.Context, session Session, boardID string, action rbac.Action) (store.Board, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Board{}, notFound("Board")
		}
		return store.Board{}, err
	}
	if _, err := s.authorize(ctx, session, board.WorkspaceID, action); err != nil {
		var de *DomainError
		if errors.As(err, &de) && de.Status == http.StatusNotFound {
			return store.Board{}, notFound("Board")
		}
		return store.Board{}, err
	}
	return board, nil
}

func (s *Service) listFor(ctx context.Context, session Session, listID string, action rbac.Action) (store.BoardList, store.Board, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.BoardList{}, store.Board{}, notFound("List")
		}
		return store.BoardList{}, store.Board{}, err
	}
	board, err := s.boardFor(ctx, session, list.BoardID, action)
	if err != nil {
		return store.BoardList{}, store.Board{}, err
	}
	return list, board, nil
}

func (s *Service) taskFor(ctx context.Context, session Session, taskID string, action rbac.Action) (store.Task, store.Board, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Task{}, store.Board{}, notFound("Task")
		}
		return store.Task{}, store.Board{}, err
	}
	board, err := s.boardFor(ctx, session, task.BoardID, action)
	if err != nil {
		return store.Task{}, store.Board{}, err
	}
	return task, board, nil
}

func activity(kind string, session Session, extra map[string]any) store.Activity {
	return store.Activity{Kind: kind, ActorID: session.UserID, Extra: extra}
}
