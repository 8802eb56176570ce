package app

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"kanban/api/internal/rbac"
	"kanban/api/internal/store"
	"kanban/api/internal/util"
)

func workspaceView(ws store.Workspace, role rbac.Role) map[string]any {
	return map[string]any{
		"id":        ws.ID,
		"name":      ws.Name,
		"createdBy": ws.CreatedBy,
		"role":      role,
		"createdAt": ws.CreatedAt,
		"updatedAt": ws.UpdatedAt,
	}
}

func memberView(m store.Member) map[string]any {
	return map[string]any{
		"userId":      m.UserID,
		"displayName": m.DisplayName,
		"email":       m.Email,
		"role":        rbac.Normalize(m.Role),
		"joinedAt":    m.CreatedAt,
	}
}

func (s *Service) CreateWorkspace(ctx context.Context, session Session, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required")
	}
	ws := store.Workspace{ID: util.NewID("ws"), Name: name, CreatedBy: session.UserID}
	if err := s.store.CreateWorkspace(ctx, ws); err != nil {
		return nil, err
	}
	created, err := s.store.GetWorkspace(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	return workspaceView(created, rbac.RoleOwner), nil
}

func (s *Service) ListWorkspaces(ctx context.Context, session Session) ([]map[string]any, error) {
	workspaces, err := s.store.ListWorkspacesForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(workspaces))
	for _, ws := range workspaces {
		out = append(out, workspaceView(ws, rbac.Normalize(ws.Role)))
	}
	return out, nil
}

func (s *Service) GetWorkspace(ctx context.Context, session Session, workspaceID string) (map[string]any, error) {
	role, err := s.authorize(ctx, session, workspaceID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	boards, err := s.ListBoards(ctx, session, workspaceID)
	if err != nil {
		return nil, err
	}
	payload := workspaceView(ws, role)
	payload["boards"] = boards
	return payload, nil
}

func (s *Service) RenameWorkspace(ctx context.Context, session Session, workspaceID, name string) (map[string]any, error) {
	role, err := s.authorize(ctx, session, workspaceID, rbac.ActionManage)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required")
	}
	if err := s.store.RenameWorkspace(ctx, workspaceID, name); err != nil {
		return nil, err
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return workspaceView(ws, role), nil
}

// DeleteWorkspace removes the workspace with its boards, then drops their
// search documents and history repositories.
func (s *Service) DeleteWorkspace(ctx context.Context, session Session, workspaceID string) error {
	if _, err := s.authorize(ctx, session, workspaceID, rbac.ActionAdmin); err != nil {
		return err
	}
	boards, err := s.store.ListBoards(ctx, workspaceID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteWorkspace(ctx, workspaceID); err != nil {
		return err
	}
	for _, b := range boards {
		s.forgetBoard(ctx, b)
	}
	return nil
}

func (s *Service) ListMembers(ctx context.Context, session Session, workspaceID string) ([]map[string]any, error) {
	if _, err := s.authorize(ctx, session, workspaceID, rbac.ActionRead); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(members))
	for _, m := range members {
		out = append(out, memberView(m))
	}
	return out, nil
}

// AddMember adds an existing account by email. The caller must outrank the
// role being granted.
func (s *Service) AddMember(ctx context.Context, session Session, workspaceID, email, role string) (map[string]any, error) {
	callerRole, err := s.authorize(ctx, session, workspaceID, rbac.ActionManage)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = string(rbac.RoleEditor)
	}
	if !rbac.Valid(role) {
		return nil, validationError("role must be one of owner, admin, editor, viewer")
	}
	if !rbac.Outranks(callerRole, rbac.Role(role)) {
		return nil, forbidden()
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, domainError(http.StatusNotFound, "USER_NOT_FOUND", "No account uses that email", nil)
		}
		return nil, err
	}
	if _, err := s.store.GetMemberRole(ctx, workspaceID, user.ID); err == nil {
		return nil, domainError(http.StatusConflict, "ALREADY_MEMBER", "That user is already a member", nil)
	} else if !store.IsNotFound(err) {
		return nil, err
	}
	if err := s.store.AddMember(ctx, workspaceID, user.ID, role); err != nil {
		return nil, err
	}

	if s.mailConfigured() {
		ws, err := s.store.GetWorkspace(ctx, workspaceID)
		if err == nil {
			err = s.mail.SendInvitationEmail(user.Email, user.DisplayName, session.UserName, ws.Name, s.appLink("/workspaces/"+workspaceID, nil))
		}
		if err != nil {
			s.log.Warn("invitation email failed", zap.String("workspace_id", workspaceID), zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	return memberView(store.Member{
		WorkspaceID: workspaceID,
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		Role:        role,
		CreatedAt:   s.now(),
	}), nil
}

func (s *Service) UpdateMemberRole(ctx context.Context, session Session, workspaceID, userID, role string) error {
	callerRole, err := s.authorize(ctx, session, workspaceID, rbac.ActionManage)
	if err != nil {
		return err
	}
	if !rbac.Valid(role) {
		return validationError("role must be one of owner, admin, editor, viewer")
	}
	current, err := s.store.GetMemberRole(ctx, workspaceID, userID)
	if err != nil {
		if store.IsNotFound(err) {
			return notFound("Member")
		}
		return err
	}
	if !rbac.Outranks(callerRole, rbac.Normalize(current)) || !rbac.Outranks(callerRole, rbac.Role(role)) {
		return forbidden()
	}
	return s.store.UpdateMemberRole(ctx, workspaceID, userID, role)
}

// RemoveMember removes userID. Anyone may leave; removing someone else needs
// manage rights over their role.
func (s *Service) RemoveMember(ctx context.Context, session Session, workspaceID, userID string) error {
	action := rbac.ActionManage
	if userID == session.UserID {
		action = rbac.ActionRead
	}
	callerRole, err := s.authorize(ctx, session, workspaceID, action)
	if err != nil {
		return err
	}
	current, err := s.store.GetMemberRole(ctx, workspaceID, userID)
	if err != nil {
		if store.IsNotFound(err) {
			return notFound("Member")
		}
		return err
	}
	if userID != session.UserID && !rbac.Outranks(callerRole, rbac.Normalize(current)) {
		return forbidden()
	}
	return s.store.RemoveMember(ctx, workspaceID, userID)
}
