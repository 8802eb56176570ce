package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrLastOwner is returned when a change would leave a workspace without an
// owner.
var ErrLastOwner = errors.New("workspace must keep at least one owner")

// CreateWorkspace inserts the workspace and its creator as owner.
func (s *PostgresStore) CreateWorkspace(ctx context.Context, ws Workspace) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO workspaces (id, name, created_by) VALUES ($1, $2, $3)
		`, ws.ID, ws.Name, ws.CreatedBy); err != nil {
			return fmt.Errorf("insert workspace: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO workspace_members (workspace_id, user_id, role) VALUES ($1, $2, 'owner')
		`, ws.ID, ws.CreatedBy); err != nil {
			return fmt.Errorf("insert workspace owner: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var item Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_by, created_at, updated_at FROM workspaces WHERE id=$1
	`, workspaceID).Scan(&item.ID, &item.Name, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Workspace{}, fmt.Errorf("get workspace: %w", err)
	}
	return item, nil
}

// ListWorkspacesForUser returns the workspaces userID belongs to with the
// user's role filled in.
func (s *PostgresStore) ListWorkspacesForUser(ctx context.Context, userID string) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.name, w.created_by, wm.role, w.created_at, w.updated_at
		FROM workspaces w
		JOIN workspace_members wm ON wm.workspace_id = w.id
		WHERE wm.user_id=$1
		ORDER BY w.name ASC, w.id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	items := make([]Workspace, 0)
	for rows.Next() {
		var item Workspace
		if err := rows.Scan(&item.ID, &item.Name, &item.CreatedBy, &item.Role, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) RenameWorkspace(ctx context.Context, workspaceID, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE workspaces SET name=$2, updated_at=NOW() WHERE id=$1`, workspaceID, name)
	if err != nil {
		return fmt.Errorf("rename workspace: %w", err)
	}
	return requireOneRow(res, "rename workspace")
}

func (s *PostgresStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id=$1`, workspaceID)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return requireOneRow(res, "delete workspace")
}

// GetMemberRole returns the role of userID in workspaceID, or sql.ErrNoRows.
func (s *PostgresStore) GetMemberRole(ctx context.Context, workspaceID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM workspace_members WHERE workspace_id=$1 AND user_id=$2
	`, workspaceID, userID).Scan(&role)
	if err != nil {
		return "", fmt.Errorf("read member role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, workspaceID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wm.workspace_id, u.id, u.display_name, u.email, wm.role, wm.created_at
		FROM workspace_members wm
		JOIN users u ON u.id = wm.user_id
		WHERE wm.workspace_id=$1
		ORDER BY CASE wm.role WHEN 'owner' THEN 0 WHEN 'admin' THEN 1 WHEN 'editor' THEN 2 ELSE 3 END, u.display_name ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]Member, 0)
	for rows.Next() {
		var item Member
		if err := rows.Scan(&item.WorkspaceID, &item.UserID, &item.DisplayName, &item.Email, &item.Role, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AddMember(ctx context.Context, workspaceID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, workspaceID, userID, role)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// UpdateMemberRole changes a role and refuses to demote the last owner.
func (s *PostgresStore) UpdateMemberRole(ctx context.Context, workspaceID, userID, role string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockMember(ctx, tx, workspaceID, userID)
		if err != nil {
			return err
		}
		if current == "owner" && role != "owner" {
			if err := ensureAnotherOwner(ctx, tx, workspaceID, userID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE workspace_members SET role=$3 WHERE workspace_id=$1 AND user_id=$2
		`, workspaceID, userID, role); err != nil {
			return fmt.Errorf("update member role: %w", err)
		}
		return nil
	})
}

// RemoveMember deletes a membership and refuses to remove the last owner.
func (s *PostgresStore) RemoveMember(ctx context.Context, workspaceID, userID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockMember(ctx, tx, workspaceID, userID)
		if err != nil {
			return err
		}
		if current == "owner" {
			if err := ensureAnotherOwner(ctx, tx, workspaceID, userID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM workspace_members WHERE workspace_id=$1 AND user_id=$2
		`, workspaceID, userID); err != nil {
			return fmt.Errorf("remove member: %w", err)
		}
		return nil
	})
}

func lockMember(ctx context.Context, tx *sql.Tx, workspaceID, userID string) (string, error) {
	// Serialize membership changes per workspace.
	if _, err := tx.ExecContext(ctx, `SELECT id FROM workspaces WHERE id=$1 FOR UPDATE`, workspaceID); err != nil {
		return "", fmt.Errorf("lock workspace: %w", err)
	}
	var role string
	err := tx.QueryRowContext(ctx, `
		SELECT role FROM workspace_members WHERE workspace_id=$1 AND user_id=$2
	`, workspaceID, userID).Scan(&role)
	if err != nil {
		return "", fmt.Errorf("read member: %w", err)
	}
	return role, nil
}

func ensureAnotherOwner(ctx context.Context, tx *sql.Tx, workspaceID, userID string) error {
	var others int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM workspace_members
		WHERE workspace_id=$1 AND role='owner' AND user_id<>$2
	`, workspaceID, userID).Scan(&others)
	if err != nil {
		return fmt.Errorf("count owners: %w", err)
	}
	if others == 0 {
		return ErrLastOwner
	}
	return nil
}
