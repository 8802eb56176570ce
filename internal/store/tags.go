package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) CreateTag(ctx context.Context, tag Tag) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (id, board_id, name, color) VALUES ($1, $2, $3, $4)
	`, tag.ID, tag.BoardID, tag.Name, tag.Color)
	if err != nil {
		return fmt.Errorf("insert tag: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTag(ctx context.Context, tagID string) (Tag, error) {
	var item Tag
	err := s.db.QueryRowContext(ctx, `
		SELECT id, board_id, name, color, created_at FROM tags WHERE id=$1
	`, tagID).Scan(&item.ID, &item.BoardID, &item.Name, &item.Color, &item.CreatedAt)
	if err != nil {
		return Tag{}, fmt.Errorf("get tag: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListTags(ctx context.Context, boardID string) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, name, color, created_at FROM tags WHERE board_id=$1 ORDER BY name ASC
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		var item Tag
		if err := rows.Scan(&item.ID, &item.BoardID, &item.Name, &item.Color, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteTag(ctx context.Context, tagID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id=$1`, tagID)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return requireOneRow(res, "delete tag")
}

func (s *PostgresStore) AttachTag(ctx context.Context, taskID, tagID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_tags (task_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING
	`, taskID, tagID)
	if err != nil {
		return fmt.Errorf("attach tag: %w", err)
	}
	return nil
}

func (s *PostgresStore) DetachTag(ctx context.Context, taskID, tagID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM task_tags WHERE task_id=$1 AND tag_id=$2`, taskID, tagID)
	if err != nil {
		return fmt.Errorf("detach tag: %w", err)
	}
	return nil
}
