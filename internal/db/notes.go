package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"notiq/internal/models"
)

type NoteRepository struct {
	db *DB
}

func NewNoteRepository(db *DB) *NoteRepository {
	return &NoteRepository{db: db}
}

// NoteFilter narrows List results. Archived defaults to false so archived
// notes only show up when asked for.
type NoteFilter struct {
	Archived bool
	Pinned   *bool
	Search   string
	Tags     []string
}

func (r *NoteRepository) Create(ctx context.Context, userID, title, content string, tags []string, isPinned bool) (*models.Note, error) {
	id, err := GenerateID("nte")
	if err != nil {
		return nil, fmt.Errorf("generating note ID: %w", err)
	}
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting note creation transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO notes (id, user_id, title, content, is_pinned, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, userID, title, content, isPinned, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating note: %w", err)
	}

	if err := replaceTagsTx(ctx, tx, id, tags); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing note creation: %w", err)
	}

	return &models.Note{
		ID:        id,
		UserID:    userID,
		Title:     title,
		Content:   content,
		Tags:      tags,
		IsPinned:  isPinned,
		CreatedAt: now,
	}, nil
}

func (r *NoteRepository) FindByID(ctx context.Context, userID, id string) (*models.Note, error) {
	var n models.Note
	var updatedAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, content, is_pinned, is_archived, created_at, updated_at
		   FROM notes WHERE id = ? AND user_id = ?`,
		id, userID,
	).Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &n.IsPinned, &n.IsArchived, &n.CreatedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying note: %w", err)
	}
	n.UpdatedAt = nullTimeToPtr(updatedAt)

	tags, err := r.tagsForNotes(ctx, []string{n.ID})
	if err != nil {
		return nil, err
	}
	n.Tags = tags[n.ID]
	if n.Tags == nil {
		n.Tags = []string{}
	}

	return &n, nil
}

func (r *NoteRepository) List(ctx context.Context, userID string, filter NoteFilter) ([]*models.Note, error) {
	query := strings.Builder{}
	query.WriteString(
		`SELECT id, user_id, title, content, is_pinned, is_archived, created_at, updated_at
		   FROM notes WHERE user_id = ? AND is_archived = ?`,
	)
	args := []any{userID, filter.Archived}

	if filter.Pinned != nil {
		query.WriteString(` AND is_pinned = ?`)
		args = append(args, *filter.Pinned)
	}
	if filter.Search != "" {
		query.WriteString(` AND (title LIKE ? OR content LIKE ?)`)
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}
	if len(filter.Tags) > 0 {
		query.WriteString(` AND EXISTS (SELECT 1 FROM note_tags WHERE note_tags.note_id = notes.id AND note_tags.tag IN (`)
		query.WriteString(placeholders(len(filter.Tags)))
		query.WriteString(`))`)
		for _, tag := range filter.Tags {
			args = append(args, tag)
		}
	}

	query.WriteString(` ORDER BY is_pinned DESC, COALESCE(updated_at, created_at) DESC`)

	rows, err := r.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying notes: %w", err)
	}
	defer rows.Close()

	var notes []*models.Note
	var ids []string
	for rows.Next() {
		var n models.Note
		var updatedAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &n.IsPinned, &n.IsArchived, &n.CreatedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		n.UpdatedAt = nullTimeToPtr(updatedAt)
		n.Tags = []string{}
		notes = append(notes, &n)
		ids = append(ids, n.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tagsByNote, err := r.tagsForNotes(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, n := range notes {
		if tags, ok := tagsByNote[n.ID]; ok {
			n.Tags = tags
		}
	}

	return notes, nil
}

// Update persists the note's mutable fields and replaces its tag set.
func (r *NoteRepository) Update(ctx context.Context, n *models.Note) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting note update transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE notes SET title = ?, content = ?, is_pinned = ?, is_archived = ?, updated_at = ?
		  WHERE id = ? AND user_id = ?`,
		n.Title, n.Content, n.IsPinned, n.IsArchived, now, n.ID, n.UserID,
	)
	if err != nil {
		return fmt.Errorf("updating note: %w", err)
	}
	if err := checkRowsAffected(result); err != nil {
		return err
	}

	if err := replaceTagsTx(ctx, tx, n.ID, n.Tags); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing note update: %w", err)
	}

	n.UpdatedAt = &now
	return nil
}

func (r *NoteRepository) Delete(ctx context.Context, userID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM notes WHERE id = ? AND user_id = ?`, id, userID,
	)
	if err != nil {
		return fmt.Errorf("deleting note: %w", err)
	}
	return checkRowsAffected(result)
}

// BulkDelete removes the given notes owned by the user and reports how many
// were actually deleted. IDs belonging to other users are ignored.
func (r *NoteRepository) BulkDelete(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, userID)

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM notes WHERE id IN (`+placeholders(len(ids))+`) AND user_id = ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("bulk deleting notes: %w", err)
	}
	return result.RowsAffected()
}

// DistinctTags lists every tag used across the user's non-archived notes.
func (r *NoteRepository) DistinctTags(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT nt.tag
		   FROM note_tags nt
		   JOIN notes n ON n.id = nt.note_id
		  WHERE n.user_id = ? AND n.is_archived = 0
		  ORDER BY nt.tag`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying tags: %w", err)
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (r *NoteRepository) tagsForNotes(ctx context.Context, noteIDs []string) (map[string][]string, error) {
	tagsByNote := make(map[string][]string, len(noteIDs))
	if len(noteIDs) == 0 {
		return tagsByNote, nil
	}

	args := make([]any, 0, len(noteIDs))
	for _, id := range noteIDs {
		args = append(args, id)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT note_id, tag FROM note_tags WHERE note_id IN (`+placeholders(len(noteIDs))+`) ORDER BY tag`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying note tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var noteID, tag string
		if err := rows.Scan(&noteID, &tag); err != nil {
			return nil, fmt.Errorf("scanning note tag: %w", err)
		}
		tagsByNote[noteID] = append(tagsByNote[noteID], tag)
	}
	return tagsByNote, rows.Err()
}

func replaceTagsTx(ctx context.Context, tx *sql.Tx, noteID string, tags []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM note_tags WHERE note_id = ?`, noteID); err != nil {
		return fmt.Errorf("clearing note tags: %w", err)
	}

	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO note_tags (note_id, tag) VALUES (?, ?)`, noteID, tag,
		); err != nil {
			return fmt.Errorf("inserting note tag: %w", err)
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
