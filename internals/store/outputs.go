package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/researchd/researchd/internals/schemas"
)

type OutputFile struct {
	ID          string
	SessionID   string
	TaskID      string
	Filename    string
	Filepath    string
	FileType    schemas.FileType
	FileSize    int64
	Title       string
	Description string
	CreatedAt   string
	UpdatedAt   string
}

// InsertOutputFile registers a discovered artifact. (session_id, filepath)
// is unique; inserting a duplicate is an error, callers dedup first via
// ExistingFilepaths.
func (s *Store) InsertOutputFile(ctx context.Context, file *OutputFile) error {
	timestamp := now()
	file.CreatedAt = timestamp
	file.UpdatedAt = timestamp
	_, err := s.db.ExecContext(ctx, `
INSERT INTO output_files (id, session_id, task_id, filename, filepath, file_type, file_size, title, description, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, file.ID, file.SessionID, nullIfEmpty(file.TaskID), file.Filename, file.Filepath,
		file.FileType, file.FileSize, nullIfEmpty(file.Title), nullIfEmpty(file.Description),
		file.CreatedAt, file.UpdatedAt)
	return err
}

func (s *Store) GetOutputFile(ctx context.Context, fileID string) (*OutputFile, error) {
	row := s.db.QueryRowContext(ctx, outputFileSelect+` WHERE id = ?`, fileID)
	return scanOutputFile(row)
}

// ListOutputFiles returns artifacts newest first, optionally filtered by
// session.
func (s *Store) ListOutputFiles(ctx context.Context, sessionID string) ([]OutputFile, error) {
	query := outputFileSelect + ` ORDER BY created_at DESC`
	args := []any{}
	if sessionID != "" {
		query = outputFileSelect + ` WHERE session_id = ? ORDER BY created_at DESC`
		args = append(args, sessionID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []OutputFile
	for rows.Next() {
		file, err := scanOutputFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *file)
	}
	return files, rows.Err()
}

// ExistingFilepaths returns the set of relative paths already tracked for a
// session, the reconciler's dedup key.
func (s *Store) ExistingFilepaths(ctx context.Context, sessionID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT filepath FROM output_files WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make(map[string]struct{})
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths[path] = struct{}{}
	}
	return paths, rows.Err()
}

const outputFileSelect = `
SELECT id, session_id, task_id, filename, filepath, file_type, file_size, title, description, created_at, updated_at
FROM output_files`

func scanOutputFile(row rowScanner) (*OutputFile, error) {
	var file OutputFile
	var taskID, title, description sql.NullString
	var fileType string
	var fileSize sql.NullInt64
	err := row.Scan(
		&file.ID, &file.SessionID, &taskID, &file.Filename, &file.Filepath,
		&fileType, &fileSize, &title, &description, &file.CreatedAt, &file.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	file.TaskID = taskID.String
	file.FileType = schemas.FileType(fileType)
	file.FileSize = fileSize.Int64
	file.Title = title.String
	file.Description = description.String
	return &file, nil
}
