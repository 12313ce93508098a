package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/mwantia/tbf"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (sb *SQLiteBackend) AddFile(ctx context.Context, data []byte, tags []tbf.Tag) (tbf.FileId, error) {
	if err := sb.opts.CheckSize(data); err != nil {
		return 0, err
	}
	if err := tbf.ValidateTags(tags); err != nil {
		return 0, err
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()

	if err := sb.usable(); err != nil {
		return 0, err
	}

	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, tbf.Source("begin", err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx, "SELECT value FROM tbf_state WHERE key = 'next_id'").Scan(&next); err != nil {
		return 0, fmt.Errorf("%w: reading counter: %w", tbf.ErrState, err)
	}
	if next < int64(tbf.FirstFileId) {
		return 0, fmt.Errorf("%w: counter %d lies in the reserved range", tbf.ErrState, next)
	}

	now := time.Now().Unix()
	dataID, err := insertData(ctx, tx, data, now)
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tbf_files (id, data_id, create_time, modify_time)
		VALUES (?, ?, ?, ?)
	`, next, dataID, now, now); err != nil {
		return 0, tbf.Source("insert file", err)
	}

	if err := insertTags(ctx, tx, next, tags); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, "UPDATE tbf_state SET value = ? WHERE key = 'next_id'", next+1); err != nil {
		return 0, tbf.Source("update counter", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, tbf.Source("commit", err)
	}

	id := tbf.FileId(next)
	sb.files.Insert(id)

	sb.log.Debug("Added file %s with %d bytes and %d tags", id, len(data), len(tags))
	return id, nil
}

func (sb *SQLiteBackend) EditFile(ctx context.Context, id tbf.FileId, update *tbf.FileUpdate) error {
	if update.HasData() {
		if err := sb.opts.CheckSize(update.Data); err != nil {
			return err
		}
	}
	if update.HasTags() {
		if err := tbf.ValidateTags(update.Tags); err != nil {
			return err
		}
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()

	if err := sb.usable(); err != nil {
		return err
	}
	if !sb.files.Contains(id) {
		return tbf.FileNotFound(id)
	}

	row, err := toRow(id)
	if err != nil {
		return err
	}

	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return tbf.Source("begin", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	if update.HasData() {
		var oldID string
		if err := tx.QueryRowContext(ctx, "SELECT data_id FROM tbf_files WHERE id = ?", row).Scan(&oldID); err != nil {
			if err == sql.ErrNoRows {
				return tbf.FileNotFound(id)
			}
			return tbf.Source("read file", err)
		}

		dataID, err := insertData(ctx, tx, update.Data, now)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, "UPDATE tbf_files SET data_id = ? WHERE id = ?", dataID, row); err != nil {
			return tbf.Source("update file", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM tbf_data WHERE id = ?", oldID); err != nil {
			return tbf.Source("delete data", err)
		}
	}

	if update.HasTags() {
		if _, err := tx.ExecContext(ctx, "DELETE FROM tbf_tags WHERE file_id = ?", row); err != nil {
			return tbf.Source("delete tags", err)
		}
		if err := insertTags(ctx, tx, row, update.Tags); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, "UPDATE tbf_files SET modify_time = ? WHERE id = ?", now, row); err != nil {
		return tbf.Source("update file", err)
	}

	return tbf.Source("commit", tx.Commit())
}

// RemoveFile deletes a file with its content and tags. Unknown IDs are ignored.
func (sb *SQLiteBackend) RemoveFile(ctx context.Context, id tbf.FileId) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if err := sb.usable(); err != nil {
		return err
	}
	if !sb.files.Contains(id) {
		return nil
	}

	row, err := toRow(id)
	if err != nil {
		return err
	}

	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return tbf.Source("begin", err)
	}
	defer tx.Rollback()

	var dataID string
	err = tx.QueryRowContext(ctx, "SELECT data_id FROM tbf_files WHERE id = ?", row).Scan(&dataID)
	if err != nil && err != sql.ErrNoRows {
		return tbf.Source("read file", err)
	}

	for _, stmt := range []struct {
		query string
		arg   any
	}{
		{"DELETE FROM tbf_tags WHERE file_id = ?", row},
		{"DELETE FROM tbf_files WHERE id = ?", row},
		{"DELETE FROM tbf_data WHERE id = ?", dataID},
	} {
		if _, err := tx.ExecContext(ctx, stmt.query, stmt.arg); err != nil {
			return tbf.Source("remove", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return tbf.Source("commit", err)
	}

	sb.files.Delete(id)
	return nil
}

// SearchTags loads the tags of every file ordered by ID and evaluates the pattern per file.
func (sb *SQLiteBackend) SearchTags(ctx context.Context, pattern tbf.TagPattern) ([]tbf.FileId, error) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	if err := sb.usable(); err != nil {
		return nil, err
	}

	rows, err := sb.db.QueryContext(ctx, `
		SELECT f.id, t.custom, t.grp, t.name
		FROM tbf_files f LEFT JOIN tbf_tags t ON t.file_id = f.id
		ORDER BY f.id
	`)
	if err != nil {
		return nil, tbf.Source("search", err)
	}
	defer rows.Close()

	result := make([]tbf.FileId, 0)
	current, tags := int64(-1), []tbf.Tag{}

	flush := func() {
		if current >= 0 && pattern.MatchTags(slices.Values(tags)) {
			result = append(result, tbf.FileId(current))
		}
	}

	for rows.Next() {
		var (
			id     int64
			custom sql.NullBool
			group  sql.NullString
			name   sql.NullString
		)
		if err := rows.Scan(&id, &custom, &group, &name); err != nil {
			return nil, tbf.Source("search", err)
		}

		if id != current {
			flush()
			current, tags = id, tags[:0]
		}
		if name.Valid {
			tags = append(tags, rowTag(custom.Bool, group.String, name.String))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, tbf.Source("search", err)
	}
	flush()

	return result, nil
}

func (sb *SQLiteBackend) GetInfo(ctx context.Context, id tbf.FileId) (*tbf.FileInfo, error) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	if err := sb.usable(); err != nil {
		return nil, err
	}
	if !sb.files.Contains(id) {
		return nil, tbf.FileNotFound(id)
	}

	row, err := toRow(id)
	if err != nil {
		return nil, err
	}

	var content []byte
	err = sb.db.QueryRowContext(ctx, `
		SELECT d.content FROM tbf_files f JOIN tbf_data d ON d.id = f.data_id
		WHERE f.id = ?
	`, row).Scan(&content)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, tbf.FileNotFound(id)
		}
		return nil, tbf.Source("read data", err)
	}

	rows, err := sb.db.QueryContext(ctx, "SELECT custom, grp, name FROM tbf_tags WHERE file_id = ?", row)
	if err != nil {
		return nil, tbf.Source("read tags", err)
	}
	defer rows.Close()

	var tags []tbf.Tag
	for rows.Next() {
		var (
			custom      bool
			group, name string
		)
		if err := rows.Scan(&custom, &group, &name); err != nil {
			return nil, tbf.Source("read tags", err)
		}
		tags = append(tags, rowTag(custom, group, name))
	}
	if err := rows.Err(); err != nil {
		return nil, tbf.Source("read tags", err)
	}

	return tbf.NewFileInfo(id, content, tags), nil
}

func insertData(ctx context.Context, tx execer, data []byte, now int64) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	if data == nil {
		data = []byte{}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tbf_data (id, content, size, created_at)
		VALUES (?, ?, ?, ?)
	`, id, data, len(data), now); err != nil {
		return "", tbf.Source("insert data", err)
	}

	return id, nil
}

func insertTags(ctx context.Context, tx execer, fileID int64, tags []tbf.Tag) error {
	for _, tag := range tags {
		group := tag.Group()
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO tbf_tags (file_id, custom, grp, name)
			VALUES (?, ?, ?, ?)
		`, fileID, group.IsCustom(), group.Name(), tag.Name()); err != nil {
			return tbf.Source("insert tags", err)
		}
	}

	return nil
}

func rowTag(custom bool, group, name string) tbf.Tag {
	if custom {
		return tbf.NewTag(tbf.CustomGroup(group), name)
	}

	return tbf.DefaultTag(name)
}
