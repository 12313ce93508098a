package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mwantia/tbf"
)

func (pb *PostgresBackend) AddFile(ctx context.Context, data []byte, tags []tbf.Tag) (tbf.FileId, error) {
	if err := pb.opts.CheckSize(data); err != nil {
		return 0, err
	}
	if err := tbf.ValidateTags(tags); err != nil {
		return 0, err
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()

	if err := pb.usable(); err != nil {
		return 0, err
	}

	tx, err := pb.pool.Begin(ctx)
	if err != nil {
		return 0, tbf.Source("begin", err)
	}
	defer tx.Rollback(ctx)

	// The row lock on tbf_state serializes allocation across processes
	var next int64
	if err := tx.QueryRow(ctx,
		"UPDATE tbf_state SET value = value + 1 WHERE key = 'next_id' RETURNING value - 1",
	).Scan(&next); err != nil {
		return 0, fmt.Errorf("%w: allocating id: %w", tbf.ErrState, err)
	}
	if next < int64(tbf.FirstFileId) {
		return 0, fmt.Errorf("%w: counter %d lies in the reserved range", tbf.ErrState, next)
	}

	now := time.Now().Unix()
	dataID, err := insertData(ctx, tx, data, now)
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO tbf_files (id, data_id, create_time, modify_time)
		VALUES ($1, $2, $3, $4)
	`, next, dataID, now, now); err != nil {
		return 0, tbf.Source("insert file", err)
	}

	if err := insertTags(ctx, tx, next, tags); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, tbf.Source("commit", err)
	}

	id := tbf.FileId(next)
	pb.files.Insert(id)

	pb.log.Debug("Added file %s with %d bytes and %d tags", id, len(data), len(tags))
	return id, nil
}

func (pb *PostgresBackend) EditFile(ctx context.Context, id tbf.FileId, update *tbf.FileUpdate) error {
	if update.HasData() {
		if err := pb.opts.CheckSize(update.Data); err != nil {
			return err
		}
	}
	if update.HasTags() {
		if err := tbf.ValidateTags(update.Tags); err != nil {
			return err
		}
	}

	pb.mu.RLock()
	defer pb.mu.RUnlock()

	if err := pb.usable(); err != nil {
		return err
	}

	row, err := toRow(id)
	if err != nil {
		return err
	}

	tx, err := pb.pool.Begin(ctx)
	if err != nil {
		return tbf.Source("begin", err)
	}
	defer tx.Rollback(ctx)

	var oldID string
	if err := tx.QueryRow(ctx, "SELECT data_id FROM tbf_files WHERE id = $1 FOR UPDATE", row).Scan(&oldID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tbf.FileNotFound(id)
		}
		return tbf.Source("read file", err)
	}

	now := time.Now().Unix()
	if update.HasData() {
		dataID, err := insertData(ctx, tx, update.Data, now)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, "UPDATE tbf_files SET data_id = $1 WHERE id = $2", dataID, row); err != nil {
			return tbf.Source("update file", err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM tbf_data WHERE id = $1", oldID); err != nil {
			return tbf.Source("delete data", err)
		}
	}

	if update.HasTags() {
		if _, err := tx.Exec(ctx, "DELETE FROM tbf_tags WHERE file_id = $1", row); err != nil {
			return tbf.Source("delete tags", err)
		}
		if err := insertTags(ctx, tx, row, update.Tags); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, "UPDATE tbf_files SET modify_time = $1 WHERE id = $2", now, row); err != nil {
		return tbf.Source("update file", err)
	}

	return tbf.Source("commit", tx.Commit(ctx))
}

// RemoveFile deletes a file with its content and tags. Unknown IDs are ignored.
func (pb *PostgresBackend) RemoveFile(ctx context.Context, id tbf.FileId) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if err := pb.usable(); err != nil {
		return err
	}

	row, err := toRow(id)
	if err != nil {
		return err
	}

	tx, err := pb.pool.Begin(ctx)
	if err != nil {
		return tbf.Source("begin", err)
	}
	defer tx.Rollback(ctx)

	var dataID string
	err = tx.QueryRow(ctx, "DELETE FROM tbf_files WHERE id = $1 RETURNING data_id", row).Scan(&dataID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		pb.files.Delete(id)
		return nil
	case err != nil:
		return tbf.Source("remove", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM tbf_data WHERE id = $1", dataID); err != nil {
		return tbf.Source("remove", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return tbf.Source("commit", err)
	}

	pb.files.Delete(id)
	return nil
}

// SearchTags loads the tags of every file ordered by ID and evaluates the pattern per file.
func (pb *PostgresBackend) SearchTags(ctx context.Context, pattern tbf.TagPattern) ([]tbf.FileId, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	if err := pb.usable(); err != nil {
		return nil, err
	}

	rows, err := pb.pool.Query(ctx, `
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
			custom *bool
			group  *string
			name   *string
		)
		if err := rows.Scan(&id, &custom, &group, &name); err != nil {
			return nil, tbf.Source("search", err)
		}

		if id != current {
			flush()
			current, tags = id, tags[:0]
		}
		if name != nil && custom != nil && group != nil {
			tags = append(tags, rowTag(*custom, *group, *name))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, tbf.Source("search", err)
	}
	flush()

	return result, nil
}

func (pb *PostgresBackend) GetInfo(ctx context.Context, id tbf.FileId) (*tbf.FileInfo, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	if err := pb.usable(); err != nil {
		return nil, err
	}

	row, err := toRow(id)
	if err != nil {
		return nil, err
	}

	var content []byte
	err = pb.pool.QueryRow(ctx, `
		SELECT d.content FROM tbf_files f JOIN tbf_data d ON d.id = f.data_id
		WHERE f.id = $1
	`, row).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tbf.FileNotFound(id)
		}
		return nil, tbf.Source("read data", err)
	}

	rows, err := pb.pool.Query(ctx, "SELECT custom, grp, name FROM tbf_tags WHERE file_id = $1", row)
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

// Known reports whether this instance has seen id as live.
func (pb *PostgresBackend) Known(id tbf.FileId) bool {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	return pb.files.Contains(id)
}

func insertData(ctx context.Context, tx pgx.Tx, data []byte, now int64) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	if data == nil {
		data = []byte{}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO tbf_data (id, content, size, created_at)
		VALUES ($1, $2, $3, $4)
	`, id, data, len(data), now); err != nil {
		return "", tbf.Source("insert data", err)
	}

	return id, nil
}

func insertTags(ctx context.Context, tx pgx.Tx, fileID int64, tags []tbf.Tag) error {
	for _, tag := range tags {
		group := tag.Group()
		if _, err := tx.Exec(ctx, `
			INSERT INTO tbf_tags (file_id, custom, grp, name)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING
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
