package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"imageprocessor/models"
)

const createSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	price         NUMERIC(6,2) NOT NULL,
	source_ref    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS variants (
	task_id      TEXT NOT NULL REFERENCES tasks(id),
	resolution   TEXT NOT NULL,
	path         TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	size_bytes   BIGINT NOT NULL,
	width        INT NOT NULL,
	height       INT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (task_id, resolution)
);`

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*PostgresRepo, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresRepo{pool: pool}, nil
}

func (r *PostgresRepo) CreateTask(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (id, status, price, source_ref, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		task.ID,
		task.Status,
		task.Price,
		task.SourceRef,
		task.ErrorMessage,
		task.CreatedAt,
		task.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) GetTask(ctx context.Context, id string) (*models.Task, error) {
	query := `
		SELECT id, status, price, source_ref, error_message, created_at, updated_at, completed_at
		FROM tasks
		WHERE id = $1
	`
	row := r.pool.QueryRow(ctx, query, id)

	var task models.Task
	err := row.Scan(
		&task.ID,
		&task.Status,
		&task.Price,
		&task.SourceRef,
		&task.ErrorMessage,
		&task.CreatedAt,
		&task.UpdatedAt,
		&task.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

func (r *PostgresRepo) SetSourceRef(ctx context.Context, id string, sourceRef string) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE tasks SET source_ref = $1, updated_at = NOW() WHERE id = $2`,
		sourceRef, id,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *PostgresRepo) CompleteTask(ctx context.Context, id string, variants []models.Variant) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, v := range variants {
		_, err := tx.Exec(ctx, `
			INSERT INTO variants (task_id, resolution, path, content_hash, size_bytes, width, height, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			ON CONFLICT (task_id, resolution) DO UPDATE
			SET path = EXCLUDED.path, content_hash = EXCLUDED.content_hash,
			    size_bytes = EXCLUDED.size_bytes, width = EXCLUDED.width, height = EXCLUDED.height
		`, id, v.Resolution, v.Path, v.ContentHash, v.Size, v.Width, v.Height)
		if err != nil {
			return err
		}
	}

	result, err := tx.Exec(ctx, `
		UPDATE tasks SET status = $1, updated_at = NOW(), completed_at = NOW()
		WHERE id = $2 AND status = $3
	`, models.StatusCompleted, id, models.StatusPending)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotPending
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepo) FailTask(ctx context.Context, id string, errMsg string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, error_message = $2, updated_at = NOW(), completed_at = NOW()
		WHERE id = $3 AND status = $4
	`, models.StatusFailed, errMsg, id, models.StatusPending)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

func (r *PostgresRepo) ListVariants(ctx context.Context, taskID string) ([]models.Variant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT task_id, resolution, path, content_hash, size_bytes, width, height, created_at
		FROM variants
		WHERE task_id = $1
		ORDER BY width DESC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var variants []models.Variant
	for rows.Next() {
		var v models.Variant
		if err := rows.Scan(&v.TaskID, &v.Resolution, &v.Path, &v.ContentHash, &v.Size, &v.Width, &v.Height, &v.CreatedAt); err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

func (r *PostgresRepo) Close() error {
	r.pool.Close()
	return nil
}
