package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"imageprocessor/models"
)

const (
	tasksBucket    = "tasks"
	variantsBucket = "variants"
)

// BoltRepo is an embedded store backend. A single bbolt update transaction
// covers the variant writes and the status flip, so a reader never observes
// a completed task without its variants or the other way around.
type BoltRepo struct {
	db *bbolt.DB
}

func NewBolt(path string) (*BoltRepo, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{tasksBucket, variantsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltRepo{db: db}, nil
}

func (r *BoltRepo) CreateTask(_ context.Context, task *models.Task) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		return putTask(tx, task)
	})
}

func (r *BoltRepo) GetTask(_ context.Context, id string) (*models.Task, error) {
	var task *models.Task
	err := r.db.View(func(tx *bbolt.Tx) error {
		var err error
		task, err = getTask(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (r *BoltRepo) SetSourceRef(_ context.Context, id string, sourceRef string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		task, err := getTask(tx, id)
		if err != nil {
			return err
		}
		task.SourceRef = sourceRef
		task.UpdatedAt = time.Now().UTC()
		return putTask(tx, task)
	})
}

func (r *BoltRepo) CompleteTask(_ context.Context, id string, variants []models.Variant) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		task, err := getTask(tx, id)
		if err != nil {
			return err
		}
		if task.Status != models.StatusPending {
			return ErrNotPending
		}

		now := time.Now().UTC()
		rows := make([]models.Variant, len(variants))
		for i, v := range variants {
			v.TaskID = id
			v.CreatedAt = now
			rows[i] = v
		}
		data, err := json.Marshal(rows)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(variantsBucket)).Put([]byte(id), data); err != nil {
			return err
		}

		task.Status = models.StatusCompleted
		task.UpdatedAt = now
		task.CompletedAt = &now
		return putTask(tx, task)
	})
}

func (r *BoltRepo) FailTask(_ context.Context, id string, errMsg string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		task, err := getTask(tx, id)
		if err != nil {
			return err
		}
		if task.Status != models.StatusPending {
			return ErrNotPending
		}
		now := time.Now().UTC()
		task.Status = models.StatusFailed
		task.ErrorMessage = errMsg
		task.UpdatedAt = now
		task.CompletedAt = &now
		return putTask(tx, task)
	})
}

func (r *BoltRepo) ListVariants(_ context.Context, taskID string) ([]models.Variant, error) {
	var variants []models.Variant
	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(variantsBucket)).Get([]byte(taskID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &variants)
	})
	if err != nil {
		return nil, err
	}
	return variants, nil
}

func (r *BoltRepo) Close() error {
	return r.db.Close()
}

func getTask(tx *bbolt.Tx, id string) (*models.Task, error) {
	data := tx.Bucket([]byte(tasksBucket)).Get([]byte(id))
	if data == nil {
		return nil, ErrTaskNotFound
	}
	var task models.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func putTask(tx *bbolt.Tx, task *models.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(tasksBucket)).Put([]byte(task.ID), data)
}
