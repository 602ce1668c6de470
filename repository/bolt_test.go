package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"imageprocessor/models"
)

func newTestRepo(t *testing.T) *BoltRepo {
	t.Helper()

	repo, err := NewBolt(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("Failed to open bolt repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTestTask(id string) *models.Task {
	now := time.Now().UTC()
	return &models.Task{
		ID:        id,
		Status:    models.StatusPending,
		Price:     25.50,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestBoltRepo_CreateAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	task := newTestTask("task_abc")
	if err := repo.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	got, err := repo.GetTask(ctx, "task_abc")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.ID != task.ID || got.Status != models.StatusPending || got.Price != 25.50 {
		t.Errorf("Round trip mismatch: %+v", got)
	}
	if got.CompletedAt != nil {
		t.Error("Expected nil CompletedAt on a pending task")
	}
}

func TestBoltRepo_GetTask_NotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetTask(context.Background(), "task_missing")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestBoltRepo_SetSourceRef(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	task := newTestTask("task_src")
	if err := repo.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	if err := repo.SetSourceRef(ctx, "task_src", "/tmp/scratch/cat_123.jpg"); err != nil {
		t.Fatalf("SetSourceRef failed: %v", err)
	}

	got, err := repo.GetTask(ctx, "task_src")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.SourceRef != "/tmp/scratch/cat_123.jpg" {
		t.Errorf("Expected source ref recorded, got %q", got.SourceRef)
	}
	if !got.UpdatedAt.After(task.UpdatedAt) {
		t.Error("Expected UpdatedAt to be bumped")
	}
}

func TestBoltRepo_CompleteTask(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateTask(ctx, newTestTask("task_done")); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	variants := []models.Variant{
		{Resolution: "1024", Path: "cat/1024/aaa.jpg", ContentHash: "aaa", Size: 100, Width: 1024, Height: 768},
		{Resolution: "800", Path: "cat/800/bbb.jpg", ContentHash: "bbb", Size: 80, Width: 800, Height: 600},
	}
	if err := repo.CompleteTask(ctx, "task_done", variants); err != nil {
		t.Fatalf("CompleteTask failed: %v", err)
	}

	got, err := repo.GetTask(ctx, "task_done")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("Expected CompletedAt set")
	}

	rows, err := repo.ListVariants(ctx, "task_done")
	if err != nil {
		t.Fatalf("ListVariants failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 variants, got %d", len(rows))
	}
	for _, v := range rows {
		if v.TaskID != "task_done" {
			t.Errorf("Expected owning task id on variant, got %q", v.TaskID)
		}
		if v.CreatedAt.IsZero() {
			t.Error("Expected variant CreatedAt set")
		}
	}
}

func TestBoltRepo_CompleteTask_NotPending(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateTask(ctx, newTestTask("task_twice")); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := repo.CompleteTask(ctx, "task_twice", nil); err != nil {
		t.Fatalf("First CompleteTask failed: %v", err)
	}

	if err := repo.CompleteTask(ctx, "task_twice", nil); !errors.Is(err, ErrNotPending) {
		t.Fatalf("Expected ErrNotPending on second complete, got %v", err)
	}
	if err := repo.FailTask(ctx, "task_twice", "boom"); !errors.Is(err, ErrNotPending) {
		t.Fatalf("Expected ErrNotPending on fail after complete, got %v", err)
	}
}

func TestBoltRepo_FailTask(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateTask(ctx, newTestTask("task_bad")); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := repo.FailTask(ctx, "task_bad", "decode source image: unexpected EOF"); err != nil {
		t.Fatalf("FailTask failed: %v", err)
	}

	got, err := repo.GetTask(ctx, "task_bad")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != models.StatusFailed {
		t.Errorf("Expected failed, got %s", got.Status)
	}
	if got.ErrorMessage != "decode source image: unexpected EOF" {
		t.Errorf("Expected verbatim error message, got %q", got.ErrorMessage)
	}
	if got.CompletedAt == nil {
		t.Error("Expected CompletedAt set on failure")
	}
}
