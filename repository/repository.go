package repository

import (
	"context"
	"errors"

	"imageprocessor/models"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrNotPending   = errors.New("task is not pending")
)

type Repository interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	SetSourceRef(ctx context.Context, id string, sourceRef string) error
	// CompleteTask writes the variant rows and flips the task to completed
	// in a single atomic commit. Fails with ErrNotPending if the task
	// already reached a terminal status.
	CompleteTask(ctx context.Context, id string, variants []models.Variant) error
	FailTask(ctx context.Context, id string, errMsg string) error
	ListVariants(ctx context.Context, taskID string) ([]models.Variant, error)
	Close() error
}
