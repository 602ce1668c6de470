package models

import (
	"time"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// Terminal reports whether a status can never change again.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Task struct {
	ID           string
	Status       TaskStatus
	Price        float64
	SourceRef    string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

type Variant struct {
	TaskID      string
	Resolution  string
	Path        string
	ContentHash string
	Size        int64
	Width       int
	Height      int
	CreatedAt   time.Time
}
