package dto

import "errors"

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrInvalidSource = errors.New("exactly one of imageUrl or imageFile must be provided")
)

type CreateTaskRequest struct {
	ImageURL  string `json:"imageUrl,omitempty"`
	ImageFile string `json:"imageFile,omitempty"`
}

type CreateTaskResponse struct {
	TaskID string  `json:"taskId"`
	Status string  `json:"status"`
	Price  float64 `json:"price"`
}

type ImageResponse struct {
	Resolution string `json:"resolution"`
	Path       string `json:"path"`
	Hash       string `json:"hash"`
	Size       int64  `json:"size"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

type TaskResponse struct {
	TaskID       string          `json:"taskId"`
	Status       string          `json:"status"`
	Price        float64         `json:"price"`
	ErrorMessage string          `json:"error,omitempty"`
	CreatedAt    string          `json:"createdAt"`
	UpdatedAt    string          `json:"updatedAt"`
	CompletedAt  *string         `json:"completedAt,omitempty"`
	Images       []ImageResponse `json:"images,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}
