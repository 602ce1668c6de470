package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"imageprocessor/dto"
	"imageprocessor/middleware"
)

type TaskService interface {
	CreateTask(ctx context.Context, traceID string, req *dto.CreateTaskRequest) (*dto.CreateTaskResponse, error)
	GetTask(ctx context.Context, taskID string) (*dto.TaskResponse, error)
}

type TaskHandler struct {
	service TaskService
	logger  *zap.Logger
}

func NewTaskHandler(service TaskService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		service: service,
		logger:  logger,
	}
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	var req dto.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, "Invalid request body", err, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.CreateTask(r.Context(), traceID, &req)
	if err != nil {
		if errors.Is(err, dto.ErrInvalidSource) {
			h.handleError(w, err.Error(), err, traceID, http.StatusBadRequest)
			return
		}
		h.handleError(w, "Failed to create task", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusCreated, resp)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID := r.PathValue("taskID")
	if taskID == "" {
		h.handleError(w, "Task ID is required", nil, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, dto.ErrTaskNotFound) {
			h.handleError(w, err.Error(), err, traceID, http.StatusNotFound)
			return
		}
		h.handleError(w, "Failed to get task", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *TaskHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	h.logger.Error(message,
		zap.String("trace_id", traceID),
		zap.Error(err),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
