package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"imageprocessor/cache"
	"imageprocessor/dto"
	"imageprocessor/fetcher"
	"imageprocessor/models"
	"imageprocessor/renderer"
	"imageprocessor/repository"
)

// TaskHandle tracks one in-flight background unit. Done is closed when the
// task reaches a terminal status.
type TaskHandle struct {
	taskID string
	done   chan struct{}
}

func (h *TaskHandle) TaskID() string        { return h.taskID }
func (h *TaskHandle) Done() <-chan struct{} { return h.done }
func (h *TaskHandle) Wait()                 { <-h.done }

type Options struct {
	PriceMin     float64
	PriceMax     float64
	TargetWidths []int
}

type TaskService struct {
	repo     repository.Repository
	fetcher  *fetcher.Fetcher
	renderer *renderer.Renderer
	cache    *cache.ResultCache // optional
	logger   *zap.Logger
	opts     Options

	mu       sync.Mutex
	inFlight map[string]*TaskHandle
}

func NewTaskService(repo repository.Repository, f *fetcher.Fetcher, r *renderer.Renderer, c *cache.ResultCache, logger *zap.Logger, opts Options) *TaskService {
	if len(opts.TargetWidths) == 0 {
		opts.TargetWidths = []int{1024, 800}
	}
	return &TaskService{
		repo:     repo,
		fetcher:  f,
		renderer: r,
		cache:    c,
		logger:   logger,
		opts:     opts,
		inFlight: make(map[string]*TaskHandle),
	}
}

// CreateTask validates the source reference, durably writes a pending row and
// schedules background processing. It returns as soon as the row is written;
// fetch and render latency never reaches the caller.
func (s *TaskService) CreateTask(ctx context.Context, traceID string, req *dto.CreateTaskRequest) (*dto.CreateTaskResponse, error) {
	hasURL := req.ImageURL != ""
	hasFile := req.ImageFile != ""
	if hasURL == hasFile {
		return nil, dto.ErrInvalidSource
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:        "task_" + uuid.NewString(),
		Status:    models.StatusPending,
		Price:     s.drawPrice(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	handle := &TaskHandle{taskID: task.ID, done: make(chan struct{})}
	s.mu.Lock()
	s.inFlight[task.ID] = handle
	s.mu.Unlock()

	go s.process(task.ID, traceID, req, handle)

	s.logger.Info("Task created",
		zap.String("trace_id", traceID),
		zap.String("task_id", task.ID),
		zap.Float64("price", task.Price),
	)

	return &dto.CreateTaskResponse{
		TaskID: task.ID,
		Status: string(task.Status),
		Price:  task.Price,
	}, nil
}

// Handle returns the in-flight handle for a task, or nil once the task has
// reached a terminal status and been released from the registry.
func (s *TaskService) Handle(taskID string) *TaskHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[taskID]
}

func (s *TaskService) GetTask(ctx context.Context, taskID string) (*dto.TaskResponse, error) {
	if s.cache != nil {
		if resp, err := s.cache.Get(ctx, taskID); err == nil {
			return resp, nil
		}
	}

	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return nil, fmt.Errorf("%w: %s", dto.ErrTaskNotFound, taskID)
		}
		return nil, err
	}

	resp := toResponse(task)

	// Variants are joined in only for completed tasks. Rows left behind by
	// a run that failed between variant writes and the status flip stay
	// invisible.
	if task.Status == models.StatusCompleted {
		variants, err := s.repo.ListVariants(ctx, taskID)
		if err != nil {
			return nil, err
		}
		for _, v := range variants {
			resp.Images = append(resp.Images, dto.ImageResponse{
				Resolution: v.Resolution,
				Path:       v.Path,
				Hash:       v.ContentHash,
				Size:       v.Size,
				Width:      v.Width,
				Height:     v.Height,
			})
		}
	}

	if s.cache != nil && task.Status.Terminal() {
		if err := s.cache.Set(ctx, taskID, resp); err != nil {
			s.logger.Warn("Failed to cache task result",
				zap.String("task_id", taskID),
				zap.Error(err),
			)
		}
	}

	return resp, nil
}

// process is the background unit for one task. It runs to a terminal status
// no matter where the pipeline breaks: any error, including a panic, funnels
// into exactly one failed transition.
func (s *TaskService) process(taskID, traceID string, req *dto.CreateTaskRequest, handle *TaskHandle) {
	ctx := context.Background()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, taskID)
		s.mu.Unlock()
		close(handle.done)
	}()

	defer func() {
		if r := recover(); r != nil {
			s.fail(ctx, taskID, traceID, fmt.Errorf("panic during processing: %v", r))
		}
	}()

	var src *fetcher.Source
	err := func() error {
		var err error
		if req.ImageURL != "" {
			src, err = s.fetcher.FetchURL(ctx, req.ImageURL)
		} else {
			src, err = s.fetcher.FetchInline(ctx, req.ImageFile)
		}
		if err != nil {
			return err
		}

		if err := s.repo.SetSourceRef(ctx, taskID, src.Path); err != nil {
			return fmt.Errorf("record source ref: %w", err)
		}

		variants, err := s.renderer.Render(src.Data, src.BaseName, s.opts.TargetWidths)
		if err != nil {
			return err
		}

		rows := make([]models.Variant, len(variants))
		for i, v := range variants {
			rows[i] = models.Variant{
				TaskID:      taskID,
				Resolution:  v.Resolution,
				Path:        v.Path,
				ContentHash: v.ContentHash,
				Size:        v.Size,
				Width:       v.Width,
				Height:      v.Height,
			}
		}
		if err := s.repo.CompleteTask(ctx, taskID, rows); err != nil {
			return fmt.Errorf("commit variants: %w", err)
		}
		return nil
	}()

	if src != nil {
		s.fetcher.Cleanup(src)
	}

	if err != nil {
		s.fail(ctx, taskID, traceID, err)
		return
	}

	s.logger.Info("Task completed",
		zap.String("trace_id", traceID),
		zap.String("task_id", taskID),
	)
}

func (s *TaskService) fail(ctx context.Context, taskID, traceID string, cause error) {
	s.logger.Error("Task failed",
		zap.String("trace_id", traceID),
		zap.String("task_id", taskID),
		zap.Error(cause),
	)
	if err := s.repo.FailTask(ctx, taskID, cause.Error()); err != nil {
		// Nothing left to do; the read path will keep reporting the
		// last durably written status.
		s.logger.Error("Failed to record task failure",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}
}

func (s *TaskService) drawPrice() float64 {
	price := s.opts.PriceMin + rand.Float64()*(s.opts.PriceMax-s.opts.PriceMin)
	return math.Round(price*100) / 100
}

func toResponse(task *models.Task) *dto.TaskResponse {
	var completedAt *string
	if task.CompletedAt != nil {
		formatted := task.CompletedAt.Format(time.RFC3339)
		completedAt = &formatted
	}
	return &dto.TaskResponse{
		TaskID:       task.ID,
		Status:       string(task.Status),
		Price:        task.Price,
		ErrorMessage: task.ErrorMessage,
		CreatedAt:    task.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    task.UpdatedAt.Format(time.RFC3339),
		CompletedAt:  completedAt,
	}
}
