// Package tasks tracks staff to-do items.
package tasks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/leafy-life/cafe/internal/app/domain/calendar"
	"github.com/leafy-life/cafe/internal/app/domain/task"
	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/pkg/logger"
)

// Service manages tasks.
type Service struct {
	store storage.Store
	log   *logger.Logger
	now   func() time.Time
}

// New constructs the task service.
func New(store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("tasks")
	}
	return &Service{store: store, log: log, now: time.Now}
}

// Create stores a pending task. Priority defaults to medium.
func (s *Service) Create(ctx context.Context, t task.Task) (task.Task, error) {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return task.Task{}, fmt.Errorf("title is required")
	}
	if t.Priority == "" {
		t.Priority = task.PriorityMedium
	}
	if !task.ValidPriority(t.Priority) {
		return task.Task{}, fmt.Errorf("priority must be one of low, medium, high, urgent")
	}
	if t.DueDate != nil {
		if strings.TrimSpace(*t.DueDate) == "" {
			t.DueDate = nil
		} else {
			d, err := calendar.Parse(*t.DueDate, nil)
			if err != nil {
				return task.Task{}, fmt.Errorf("due_date: %w", err)
			}
			due := calendar.Format(d)
			t.DueDate = &due
		}
	}
	t.ID = ""
	t.Status = task.StatusPending
	t.CompletedAt = nil
	t.CreatedAt = s.now().UTC()

	var out task.Task
	if err := storage.InsertValue(ctx, s.store, storage.TableTasks, t, &out); err != nil {
		return task.Task{}, fmt.Errorf("create task: %w", err)
	}
	return out, nil
}

// SetStatus moves a task. Completing it stamps completed_at; reopening
// clears it.
func (s *Service) SetStatus(ctx context.Context, id, status string) (task.Task, error) {
	if !task.ValidStatus(status) {
		return task.Task{}, fmt.Errorf("status must be one of pending, in_progress, completed")
	}
	patch := storage.Row{"status": status, "completed_at": nil}
	if status == task.StatusCompleted {
		patch["completed_at"] = s.now().UTC()
	}
	var out task.Task
	if err := storage.UpdateByID(ctx, s.store, storage.TableTasks, id, patch, &out); err != nil {
		return task.Task{}, fmt.Errorf("update task: %w", err)
	}
	return out, nil
}

// List returns tasks by due date, undated last. openOnly hides completed ones.
func (s *Service) List(ctx context.Context, openOnly bool) ([]task.Task, error) {
	q := storage.NewQuery().Order("created_at", true)
	if openOnly {
		q.Neq("status", task.StatusCompleted)
	}
	var out []task.Task
	if err := storage.SelectInto(ctx, s.store, storage.TableTasks, q, &out); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return dueBefore(out[i], out[j]) })
	return out, nil
}

func dueBefore(a, b task.Task) bool {
	switch {
	case a.DueDate == nil:
		return false
	case b.DueDate == nil:
		return true
	default:
		return *a.DueDate < *b.DueDate
	}
}

// Delete removes a task.
func (s *Service) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("id is required")
	}
	return storage.DeleteByID(ctx, s.store, storage.TableTasks, id)
}
