package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafy-life/cafe/internal/app/domain/task"
	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/internal/app/storage/memory"
	"github.com/leafy-life/cafe/pkg/logger"
)

func due(s string) *string { return &s }

func TestTaskLifecycle(t *testing.T) {
	svc := New(memory.New(), logger.Discard())
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { now = now.Add(time.Minute); return now }
	ctx := context.Background()

	later, err := svc.Create(ctx, task.Task{Title: "Deep clean", DueDate: due("2026-10-25")})
	require.NoError(t, err)
	assert.Equal(t, task.PriorityMedium, later.Priority)
	assert.Equal(t, task.StatusPending, later.Status)

	undated, err := svc.Create(ctx, task.Task{Title: "Paint sign", Priority: task.PriorityLow})
	require.NoError(t, err)
	assert.Nil(t, undated.DueDate)

	soon, err := svc.Create(ctx, task.Task{Title: "Call plumber", Priority: task.PriorityUrgent, DueDate: due("2026-10-20")})
	require.NoError(t, err)

	list, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{soon.ID, later.ID, undated.ID}, []string{list[0].ID, list[1].ID, list[2].ID})

	done, err := svc.SetStatus(ctx, soon.ID, task.StatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)

	open, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	reopened, err := svc.SetStatus(ctx, soon.ID, task.StatusInProgress)
	require.NoError(t, err)
	assert.Nil(t, reopened.CompletedAt)

	require.NoError(t, svc.Delete(ctx, undated.ID))
	all, err := svc.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTaskValidation(t *testing.T) {
	svc := New(memory.New(), logger.Discard())
	ctx := context.Background()

	_, err := svc.Create(ctx, task.Task{})
	assert.Error(t, err)
	_, err = svc.Create(ctx, task.Task{Title: "x", Priority: "asap"})
	assert.Error(t, err)
	_, err = svc.Create(ctx, task.Task{Title: "x", DueDate: due("next week")})
	assert.Error(t, err)
	_, err = svc.SetStatus(ctx, "x", "archived")
	assert.Error(t, err)
	_, err = svc.SetStatus(ctx, "missing", task.StatusCompleted)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
