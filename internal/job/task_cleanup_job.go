package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/ragkit/ragkit/internal/task"
)

// TaskCleanupJob drops terminal tasks older than the retention window. Only
// configured retention removes tasks; nothing expires on its own.
type TaskCleanupJob struct {
	registry      *task.Registry
	retentionDays int
}

func NewTaskCleanupJob(registry *task.Registry, retentionDays int) *TaskCleanupJob {
	return &TaskCleanupJob{registry: registry, retentionDays: retentionDays}
}

func (j *TaskCleanupJob) Name() string {
	return "task_cleanup"
}

func (j *TaskCleanupJob) Run(ctx context.Context) error {
	if j.registry == nil {
		return nil
	}
	days := j.retentionDays
	if days <= 0 {
		days = 7
	}
	removed := j.registry.Cleanup(time.Duration(days) * 24 * time.Hour)
	if removed > 0 {
		logutil.GetLogger(ctx).Info("terminal tasks removed",
			zap.Int("removed", removed),
			zap.Int("retention_days", days))
	}
	return nil
}
