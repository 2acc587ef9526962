package logger

import (
	"github.com/spigell/recruiter-loop/internal/model"

	"go.uber.org/zap"
)

const (
	FieldTenant   = "tenant_id"
	FieldTask     = "task_id"
	FieldTaskType = "task_type"
	FieldRun      = "run_id"
	FieldOperator = "operator"
)

// TaskFields identifies a task in log entries.
func TaskFields(task *model.Task) []zap.Field {
	if task == nil {
		return nil
	}
	return StringFields(
		StringField{Key: FieldTenant, Value: task.TenantID},
		StringField{Key: FieldTask, Value: task.ID},
		StringField{Key: FieldTaskType, Value: string(task.Type)},
		StringField{Key: FieldRun, Value: task.RunID},
	)
}

// WithTask attaches TaskFields to logger.
func WithTask(logger *zap.Logger, task *model.Task) *zap.Logger {
	return WithFields(logger, TaskFields(task)...)
}
