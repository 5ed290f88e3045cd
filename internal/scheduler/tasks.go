package scheduler

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskDeadlineSweep = "pipeline.deadline_sweep"

const TaskNotificationsRefresh = "pipeline.notifications_refresh"

const TaskScoreRefresh = "pipeline.score_refresh"

// SweepPayload carries an optional reference time; zero means "when the task runs".
type SweepPayload struct {
	RequestedBy string     `json:"requestedBy,omitempty"`
	AsOf        *time.Time `json:"asOf,omitempty"`
}

func NewDeadlineSweepTask(payload SweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeadlineSweep, data), nil
}

func ParseSweepPayload(task *asynq.Task) (SweepPayload, error) {
	var payload SweepPayload
	if len(task.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SweepPayload{}, err
	}
	return payload, nil
}

func NewNotificationsRefreshTask() *asynq.Task {
	return asynq.NewTask(TaskNotificationsRefresh, nil)
}

func NewScoreRefreshTask() *asynq.Task {
	return asynq.NewTask(TaskScoreRefresh, nil)
}
