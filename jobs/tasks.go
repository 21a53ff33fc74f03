package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskPlanGenerate analyses every organization's book and stores fresh
	// pending plans.
	TaskPlanGenerate = "plan:generate"
	// TaskOutreachDispatch drains one batch of due scheduled actions.
	TaskOutreachDispatch = "outreach:dispatch"
	// TaskSyncAccounting pulls settled payments from accounting feeds.
	TaskSyncAccounting = "sync:accounting"
	// TaskSyncBank pulls bank movements and refreshes the cash series.
	TaskSyncBank = "sync:bank"
)

// OrgScopedPayload optionally narrows a job to one organization. A nil OrgID
// fans out over every organization.
type OrgScopedPayload struct {
	OrgID *uuid.UUID `json:"org_id,omitempty"`
}

// NewPlanGenerateTask constructs the plan generation task.
func NewPlanGenerateTask(payload OrgScopedPayload) (*asynq.Task, error) {
	return newOrgTask(TaskPlanGenerate, payload)
}

// NewOutreachDispatchTask constructs the dispatch task.
func NewOutreachDispatchTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskOutreachDispatch, nil), nil
}

// NewSyncAccountingTask constructs the accounting sync task.
func NewSyncAccountingTask(payload OrgScopedPayload) (*asynq.Task, error) {
	return newOrgTask(TaskSyncAccounting, payload)
}

// NewSyncBankTask constructs the bank sync task.
func NewSyncBankTask(payload OrgScopedPayload) (*asynq.Task, error) {
	return newOrgTask(TaskSyncBank, payload)
}

func newOrgTask(taskType string, payload OrgScopedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}
