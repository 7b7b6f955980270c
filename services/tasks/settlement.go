package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeSweepExpired = "settlement:sweep_expired"
	TypeSweepParty   = "settlement:sweep_party"
	TypeReconcile    = "settlement:reconcile"
)

// SweepPartyPayload targets the reservations of one user.
type SweepPartyPayload struct {
	UserID string `json:"userId"`
}

// NewSweepExpiredTask is registered on the scheduler; one run at a time is enough.
func NewSweepExpiredTask(interval time.Duration) *asynq.Task {
	return asynq.NewTask(TypeSweepExpired, nil, asynq.Unique(interval), asynq.MaxRetry(0))
}

func NewReconcileTask(interval time.Duration) *asynq.Task {
	return asynq.NewTask(TypeReconcile, nil, asynq.Unique(interval), asynq.MaxRetry(0))
}

// NewSweepPartyTask is enqueued when a user opens their notification feed.
func NewSweepPartyTask(userID string) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(SweepPartyPayload{UserID: userID})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeSweepParty, b)
	opts := []asynq.Option{
		asynq.MaxRetry(1),
		asynq.Unique(time.Minute),
	}
	return task, opts, nil
}
