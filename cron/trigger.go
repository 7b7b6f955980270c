package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shutterbook/services/tasks"

	"github.com/hibiken/asynq"
)

// PartySweepTrigger starts the opportunistic sweep for one user.
type PartySweepTrigger interface {
	TriggerParty(ctx context.Context, userID string) error
}

// QueuedPartyTrigger hands the sweep to the asynq worker.
type QueuedPartyTrigger struct {
	client *asynq.Client
}

func NewQueuedPartyTrigger(client *asynq.Client) *QueuedPartyTrigger {
	return &QueuedPartyTrigger{client: client}
}

func (q *QueuedPartyTrigger) TriggerParty(ctx context.Context, userID string) error {
	task, opts, err := tasks.NewSweepPartyTask(userID)
	if err != nil {
		return err
	}
	if _, err := q.client.EnqueueContext(ctx, task, opts...); err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
		return fmt.Errorf("enqueueing party sweep for %s: %w", userID, err)
	}
	return nil
}

// InlinePartyTrigger sweeps synchronously; used when no queue is configured.
type InlinePartyTrigger struct {
	sweeper *Sweeper
	now     func() time.Time
}

func NewInlinePartyTrigger(sweeper *Sweeper) *InlinePartyTrigger {
	return &InlinePartyTrigger{sweeper: sweeper, now: time.Now}
}

func (t *InlinePartyTrigger) TriggerParty(ctx context.Context, userID string) error {
	_, err := t.sweeper.SweepParty(ctx, userID, t.now())
	return err
}
