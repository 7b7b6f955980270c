package notification

import (
	"context"

	inboxRepo "shutterbook/database/repository/inbox"
	"shutterbook/models"
)

// InboxNotifier stores the rendered notification in the user's in-app feed.
type InboxNotifier struct {
	repo inboxRepo.InboxRepository
}

func NewInboxNotifier(repo inboxRepo.InboxRepository) *InboxNotifier {
	return &InboxNotifier{repo: repo}
}

var _ Notifier = (*InboxNotifier)(nil)

func (s *InboxNotifier) Notify(ctx context.Context, n models.Notification) error {
	return s.repo.Save(ctx, n.Render())
}
