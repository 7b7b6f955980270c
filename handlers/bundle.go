package handlers

import (
	"context"
	"time"

	"shutterbook/cron"
	"shutterbook/models"
	"shutterbook/services/reservation"
	"shutterbook/services/settlement"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReservationService is the lifecycle API exposed over HTTP.
type ReservationService interface {
	Create(ctx context.Context, in reservation.CreateInput) (*models.Reservation, error)
	Status(ctx context.Context, id string) (models.ReservationView, error)
	History(ctx context.Context, id string) ([]models.SettlementEntry, error)
	Checkout(ctx context.Context, id string, deposit, fee decimal.Decimal, payeeAccount string) (*settlement.DepositSession, error)
	Cancel(ctx context.Context, id, justification, requestedBy string) (*reservation.CancelResult, error)
	MarkPaid(ctx context.Context, id, chargeRef string) (*models.Reservation, error)
}

// InboxReader lists a user's stored notifications.
type InboxReader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]models.InboxItem, error)
}

// HandlerBundle groups the endpoint dependencies.
type HandlerBundle struct {
	Reservations  ReservationService
	Inbox         InboxReader
	PartySweep    cron.PartySweepTrigger
	WebhookSecret string
	Logger        *zap.Logger

	// SweepTimeout bounds the opportunistic sweep run before listing notifications.
	SweepTimeout time.Duration
}
