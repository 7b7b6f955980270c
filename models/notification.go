package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// NotificationKind tags the payload carried by a Notification.
type NotificationKind string

const (
	KindDepositReceived      NotificationKind = "deposit_received"
	KindReservationCancelled NotificationKind = "reservation_cancelled"
	KindBalanceTransferred   NotificationKind = "balance_transferred"
	KindReviewRequested      NotificationKind = "review_requested"
)

// NotificationPayload is a closed set: only the payload types in this file implement it.
type NotificationPayload interface {
	Kind() NotificationKind
	Title() string
	Body() string
	Fields() map[string]string
	notificationPayload()
}

// Notification is one message to one user.
type Notification struct {
	ID            string
	UserID        string
	Payload       NotificationPayload
	CorrelatedIDs []string
	CreatedAt     time.Time
}

// Kind is the payload's tag.
func (n Notification) Kind() NotificationKind {
	return n.Payload.Kind()
}

// InboxItem is the stored, rendered form of a notification.
type InboxItem struct {
	ID            string            `bson:"id" json:"id"`
	UserID        string            `bson:"user_id" json:"userId"`
	Type          NotificationKind  `bson:"type" json:"type"`
	Title         string            `bson:"title" json:"title"`
	Message       string            `bson:"message" json:"message"`
	Data          map[string]string `bson:"data" json:"data"`
	CorrelatedIDs []string          `bson:"correlated_ids" json:"correlatedIds"`
	Read          bool              `bson:"read" json:"read"`
	CreatedAt     time.Time         `bson:"created_at" json:"createdAt"`
}

// Render flattens the notification for storage and transport.
func (n Notification) Render() InboxItem {
	return InboxItem{
		ID:            n.ID,
		UserID:        n.UserID,
		Type:          n.Payload.Kind(),
		Title:         n.Payload.Title(),
		Message:       n.Payload.Body(),
		Data:          n.Payload.Fields(),
		CorrelatedIDs: n.CorrelatedIDs,
		CreatedAt:     n.CreatedAt,
	}
}

// DepositReceived tells both parties the deposit charge went through.
type DepositReceived struct {
	ReservationID string
	Amount        decimal.Decimal
	Currency      string
}

func (DepositReceived) Kind() NotificationKind { return KindDepositReceived }
func (DepositReceived) Title() string          { return "Deposit received" }
func (p DepositReceived) Body() string {
	return fmt.Sprintf("A deposit of %s %s was received for reservation %s.", p.Amount.StringFixed(2), p.Currency, p.ReservationID)
}
func (p DepositReceived) Fields() map[string]string {
	return map[string]string{
		"reservationId": p.ReservationID,
		"amount":        p.Amount.StringFixed(2),
		"currency":      p.Currency,
	}
}
func (DepositReceived) notificationPayload() {}

// ReservationCancelled reports a cancellation and what happened with the money.
type ReservationCancelled struct {
	ReservationID string
	CancelledBy   string
	Percentage    int
	Amount        decimal.Decimal
	Currency      string
	Status        SettlementStatus
	Outcome       RefundOutcome
	Reason        string
}

func (ReservationCancelled) Kind() NotificationKind { return KindReservationCancelled }
func (ReservationCancelled) Title() string          { return "Reservation cancelled" }
func (p ReservationCancelled) Body() string {
	switch p.Status {
	case SettlementManualRequired:
		return fmt.Sprintf("Reservation %s was cancelled. The refund requires manual processing.", p.ReservationID)
	case SettlementProcessing:
		return fmt.Sprintf("Reservation %s was cancelled. A %d%% refund (%s %s) is being processed.", p.ReservationID, p.Percentage, p.Amount.StringFixed(2), p.Currency)
	}
	if p.Outcome == OutcomeNoRefund || p.Amount.IsZero() {
		return fmt.Sprintf("Reservation %s was cancelled. No refund applies: %s.", p.ReservationID, p.Reason)
	}
	return fmt.Sprintf("Reservation %s was cancelled, %d%% refunded (%s %s).", p.ReservationID, p.Percentage, p.Amount.StringFixed(2), p.Currency)
}
func (p ReservationCancelled) Fields() map[string]string {
	return map[string]string{
		"reservationId": p.ReservationID,
		"cancelledBy":   p.CancelledBy,
		"percentage":    fmt.Sprintf("%d", p.Percentage),
		"amount":        p.Amount.StringFixed(2),
		"currency":      p.Currency,
		"status":        string(p.Status),
		"outcome":       string(p.Outcome),
	}
}
func (ReservationCancelled) notificationPayload() {}

// BalanceTransferred tells the payee the remaining balance was paid out.
type BalanceTransferred struct {
	ReservationID string
	Amount        decimal.Decimal
	Currency      string
	Status        SettlementStatus
}

func (BalanceTransferred) Kind() NotificationKind { return KindBalanceTransferred }
func (BalanceTransferred) Title() string          { return "Balance payout" }
func (p BalanceTransferred) Body() string {
	switch p.Status {
	case SettlementManualRequired:
		return fmt.Sprintf("The payout of %s %s for reservation %s requires manual processing.", p.Amount.StringFixed(2), p.Currency, p.ReservationID)
	case SettlementProcessing:
		return fmt.Sprintf("The payout of %s %s for reservation %s is being processed.", p.Amount.StringFixed(2), p.Currency, p.ReservationID)
	}
	return fmt.Sprintf("%s %s for reservation %s was transferred to your account.", p.Amount.StringFixed(2), p.Currency, p.ReservationID)
}
func (p BalanceTransferred) Fields() map[string]string {
	return map[string]string{
		"reservationId": p.ReservationID,
		"amount":        p.Amount.StringFixed(2),
		"currency":      p.Currency,
		"status":        string(p.Status),
	}
}
func (BalanceTransferred) notificationPayload() {}

// ReviewRequested asks the customer to review a finished service.
type ReviewRequested struct {
	ReservationID string
	PayeeID       string
	ServiceID     string
}

func (ReviewRequested) Kind() NotificationKind { return KindReviewRequested }
func (ReviewRequested) Title() string          { return "How did it go?" }
func (p ReviewRequested) Body() string {
	return fmt.Sprintf("Your session for reservation %s is complete. Leave a review for your photographer.", p.ReservationID)
}
func (p ReviewRequested) Fields() map[string]string {
	return map[string]string{
		"reservationId": p.ReservationID,
		"payeeId":       p.PayeeID,
		"serviceId":     p.ServiceID,
	}
}
func (ReviewRequested) notificationPayload() {}
