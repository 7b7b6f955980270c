package notification

import (
	"context"
	"errors"
	"time"

	"shutterbook/models"

	"go.uber.org/zap"
)

// Notifier delivers one notification to one user.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// OpsAlert is raised when a settlement step needs a human.
type OpsAlert struct {
	ReservationID string                  `json:"reservationId"`
	RecordKind    models.EntryKind        `json:"recordKind"`
	RecordID      string                  `json:"recordId"`
	Status        models.SettlementStatus `json:"status"`
	Detail        string                  `json:"detail"`
	RaisedAt      time.Time               `json:"raisedAt"`
}

// OpsAlerter is the operations channel.
type OpsAlerter interface {
	Alert(ctx context.Context, alert OpsAlert) error
}

// Fanout delivers to a primary sink and then to every secondary sink. Only the
// primary's error is returned; secondary failures are logged.
type Fanout struct {
	primary   Notifier
	secondary []Notifier
	logger    *zap.Logger
}

func NewFanout(logger *zap.Logger, primary Notifier, secondary ...Notifier) *Fanout {
	return &Fanout{primary: primary, secondary: secondary, logger: logger}
}

var _ Notifier = (*Fanout)(nil)

func (f *Fanout) Notify(ctx context.Context, n models.Notification) error {
	if err := f.primary.Notify(ctx, n); err != nil {
		return err
	}
	for _, sink := range f.secondary {
		if err := sink.Notify(ctx, n); err != nil {
			f.logger.Warn("Notification sink failed",
				zap.String("userID", n.UserID),
				zap.String("kind", string(n.Kind())),
				zap.Error(err))
		}
	}
	return nil
}

// AlertFanout raises an alert on every configured ops channel.
type AlertFanout struct {
	channels []OpsAlerter
	logger   *zap.Logger
}

func NewAlertFanout(logger *zap.Logger, channels ...OpsAlerter) *AlertFanout {
	return &AlertFanout{channels: channels, logger: logger}
}

var _ OpsAlerter = (*AlertFanout)(nil)

func (f *AlertFanout) Alert(ctx context.Context, alert OpsAlert) error {
	var errs []error
	for _, ch := range f.channels {
		if err := ch.Alert(ctx, alert); err != nil {
			f.logger.Warn("Ops channel failed", zap.String("reservationID", alert.ReservationID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogAlerter writes alerts to the structured log at error level.
type LogAlerter struct {
	logger *zap.Logger
}

func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (l *LogAlerter) Alert(_ context.Context, alert OpsAlert) error {
	l.logger.Error("Settlement requires manual processing",
		zap.String("reservationID", alert.ReservationID),
		zap.String("recordKind", string(alert.RecordKind)),
		zap.String("recordID", alert.RecordID),
		zap.String("status", string(alert.Status)),
		zap.String("detail", alert.Detail))
	return nil
}
