package reservationRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shutterbook/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoReservationRepo implements ReservationRepository using MongoDB.
type MongoReservationRepo struct {
	coll *mongo.Collection
}

// NewMongoReservationRepo constructs the repo and makes sure its indexes exist.
func NewMongoReservationRepo(db *mongo.Database) (*MongoReservationRepo, error) {
	repo := &MongoReservationRepo{coll: db.Collection("reservations")}
	if err := repo.ensureIndexes(); err != nil {
		return nil, err
	}
	return repo, nil
}

var _ ReservationRepository = (*MongoReservationRepo)(nil)

func (repo *MongoReservationRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "ends_at", Value: 1}}},
		{Keys: bson.D{{Key: "customer_id", Value: 1}}},
		{Keys: bson.D{{Key: "payee_id", Value: 1}}},
	}
	if _, err := repo.coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create reservation indexes: %w", err)
	}
	return nil
}

// Create inserts a new reservation document.
func (repo *MongoReservationRepo) Create(ctx context.Context, reservation *models.Reservation) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := repo.coll.InsertOne(ctx, reservation); err != nil {
		return fmt.Errorf("error creating reservation: %w", err)
	}
	return nil
}

// GetByID retrieves a reservation document by ID.
func (repo *MongoReservationRepo) GetByID(ctx context.Context, id string) (*models.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var r models.Reservation
	if err := repo.coll.FindOne(ctx, bson.M{"id": id}).Decode(&r); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("reservation %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("error fetching reservation %s: %w", id, err)
	}
	return &r, nil
}

// Transition is a compare-and-set on the status field.
func (repo *MongoReservationRepo) Transition(ctx context.Context, id string, from, to models.ReservationStatus, fields TransitionFields) (*models.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Build the $set document from the same rules the memory driver applies.
	var applied models.Reservation
	applyTransition(&applied, from, to, fields)

	set := bson.M{"status": to, "updated_at": fields.At}
	unset := bson.M{}
	switch {
	case from == models.StatusFinished:
		unset["finished_at"] = ""
		unset["settling_since"] = ""
	case to == models.StatusPaid:
		set["paid_at"] = applied.PaidAt
		if applied.DepositChargeRef != "" {
			set["deposit_charge_ref"] = applied.DepositChargeRef
		}
	case to == models.StatusFinished:
		set["finished_at"] = applied.FinishedAt
		set["settling_since"] = applied.SettlingSince
	case to == models.StatusCancelled:
		set["cancelled_at"] = applied.CancelledAt
		set["cancelled_by"] = applied.CancelledBy
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.Reservation
	err := repo.coll.FindOneAndUpdate(ctx, bson.M{"id": id, "status": from}, update, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("error transitioning reservation %s: %w", id, err)
	}

	// Nothing matched: either the reservation is gone or someone else moved it first.
	current, getErr := repo.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("reservation %s is %s, expected %s: %w", id, current.Status, from, models.ErrStaleState)
}

// AttachDeposit stores the deposit charge linkage without touching the status.
func (repo *MongoReservationRepo) AttachDeposit(ctx context.Context, id string, link DepositLink) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"deposit_charge_ref": link.ChargeRef,
		"deposit_amount":     link.Amount,
		"platform_fee":       link.PlatformFee,
		"payee_account":      link.PayeeAccount,
		"updated_at":         time.Now(),
	}}
	res, err := repo.coll.UpdateOne(ctx, bson.M{"id": id}, update)
	if err != nil {
		return fmt.Errorf("error attaching deposit to reservation %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("reservation %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// SetSettlementRefs records processor references for refunds and transfers.
func (repo *MongoReservationRepo) SetSettlementRefs(ctx context.Context, id string, refs SettlementRefs) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	set := bson.M{}
	if refs.TransferRef != "" {
		set["transfer_ref"] = refs.TransferRef
	}
	if refs.RefundRef != "" {
		set["refund_ref"] = refs.RefundRef
	}
	if len(set) == 0 {
		return nil
	}
	res, err := repo.coll.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("error updating settlement refs for reservation %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("reservation %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (repo *MongoReservationRepo) ClearSettling(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"id": id, "status": models.StatusFinished}
	if _, err := repo.coll.UpdateOne(ctx, filter, bson.M{"$unset": bson.M{"settling_since": ""}}); err != nil {
		return fmt.Errorf("error clearing settling marker for reservation %s: %w", id, err)
	}
	return nil
}

// ListActive returns one page of reservations in the given statuses that ended before the cutoff.
func (repo *MongoReservationRepo) ListActive(ctx context.Context, filter ActiveFilter) ([]models.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := bson.M{}
	var clauses bson.A
	if len(filter.Statuses) > 0 {
		query["status"] = bson.M{"$in": filter.Statuses}
	}
	if !filter.EndedBefore.IsZero() {
		clauses = append(clauses, bson.M{"$or": bson.A{
			bson.M{"ends_at": bson.M{"$lte": filter.EndedBefore}},
			bson.M{"ends_at": bson.M{"$exists": false}, "start": bson.M{"$lte": filter.EndedBefore}},
		}})
	}
	if filter.PartyID != "" {
		clauses = append(clauses, bson.M{"$or": bson.A{
			bson.M{"customer_id": filter.PartyID},
			bson.M{"payee_id": filter.PartyID},
		}})
	}
	if len(clauses) > 0 {
		query["$and"] = clauses
	}
	if filter.AfterID != "" {
		query["id"] = bson.M{"$gt": filter.AfterID}
	}

	opts := options.Find().SetSort(bson.D{{Key: "id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cursor, err := repo.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing active reservations: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.Reservation
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("error decoding active reservations: %w", err)
	}
	return out, nil
}
