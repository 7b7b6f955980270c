package settlementRepo

import (
	"context"
	"fmt"
	"time"

	"shutterbook/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	paymentsCollection  = "settlement_payments"
	refundsCollection   = "settlement_refunds"
	transfersCollection = "settlement_transfers"
)

// MongoSettlementRepo implements SettlementRepository with one collection per record kind.
type MongoSettlementRepo struct {
	payments  *mongo.Collection
	refunds   *mongo.Collection
	transfers *mongo.Collection
}

// NewMongoSettlementRepo constructs the repo and creates the uniqueness indexes
// that keep each chain linear and allow a single completed record per reservation.
func NewMongoSettlementRepo(db *mongo.Database) (*MongoSettlementRepo, error) {
	repo := &MongoSettlementRepo{
		payments:  db.Collection(paymentsCollection),
		refunds:   db.Collection(refundsCollection),
		transfers: db.Collection(transfersCollection),
	}
	for _, coll := range []*mongo.Collection{repo.payments, repo.refunds, repo.transfers} {
		if err := ensureIndexes(coll); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

var _ SettlementRepository = (*MongoSettlementRepo)(nil)

func ensureIndexes(coll *mongo.Collection) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "reservation_id", Value: 1}, {Key: "supersedes", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("one_successor_per_record"),
		},
		{
			Keys: bson.D{{Key: "reservation_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("one_completed_per_reservation").
				SetPartialFilterExpression(bson.M{"status": models.SettlementCompleted}),
		},
		{
			Keys: bson.D{{Key: "supersedes", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "superseded", Value: 1}, {Key: "created_at", Value: 1}, {Key: "id", Value: 1}},
		},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes on %s: %w", coll.Name(), err)
	}
	return nil
}

func loadChain[T any](ctx context.Context, coll *mongo.Collection, reservationID string) ([]T, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := coll.Find(ctx, bson.M{"reservation_id": reservationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("error loading %s for reservation %s: %w", coll.Name(), reservationID, err)
	}
	defer cursor.Close(ctx)

	var out []T
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", coll.Name(), err)
	}
	return out, nil
}

func appendRecord[T any](ctx context.Context, coll *mongo.Collection, reservationID string, record T, meta func(T) recordMeta) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	existing, err := loadChain[T](ctx, coll, reservationID)
	if err != nil {
		return err
	}
	if err := checkAppend(existing, record, meta); err != nil {
		return err
	}
	if _, err := coll.InsertOne(ctx, record); err != nil {
		// A concurrent writer extended the chain or completed it first.
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("record %s for reservation %s: %w", meta(record).ID, reservationID, models.ErrDuplicateRecord)
		}
		return fmt.Errorf("error inserting into %s: %w", coll.Name(), err)
	}
	if prev := meta(record).Supersedes; prev != "" {
		// Best effort: listProcessing still excludes an unmarked predecessor.
		_, _ = coll.UpdateOne(ctx, bson.M{"id": prev}, bson.M{"$set": bson.M{"superseded": true}})
	}
	return nil
}

func currentRecord[T any](ctx context.Context, coll *mongo.Collection, reservationID string, meta func(T) recordMeta) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	chain, err := loadChain[T](ctx, coll, reservationID)
	if err != nil {
		return nil, err
	}
	if cur, ok := currentOf(chain, meta); ok {
		return &cur, nil
	}
	return nil, nil
}

// listProcessing finds processing records that no later record supersedes.
// The superseded marker narrows the scan to chain heads; the lookup catches a
// predecessor whose marker was never written.
func listProcessing[T any](ctx context.Context, coll *mongo.Collection, page ProcessingPage) ([]T, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	match := bson.M{
		"status":     models.SettlementProcessing,
		"superseded": bson.M{"$ne": true},
	}
	if !page.AfterCreated.IsZero() || page.AfterID != "" {
		match["$or"] = bson.A{
			bson.M{"created_at": bson.M{"$gt": page.AfterCreated}},
			bson.M{"created_at": page.AfterCreated, "id": bson.M{"$gt": page.AfterID}},
		}
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: 1}, {Key: "id", Value: 1}}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         coll.Name(),
			"localField":   "id",
			"foreignField": "supersedes",
			"as":           "successors",
		}}},
		{{Key: "$match", Value: bson.M{"successors": bson.M{"$size": 0}}}},
	}
	if page.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: page.Limit}})
	}
	pipeline = append(pipeline, bson.D{{Key: "$project", Value: bson.M{"successors": 0, "superseded": 0}}})

	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("error listing processing %s: %w", coll.Name(), err)
	}
	defer cursor.Close(ctx)

	var out []T
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", coll.Name(), err)
	}
	return out, nil
}

func (repo *MongoSettlementRepo) AppendPayment(ctx context.Context, record *models.PaymentRecord) error {
	return appendRecord(ctx, repo.payments, record.ReservationID, *record, paymentMeta)
}

func (repo *MongoSettlementRepo) AppendRefund(ctx context.Context, record *models.RefundRecord) error {
	return appendRecord(ctx, repo.refunds, record.ReservationID, *record, refundMeta)
}

func (repo *MongoSettlementRepo) AppendTransfer(ctx context.Context, record *models.TransferRecord) error {
	return appendRecord(ctx, repo.transfers, record.ReservationID, *record, transferMeta)
}

func (repo *MongoSettlementRepo) CurrentPayment(ctx context.Context, reservationID string) (*models.PaymentRecord, error) {
	return currentRecord(ctx, repo.payments, reservationID, paymentMeta)
}

func (repo *MongoSettlementRepo) CurrentRefund(ctx context.Context, reservationID string) (*models.RefundRecord, error) {
	return currentRecord(ctx, repo.refunds, reservationID, refundMeta)
}

func (repo *MongoSettlementRepo) CurrentTransfer(ctx context.Context, reservationID string) (*models.TransferRecord, error) {
	return currentRecord(ctx, repo.transfers, reservationID, transferMeta)
}

func (repo *MongoSettlementRepo) ListProcessingRefunds(ctx context.Context, page ProcessingPage) ([]models.RefundRecord, error) {
	return listProcessing[models.RefundRecord](ctx, repo.refunds, page)
}

func (repo *MongoSettlementRepo) ListProcessingTransfers(ctx context.Context, page ProcessingPage) ([]models.TransferRecord, error) {
	return listProcessing[models.TransferRecord](ctx, repo.transfers, page)
}

// History returns every record written for the reservation, oldest first.
func (repo *MongoSettlementRepo) History(ctx context.Context, reservationID string) ([]models.SettlementEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	payments, err := loadChain[models.PaymentRecord](ctx, repo.payments, reservationID)
	if err != nil {
		return nil, err
	}
	refunds, err := loadChain[models.RefundRecord](ctx, repo.refunds, reservationID)
	if err != nil {
		return nil, err
	}
	transfers, err := loadChain[models.TransferRecord](ctx, repo.transfers, reservationID)
	if err != nil {
		return nil, err
	}
	return buildHistory(payments, refunds, transfers), nil
}
