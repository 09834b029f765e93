// Package mongo persists session.Record and session.ResumePosition
// documents: upserts keyed on a deterministic id, with
// mongo.ErrNoDocuments translated to a (zero, false, nil) miss.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"moviepipeline/internal/domain"
	"moviepipeline/internal/session"
)

type recordDoc struct {
	ID               string  `bson:"_id"`
	OutputPath       string  `bson:"outputPath"`
	AnchorTime       float64 `bson:"anchorTime"`
	RecordedDuration float64 `bson:"recordedDuration"`
	FinalState       int     `bson:"finalState"`
	Err              string  `bson:"err,omitempty"`
	FinishedAt       int64   `bson:"finishedAt"`
}

type resumePositionDoc struct {
	ID        string  `bson:"_id"`
	AssetID   string  `bson:"assetId"`
	Position  float64 `bson:"position"`
	UpdatedAt int64   `bson:"updatedAt"`
}

// Repository persists recording-session records and resume positions in
// two collections of the configured database.
type Repository struct {
	records         *mongo.Collection
	resumePositions *mongo.Collection
}

func NewRepository(client *mongo.Client, dbName string) *Repository {
	db := client.Database(dbName)
	return &Repository{
		records:         db.Collection("recording_sessions"),
		resumePositions: db.Collection("resume_positions"),
	}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// EnsureIndexes creates the query indexes ListRecords and the resume
// lookups rely on. Safe to call repeatedly.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	if r == nil {
		return nil
	}
	_, err := r.records.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "finishedAt", Value: -1}}},
		{Keys: bson.D{{Key: "finalState", Value: 1}}},
	})
	if err != nil {
		return err
	}
	_, err = r.resumePositions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
	})
	return err
}

var _ session.Repository = (*Repository)(nil)

func (r *Repository) SaveRecord(ctx context.Context, rec session.Record) error {
	doc := recordDoc{
		ID:               rec.ID,
		OutputPath:       rec.OutputPath,
		AnchorTime:       rec.AnchorTime,
		RecordedDuration: rec.RecordedDuration,
		FinalState:       int(rec.FinalState),
		Err:              rec.Err,
		FinishedAt:       rec.FinishedAt.Unix(),
	}
	_, err := r.records.UpdateOne(
		ctx,
		bson.M{"_id": rec.ID},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *Repository) ListRecords(ctx context.Context, limit int) ([]session.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	opts := options.Find().SetSort(bson.D{{Key: "finishedAt", Value: -1}}).SetLimit(int64(limit))
	cursor, err := r.records.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []recordDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]session.Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, session.Record{
			ID:               d.ID,
			OutputPath:       d.OutputPath,
			AnchorTime:       d.AnchorTime,
			RecordedDuration: d.RecordedDuration,
			FinalState:       domain.WriterState(d.FinalState),
			Err:              d.Err,
			FinishedAt:       time.Unix(d.FinishedAt, 0).UTC(),
		})
	}
	return out, nil
}

func (r *Repository) SaveResumePosition(ctx context.Context, rp session.ResumePosition) error {
	doc := resumePositionDoc{
		ID:        rp.AssetID,
		AssetID:   rp.AssetID,
		Position:  rp.Position,
		UpdatedAt: rp.UpdatedAt.Unix(),
	}
	_, err := r.resumePositions.UpdateOne(
		ctx,
		bson.M{"_id": rp.AssetID},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *Repository) GetResumePosition(ctx context.Context, assetID string) (session.ResumePosition, bool, error) {
	var doc resumePositionDoc
	err := r.resumePositions.FindOne(ctx, bson.M{"_id": assetID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return session.ResumePosition{}, false, nil
		}
		return session.ResumePosition{}, false, err
	}
	return session.ResumePosition{
		AssetID:   doc.AssetID,
		Position:  doc.Position,
		UpdatedAt: time.Unix(doc.UpdatedAt, 0).UTC(),
	}, true, nil
}
