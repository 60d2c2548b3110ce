package forms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection("intake_forms")}
}

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

func (m *MongoStore) CreateIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create intake form indexes: %w", err)
	}
	return nil
}

// formDocument is the stored shape; UUIDs travel as strings in Mongo.
type formDocument struct {
	SessionID string         `bson:"session_id"`
	ClientID  string         `bson:"client_id"`
	Answers   map[string]any `bson:"answers"`
	Submitted bool           `bson:"submitted"`
	CreatedAt time.Time      `bson:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

func (d *formDocument) toForm() (*IntakeForm, error) {
	sessionID, err := uuid.Parse(d.SessionID)
	if err != nil {
		return nil, fmt.Errorf("invalid session_id in intake form: %w", err)
	}
	clientID, err := uuid.Parse(d.ClientID)
	if err != nil {
		return nil, fmt.Errorf("invalid client_id in intake form: %w", err)
	}
	return &IntakeForm{
		SessionID: sessionID,
		ClientID:  clientID,
		Answers:   d.Answers,
		Submitted: d.Submitted,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

func (m *MongoStore) Get(ctx context.Context, sessionID uuid.UUID) (*IntakeForm, error) {
	var doc formDocument

	filter := bson.M{"session_id": sessionID.String()}
	err := m.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrFormNotFound
		}
		return nil, fmt.Errorf("failed to get intake form: %w", err)
	}

	return doc.toForm()
}

func (m *MongoStore) Upsert(ctx context.Context, form *IntakeForm) error {
	now := time.Now()
	if form.CreatedAt.IsZero() {
		form.CreatedAt = now
	}
	form.UpdatedAt = now

	filter := bson.M{"session_id": form.SessionID.String()}
	update := bson.M{"$set": formDocument{
		SessionID: form.SessionID.String(),
		ClientID:  form.ClientID.String(),
		Answers:   form.Answers,
		Submitted: form.Submitted,
		CreatedAt: form.CreatedAt,
		UpdatedAt: form.UpdatedAt,
	}}
	opts := options.Update().SetUpsert(true)

	if _, err := m.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert intake form: %w", err)
	}
	return nil
}

func (m *MongoStore) Complete(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	form, err := m.Get(ctx, sessionID)
	if errors.Is(err, ErrFormNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return form.Submitted, nil
}
