package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoAuditStore is an alternate AuditStore backend for deployments that
// route audit_logs/debug_logs to a document store instead of Postgres
// (config's database.backend: "mongodb"). The balance ledger itself always
// stays on Postgres; only these two append-only, non-transactional logs
// move.
type MongoAuditStore struct {
	auditLogs *mongo.Collection
	debugLogs *mongo.Collection
}

// NewMongoAuditStore connects to uri and returns a store backed by
// database's audit_logs/debug_logs collections.
func NewMongoAuditStore(ctx context.Context, uri, database string) (*MongoAuditStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("ledger: connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ledger: ping mongo: %w", err)
	}
	db := client.Database(database)
	return &MongoAuditStore{
		auditLogs: db.Collection("audit_logs"),
		debugLogs: db.Collection("debug_logs"),
	}, nil
}

type auditLogDocument struct {
	ID        uuid.UUID      `bson:"_id"`
	Action    string         `bson:"action"`
	AccountID *uuid.UUID     `bson:"account_id,omitempty"`
	RequestID string         `bson:"request_id"`
	IP        string         `bson:"ip"`
	UserAgent string         `bson:"user_agent"`
	Metadata  map[string]any `bson:"metadata"`
	CreatedAt time.Time      `bson:"created_at"`
}

type debugLogDocument struct {
	ID           uuid.UUID `bson:"_id"`
	AccountID    uuid.UUID `bson:"account_id"`
	RequestID    string    `bson:"request_id"`
	RequestBody  []byte    `bson:"request_body"`
	ResponseBody []byte    `bson:"response_body"`
	Status       int       `bson:"status"`
	CreatedAt    time.Time `bson:"created_at"`
}

func (s *MongoAuditStore) RecordAudit(ctx context.Context, entry AuditLog) error {
	doc := auditLogDocument{
		ID:        uuid.New(),
		Action:    entry.Action,
		AccountID: entry.AccountID,
		RequestID: entry.RequestID,
		IP:        entry.IP,
		UserAgent: entry.UserAgent,
		Metadata:  entry.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.auditLogs.InsertOne(ctx, doc)
	return err
}

func (s *MongoAuditStore) RecordDebug(ctx context.Context, entry DebugLog) error {
	doc := debugLogDocument{
		ID:           uuid.New(),
		AccountID:    entry.AccountID,
		RequestID:    entry.RequestID,
		RequestBody:  entry.RequestBody,
		ResponseBody: entry.ResponseBody,
		Status:       entry.Status,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.debugLogs.InsertOne(ctx, doc)
	return err
}
