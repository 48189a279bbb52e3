package repository

import (
	"context"
	"time"

	"github.com/example/freshmart/pkg/apperrors"
	"github.com/example/freshmart/pkg/config"
	"github.com/example/freshmart/pkg/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoRepository writes the append-only audit trail.
type MongoRepository struct {
	client   *mongo.Client
	database *mongo.Database
	config   *config.MongoDBConfig
	service  string
	logger   *zap.Logger
}

func NewMongoRepository(cfg *config.MongoDBConfig, service string, logger *zap.Logger) (*MongoRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}

	return &MongoRepository{
		client:   client,
		database: client.Database(cfg.Database),
		config:   cfg,
		service:  service,
		logger:   logger.Named("audit"),
	}, nil
}

func (m *MongoRepository) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoRepository) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// AuditLog is one stored audit entry.
type AuditLog struct {
	ID        string    `bson:"_id,omitempty" json:"-"`
	Service   string    `bson:"service" json:"service"`
	Action    string    `bson:"action" json:"action"`
	EntityID  string    `bson:"entity_id" json:"entity_id"`
	ActorID   string    `bson:"actor_id,omitempty" json:"actor_id,omitempty"`
	Data      bson.M    `bson:"data,omitempty" json:"data,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

func newAuditLog(service string, ev store.AuditEvent, at time.Time) *AuditLog {
	var data bson.M
	if len(ev.Data) > 0 {
		data = bson.M{}
		for k, v := range ev.Data {
			data[k] = v
		}
	}
	return &AuditLog{
		Service:   service,
		Action:    ev.Action,
		EntityID:  ev.EntityID,
		ActorID:   ev.ActorID,
		Data:      data,
		CreatedAt: at,
	}
}

func (m *MongoRepository) CreateAuditLog(ctx context.Context, log *AuditLog) error {
	collection := m.database.Collection(m.config.Collection)
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	_, err := collection.InsertOne(ctx, log)
	return err
}

// Record stores the event in the background; failures are logged.
func (m *MongoRepository) Record(_ context.Context, ev store.AuditEvent) error {
	entry := newAuditLog(m.service, ev, time.Now())
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.CreateAuditLog(ctx, entry); err != nil {
			m.logger.Warn("Failed to write audit log",
				zap.String("action", entry.Action),
				zap.String("entity_id", entry.EntityID),
				zap.Error(err))
		}
	}()
	return nil
}

// AuditTrail returns the newest entries for an entity.
func (m *MongoRepository) AuditTrail(ctx context.Context, entityID string, limit int64) ([]*AuditLog, error) {
	collection := m.database.Collection(m.config.Collection)

	filter := bson.M{"entity_id": entityID}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperrors.Persistence("read audit trail", err)
	}
	defer cursor.Close(ctx)

	logs := []*AuditLog{}
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, apperrors.Persistence("read audit trail", err)
	}

	return logs, nil
}

var _ store.AuditSink = (*MongoRepository)(nil)
