package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/quangminh-smart-border/consignment-service/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique column would be violated.
	ErrDuplicate = errors.New("duplicate record")
	// ErrVersionConflict is returned when a row changed between read and write.
	ErrVersionConflict = errors.New("optimistic lock conflict")
	// ErrCacheMiss is returned when the cache holds nothing for a key.
	ErrCacheMiss = errors.New("cache miss")
)

// RepositoryInterface restricts Repo methods so the service can be tested against fakes.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	CreateConsignment(ctx context.Context, tx *gorm.DB, c *model.Consignment) error
	ConsignmentExists(ctx context.Context, tx *gorm.DB, trackingNumber string) (bool, error)
	GetConsignmentForUpdate(ctx context.Context, tx *gorm.DB, trackingNumber string) (*model.Consignment, error)
	GetConsignment(ctx context.Context, trackingNumber string) (*model.Consignment, error)
	GetConsignmentByID(ctx context.Context, id uint64) (*model.Consignment, error)
	FindByTrackingNumbers(ctx context.Context, trackingNumbers []string) ([]model.Consignment, error)
	UpdateConsignment(ctx context.Context, tx *gorm.DB, c *model.Consignment, oldVersion uint64) error
	DeleteConsignment(ctx context.Context, tx *gorm.DB, id uint64) error
	ListConsignments(ctx context.Context, q ConsignmentQuery) ([]model.Consignment, int64, error)
	StatusCounts(ctx context.Context) (map[string]int64, error)
	InTransitEtas(ctx context.Context) ([]float64, error)

	AppendEvent(ctx context.Context, tx *gorm.DB, e *model.TrackingEvent) error
	ListEvents(ctx context.Context, tx *gorm.DB, consignmentID uint64) ([]model.TrackingEvent, error)
	EventByIdempotencyKey(ctx context.Context, tx *gorm.DB, consignmentID uint64, key string) (bool, *model.TrackingEvent, error)

	UserExists(ctx context.Context, tx *gorm.DB, id uint64) (bool, error)
	DeleteUser(ctx context.Context, id uint64) error

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CacheConsignment(ctx context.Context, c *model.Consignment) error
	GetCachedConsignment(ctx context.Context, trackingNumber string) (*model.Consignment, error)
	InvalidateConsignment(ctx context.Context, trackingNumber string) error
}

// Repository implements RepositoryInterface.
type Repository struct {
	db       *gorm.DB
	rdb      *redis.Client
	writer   *kafka.Writer
	log      *zap.SugaredLogger
	cacheTTL time.Duration
}

// NewRepository constructs repo. rdb and w may be nil; caching and publishing then report errors.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, cacheTTL time.Duration, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, cacheTTL: cacheTTL, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// Migrate creates or updates the schema.
func (r *Repository) Migrate(ctx context.Context) error {
	return r.DB(ctx).AutoMigrate(&model.User{}, &model.Consignment{}, &model.TrackingEvent{}, &model.OutboxEvent{})
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = ?", false).Order("id").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka keyed by tracking number so one consignment stays on one partition.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	if r.writer == nil {
		return errors.New("kafka writer not configured")
	}
	msg := kafka.Message{
		Key:   []byte(evt.AggregateID),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
			{Key: "outbox_id", Value: []byte(fmt.Sprintf("%d", evt.ID))},
		},
	}
	return r.writer.WriteMessages(ctx, msg)
}

func cacheKey(trackingNumber string) string {
	return "consignment:" + trackingNumber
}

// CacheConsignment writes the aggregate, events included, to Redis.
func (r *Repository) CacheConsignment(ctx context.Context, c *model.Consignment) error {
	if r.rdb == nil {
		return nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, cacheKey(c.TrackingNumber), b, r.cacheTTL).Err()
}

// GetCachedConsignment reads Redis.
func (r *Repository) GetCachedConsignment(ctx context.Context, trackingNumber string) (*model.Consignment, error) {
	if r.rdb == nil {
		return nil, ErrCacheMiss
	}
	b, err := r.rdb.Get(ctx, cacheKey(trackingNumber)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	var c model.Consignment
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// InvalidateConsignment drops the cached aggregate.
func (r *Repository) InvalidateConsignment(ctx context.Context, trackingNumber string) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Del(ctx, cacheKey(trackingNumber)).Err()
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}
