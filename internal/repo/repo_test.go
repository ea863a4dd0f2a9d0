package repo

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/quangminh-smart-border/consignment-service/internal/logger"
	"github.com/quangminh-smart-border/consignment-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) (*Repository, *miniredis.Miniredis) {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	r := NewRepository(db, rdb, nil, time.Minute, must(logger.NewLogger("error")))
	require.NoError(t, r.Migrate(context.Background()))
	return r, mr
}

func must(l *zap.SugaredLogger, err error) *zap.SugaredLogger {
	if err != nil {
		panic(err)
	}
	return l
}

func seed(t *testing.T, r *Repository, tn, origin string) *model.Consignment {
	t.Helper()
	c := &model.Consignment{TrackingNumber: tn, Origin: origin, Destination: "Pingxiang", Status: model.StatusPending}
	require.NoError(t, r.CreateConsignment(context.Background(), r.db, c))
	return c
}

func addEvent(t *testing.T, r *Repository, c *model.Consignment, code string, at time.Time) *model.TrackingEvent {
	t.Helper()
	e := &model.TrackingEvent{ConsignmentID: c.ID, EventCode: code, Description: code, EventTime: at}
	require.NoError(t, r.AppendEvent(context.Background(), r.db, e))
	return e
}

func TestCreateConsignment_Duplicate(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	seed(t, r, "QMSB-1", "Hanoi")

	err := r.CreateConsignment(ctx, r.db, &model.Consignment{TrackingNumber: "QMSB-1", Origin: "x", Destination: "y", Status: model.StatusPending})
	assert.ErrorIs(t, err, ErrDuplicate)

	ok, err := r.ConsignmentExists(ctx, r.db, "QMSB-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.ConsignmentExists(ctx, r.db, "QMSB-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetConsignment_HistoryOrder(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	c := seed(t, r, "QMSB-1", "Hanoi")

	base := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	addEvent(t, r, c, "LATE", base.Add(2*time.Hour))
	addEvent(t, r, c, "EARLY", base)
	addEvent(t, r, c, "TIE_1", base.Add(time.Hour))
	addEvent(t, r, c, "TIE_2", base.Add(time.Hour))

	got, err := r.GetConsignment(ctx, "QMSB-1")
	require.NoError(t, err)
	codes := []string{}
	for _, e := range got.Events {
		codes = append(codes, e.EventCode)
	}
	assert.Equal(t, []string{"EARLY", "TIE_1", "TIE_2", "LATE"}, codes)

	_, err = r.GetConsignment(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.GetConsignmentByID(ctx, 12345)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateConsignment_VersionConflict(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	c := seed(t, r, "QMSB-1", "Hanoi")

	eta := 12.0
	c.Status = model.StatusInTransit
	c.PredictedEtaHours = &eta
	require.NoError(t, r.UpdateConsignment(ctx, r.db, c, 0))
	assert.Equal(t, uint64(1), c.Version)

	// stale version loses
	stale := *c
	stale.Status = model.StatusException
	assert.ErrorIs(t, r.UpdateConsignment(ctx, r.db, &stale, 0), ErrVersionConflict)

	got, err := r.GetConsignment(ctx, "QMSB-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInTransit, got.Status)
	assert.Equal(t, 12.0, *got.PredictedEtaHours)
}

func TestDeleteConsignment_RemovesEvents(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	c := seed(t, r, "QMSB-1", "Hanoi")
	keep := seed(t, r, "QMSB-2", "Hanoi")
	addEvent(t, r, c, "DEPARTED", time.Now())
	addEvent(t, r, keep, "DEPARTED", time.Now())

	require.NoError(t, r.DeleteConsignment(ctx, r.db, c.ID))
	assert.ErrorIs(t, r.DeleteConsignment(ctx, r.db, c.ID), ErrNotFound)

	evts, err := r.ListEvents(ctx, r.db, c.ID)
	require.NoError(t, err)
	assert.Empty(t, evts)
	evts, err = r.ListEvents(ctx, r.db, keep.ID)
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}

func TestFindByTrackingNumbers(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	seed(t, r, "A", "Hanoi")
	seed(t, r, "C", "Hanoi")

	got, err := r.FindByTrackingNumbers(ctx, []string{"A", "B", "C"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "C", got[0].TrackingNumber)
	assert.Equal(t, "A", got[1].TrackingNumber)

	got, err = r.FindByTrackingNumbers(ctx, nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestEventByIdempotencyKey(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	c := seed(t, r, "QMSB-1", "Hanoi")
	key := "k-1"
	e := &model.TrackingEvent{ConsignmentID: c.ID, EventCode: "SCAN", Description: "scan", EventTime: time.Now(), IdempotencyKey: &key}
	require.NoError(t, r.AppendEvent(ctx, r.db, e))

	ok, got, err := r.EventByIdempotencyKey(ctx, r.db, c.ID, "k-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, e.ID, got.ID)

	ok, _, err = r.EventByIdempotencyKey(ctx, r.db, c.ID, "k-2")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, _, err = r.EventByIdempotencyKey(ctx, r.db, c.ID, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteUser_NullsAuthor(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	c := seed(t, r, "QMSB-1", "Hanoi")
	u := model.User{Email: "ops@example.com", Role: model.RoleOps}
	require.NoError(t, r.db.Create(&u).Error)

	e := &model.TrackingEvent{ConsignmentID: c.ID, EventCode: "SCAN", Description: "scan", EventTime: time.Now(), CreatedByID: &u.ID}
	require.NoError(t, r.AppendEvent(ctx, r.db, e))

	ok, err := r.UserExists(ctx, r.db, u.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, r.DeleteUser(ctx, u.ID))
	assert.ErrorIs(t, r.DeleteUser(ctx, u.ID), ErrNotFound)

	evts, err := r.ListEvents(ctx, r.db, c.ID)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Nil(t, evts[0].CreatedByID)
}

func TestListConsignments_FilterSortPage(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	seed(t, r, "VN-003", "Hanoi")
	seed(t, r, "VN-001", "Hai Phong")
	seed(t, r, "CN-002", "HANOI")

	rows, total, err := r.ListConsignments(ctx, ConsignmentQuery{Page: 1, Limit: 10, Origin: "hanoi", SortBy: "trackingNumber", SortDesc: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, rows, 2)
	assert.Equal(t, "VN-003", rows[0].TrackingNumber)
	assert.Equal(t, "CN-002", rows[1].TrackingNumber)

	rows, total, err = r.ListConsignments(ctx, ConsignmentQuery{Page: 2, Limit: 2, Search: "vn", SortBy: "trackingNumber"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Empty(t, rows)

	rows, _, err = r.ListConsignments(ctx, ConsignmentQuery{Page: 1, Limit: 2, SortBy: "trackingNumber"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "CN-002", rows[0].TrackingNumber)
	assert.Equal(t, "VN-001", rows[1].TrackingNumber)
}

func TestStatusCountsAndEtas(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	a := seed(t, r, "A", "Hanoi")
	b := seed(t, r, "B", "Hanoi")
	seed(t, r, "C", "Hanoi")

	for _, c := range []*model.Consignment{a, b} {
		eta := 10.0
		c.Status = model.StatusInTransit
		c.PredictedEtaHours = &eta
		require.NoError(t, r.UpdateConsignment(ctx, r.db, c, c.Version))
	}

	counts, err := r.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.StatusInTransit])
	assert.Equal(t, int64(1), counts[model.StatusPending])

	etas, err := r.InTransitEtas(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 10}, etas)
}

func TestConsignmentCache(t *testing.T) {
	r, mr := newTestRepo(t)
	ctx := context.Background()
	c := seed(t, r, "QMSB-1", "Hanoi")
	addEvent(t, r, c, "DEPARTED", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	_, err := r.GetCachedConsignment(ctx, "QMSB-1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	full, err := r.GetConsignment(ctx, "QMSB-1")
	require.NoError(t, err)
	require.NoError(t, r.CacheConsignment(ctx, full))
	assert.True(t, mr.Exists("consignment:QMSB-1"))
	assert.Equal(t, time.Minute, mr.TTL("consignment:QMSB-1"))

	cached, err := r.GetCachedConsignment(ctx, "QMSB-1")
	require.NoError(t, err)
	assert.Equal(t, full.ID, cached.ID)
	require.Len(t, cached.Events, 1)
	assert.Equal(t, "DEPARTED", cached.Events[0].EventCode)

	require.NoError(t, r.InvalidateConsignment(ctx, "QMSB-1"))
	_, err = r.GetCachedConsignment(ctx, "QMSB-1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCache_DisabledWithoutRedis(t *testing.T) {
	r := NewRepository(nil, nil, nil, time.Minute, must(logger.NewLogger("error")))
	ctx := context.Background()
	assert.NoError(t, r.CacheConsignment(ctx, &model.Consignment{TrackingNumber: "X"}))
	_, err := r.GetCachedConsignment(ctx, "X")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.NoError(t, r.InvalidateConsignment(ctx, "X"))
	assert.Error(t, r.PublishEvent(ctx, model.OutboxEvent{AggregateID: "X"}))
}

func TestOutbox_PollAndMark(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, r.CreateOutboxEvent(ctx, r.db, &model.OutboxEvent{
			Aggregate: "Consignment", AggregateID: "QMSB-1", EventType: model.EventTrackingAppended, Payload: "{}",
		}))
	}

	evts, err := r.PollOutbox(ctx, 2)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	require.NoError(t, r.MarkOutboxProcessed(ctx, evts[0].ID))

	evts, err = r.PollOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, evts, 2)
}
