package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/quangminh-smart-border/consignment-service/internal/metrics"
	"github.com/quangminh-smart-border/consignment-service/internal/model"
	"github.com/quangminh-smart-border/consignment-service/internal/repo"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	maxTrackingNumberLen = 100
	maxEventCodeLen      = 50
)

// CreateInput carries the client fields of a new consignment. Status is not among them:
// every consignment starts PENDING.
type CreateInput struct {
	TrackingNumber        string
	Origin                string
	Destination           string
	CustomerID            *uint64
	EstimatedDeliveryDate *time.Time
	Metadata              datatypes.JSON
}

// UpdateInput is a partial admin correction. Nil fields are left alone.
type UpdateInput struct {
	Origin                *string
	Destination           *string
	Status                *string
	CustomerID            *uint64
	EstimatedDeliveryDate *time.Time
	Metadata              datatypes.JSON
}

type EventInput struct {
	EventCode      string
	Description    string
	EventTime      *time.Time
	Location       *string
	Geo            *string
	IdempotencyKey string
}

// Actor identifies who performs a write. UserID is nil for system writes.
type Actor struct {
	UserID *uint64
	Role   string
}

type AppendResult struct {
	Event       *model.TrackingEvent
	Consignment *model.Consignment
	Duplicate   bool
	Warnings    []string
}

// ConsignmentService owns the consignment write path: event append, status
// resolution and ETA recomputation commit as one unit per tracking number.
type ConsignmentService struct {
	repo      repo.RepositoryInterface
	estimator Estimator
	locks     *KeyedMutex
	metrics   *metrics.Metrics
	log       *zap.SugaredLogger
	now       func() time.Time
}

// NewConsignmentService returns ConsignmentService.
func NewConsignmentService(r repo.RepositoryInterface, est Estimator, m *metrics.Metrics, logger *zap.SugaredLogger) *ConsignmentService {
	if m == nil {
		m = metrics.New("consignment")
	}
	return &ConsignmentService{
		repo:      r,
		estimator: est,
		locks:     NewKeyedMutex(),
		metrics:   m,
		log:       logger,
		now:       time.Now,
	}
}

// Create registers a consignment with an empty history, PENDING status and an initial ETA.
func (s *ConsignmentService) Create(ctx context.Context, in CreateInput) (*model.Consignment, error) {
	tn := strings.TrimSpace(in.TrackingNumber)
	if err := validateTrackingNumber(tn); err != nil {
		return nil, err
	}
	origin, destination := strings.TrimSpace(in.Origin), strings.TrimSpace(in.Destination)
	if origin == "" || destination == "" {
		return nil, validationf("origin and destination are required")
	}
	md, err := normalizeMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(tn)
	defer unlock()

	c := &model.Consignment{
		TrackingNumber:        tn,
		CustomerID:            in.CustomerID,
		Origin:                origin,
		Destination:           destination,
		Status:                model.StatusPending,
		EstimatedDeliveryDate: in.EstimatedDeliveryDate,
		Metadata:              md,
	}
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := s.repo.ConsignmentExists(ctx, tx, tn)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: tracking number %q already exists", ErrConflict, tn)
		}
		s.estimate(c, nil)
		if err := s.repo.CreateConsignment(ctx, tx, c); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return fmt.Errorf("%w: tracking number %q already exists", ErrConflict, tn)
			}
			return err
		}
		return s.writeOutbox(ctx, tx, c, model.EventConsignmentCreated, map[string]interface{}{
			"status":            c.Status,
			"origin":            c.Origin,
			"destination":       c.Destination,
			"predictedEtaHours": c.PredictedEtaHours,
		})
	})
	if err != nil {
		return nil, err
	}
	c.Events = []model.TrackingEvent{}
	s.invalidate(ctx, tn)
	s.metrics.ConsignmentsCreated.Inc()
	s.log.Infof("consignment %s created eta=%v", tn, fmtHours(c.PredictedEtaHours))
	return c, nil
}

// Get returns the aggregate with its ordered history, from cache when possible.
func (s *ConsignmentService) Get(ctx context.Context, trackingNumber string) (*model.Consignment, error) {
	tn := strings.TrimSpace(trackingNumber)
	if tn == "" {
		return nil, validationf("tracking number is required")
	}
	cached, err := s.repo.GetCachedConsignment(ctx, tn)
	if err == nil {
		s.metrics.RecordCacheLookup(true)
		return cached, nil
	}
	if !errors.Is(err, repo.ErrCacheMiss) {
		s.log.Warnf("cache read %s: %v", tn, err)
	}
	s.metrics.RecordCacheLookup(false)

	c, err := s.repo.GetConsignment(ctx, tn)
	if err != nil {
		return nil, mapRepoErr(err, tn)
	}
	if err := s.repo.CacheConsignment(ctx, c); err != nil {
		s.log.Warn(err)
	}
	return c, nil
}

// GetByID is the admin lookup by surrogate key.
func (s *ConsignmentService) GetByID(ctx context.Context, id uint64) (*model.Consignment, error) {
	c, err := s.repo.GetConsignmentByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err, fmt.Sprintf("#%d", id))
	}
	return c, nil
}

// ListEvents returns the history ordered by event time, insertion order on ties.
func (s *ConsignmentService) ListEvents(ctx context.Context, trackingNumber string) ([]model.TrackingEvent, error) {
	c, err := s.Get(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}
	if c.Events == nil {
		return []model.TrackingEvent{}, nil
	}
	return c.Events, nil
}

var trackingNumberSep = regexp.MustCompile(`[,;\s]+`)

// ParseTrackingNumbers splits a comma, semicolon or whitespace separated list,
// dropping blanks and repeats while keeping first-seen order.
func ParseTrackingNumbers(raw string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, part := range trackingNumberSep.Split(raw, -1) {
		tn := strings.TrimSpace(part)
		if tn == "" {
			continue
		}
		if _, ok := seen[tn]; ok {
			continue
		}
		seen[tn] = struct{}{}
		out = append(out, tn)
	}
	return out
}

// BatchLookup never reports missing tracking numbers; they are simply absent from the result.
func (s *ConsignmentService) BatchLookup(ctx context.Context, raw string) ([]model.Consignment, error) {
	numbers := ParseTrackingNumbers(raw)
	if len(numbers) == 0 {
		return []model.Consignment{}, nil
	}
	return s.repo.FindByTrackingNumbers(ctx, numbers)
}

// Update merges an admin correction and re-estimates the ETA against the existing history.
// A status override is written as given; it does not pass through the resolver.
func (s *ConsignmentService) Update(ctx context.Context, trackingNumber string, in UpdateInput) (*model.Consignment, error) {
	tn := strings.TrimSpace(trackingNumber)
	if tn == "" {
		return nil, validationf("tracking number is required")
	}
	if err := validateUpdate(in); err != nil {
		return nil, err
	}
	md, err := normalizeMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(tn)
	defer unlock()

	var c *model.Consignment
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		c, err = s.repo.GetConsignmentForUpdate(ctx, tx, tn)
		if err != nil {
			return mapRepoErr(err, tn)
		}
		oldVersion, prevStatus := c.Version, c.Status
		in.merge(c, md)

		history, err := s.repo.ListEvents(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		s.estimate(c, history)
		if err := s.repo.UpdateConsignment(ctx, tx, c, oldVersion); err != nil {
			return mapRepoErr(err, tn)
		}
		c.Events = history
		return s.writeOutbox(ctx, tx, c, model.EventConsignmentUpdated, map[string]interface{}{
			"previousStatus":    prevStatus,
			"status":            c.Status,
			"predictedEtaHours": c.PredictedEtaHours,
		})
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, tn)
	s.log.Infof("consignment %s updated status=%s eta=%v", tn, c.Status, fmtHours(c.PredictedEtaHours))
	return c, nil
}

// UpdateByID is Update addressed by surrogate key.
func (s *ConsignmentService) UpdateByID(ctx context.Context, id uint64, in UpdateInput) (*model.Consignment, error) {
	c, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, c.TrackingNumber, in)
}

// AppendEvent records a tracking event and, in the same transaction, moves the status
// and recomputes the ETA. An estimator failure keeps the previous ETA and is reported
// as a warning; the event and the status change still commit.
func (s *ConsignmentService) AppendEvent(ctx context.Context, trackingNumber string, in EventInput, actor Actor) (*AppendResult, error) {
	tn := strings.TrimSpace(trackingNumber)
	if tn == "" {
		return nil, validationf("tracking number is required")
	}
	code, desc := strings.TrimSpace(in.EventCode), strings.TrimSpace(in.Description)
	if code == "" || desc == "" {
		return nil, validationf("eventCode and description are required")
	}
	if len(code) > maxEventCodeLen {
		return nil, validationf("eventCode longer than %d characters", maxEventCodeLen)
	}

	unlock := s.locks.Lock(tn)
	defer unlock()

	res := &AppendResult{}
	var resolution Resolution
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := s.repo.GetConsignmentForUpdate(ctx, tx, tn)
		if err != nil {
			return mapRepoErr(err, tn)
		}
		res.Consignment = c

		if in.IdempotencyKey != "" {
			existed, prev, err := s.repo.EventByIdempotencyKey(ctx, tx, c.ID, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if existed {
				res.Event, res.Duplicate = prev, true
				c.Events, err = s.repo.ListEvents(ctx, tx, c.ID)
				return err
			}
		}

		eventTime := s.now()
		if in.EventTime != nil {
			eventTime = *in.EventTime
		}
		e := &model.TrackingEvent{
			ConsignmentID: c.ID,
			EventCode:     code,
			Description:   desc,
			EventTime:     eventTime.UTC(),
			Location:      trimPtr(in.Location),
			Geo:           trimPtr(in.Geo),
		}
		if in.IdempotencyKey != "" {
			key := in.IdempotencyKey
			e.IdempotencyKey = &key
		}
		if actor.UserID != nil {
			ok, err := s.repo.UserExists(ctx, tx, *actor.UserID)
			if err != nil {
				return err
			}
			if ok {
				e.CreatedByID = actor.UserID
			}
		}
		if err := s.repo.AppendEvent(ctx, tx, e); err != nil {
			return err
		}
		res.Event = e

		oldVersion := c.Version
		resolution = ResolveStatus(*c, *e)
		resolution.Apply(c)

		history, err := s.repo.ListEvents(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		if w := s.estimate(c, history); w != "" {
			res.Warnings = append(res.Warnings, w)
		}
		if err := s.repo.UpdateConsignment(ctx, tx, c, oldVersion); err != nil {
			return mapRepoErr(err, tn)
		}
		c.Events = history
		return s.writeOutbox(ctx, tx, c, model.EventTrackingAppended, map[string]interface{}{
			"eventId":           e.ID,
			"eventCode":         e.EventCode,
			"eventTime":         e.EventTime,
			"location":          e.Location,
			"previousStatus":    resolution.From,
			"status":            c.Status,
			"predictedEtaHours": c.PredictedEtaHours,
		})
	})
	if err != nil {
		return nil, err
	}
	if res.Duplicate {
		s.log.Infof("consignment %s: event with idempotency key %s already recorded", tn, in.IdempotencyKey)
		return res, nil
	}

	s.invalidate(ctx, tn)
	s.metrics.EventsAppended.WithLabelValues(ParseEventKind(code).String()).Inc()
	s.metrics.RecordTransition(resolution.From, resolution.To)
	s.log.Infof("consignment %s event %s: %s -> %s eta=%v",
		tn, code, resolution.From, resolution.To, fmtHours(res.Consignment.PredictedEtaHours))
	return res, nil
}

// Delete removes the consignment together with its whole history.
func (s *ConsignmentService) Delete(ctx context.Context, trackingNumber string) error {
	tn := strings.TrimSpace(trackingNumber)
	if tn == "" {
		return validationf("tracking number is required")
	}
	unlock := s.locks.Lock(tn)
	defer unlock()

	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := s.repo.GetConsignmentForUpdate(ctx, tx, tn)
		if err != nil {
			return mapRepoErr(err, tn)
		}
		if err := s.repo.DeleteConsignment(ctx, tx, c.ID); err != nil {
			return mapRepoErr(err, tn)
		}
		return s.writeOutbox(ctx, tx, c, model.EventConsignmentDeleted, map[string]interface{}{
			"status": c.Status,
		})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, tn)
	s.log.Infof("consignment %s deleted", tn)
	return nil
}

// DeleteByID is Delete addressed by surrogate key.
func (s *ConsignmentService) DeleteByID(ctx context.Context, id uint64) error {
	c, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return s.Delete(ctx, c.TrackingNumber)
}

// DeleteUser removes a staff user. Events they recorded lose their author and stay.
// Cached aggregates may show the author until their TTL runs out.
func (s *ConsignmentService) DeleteUser(ctx context.Context, id uint64) error {
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return mapRepoErr(err, fmt.Sprintf("user #%d", id))
	}
	s.log.Infof("user %d deleted", id)
	return nil
}

// estimate refreshes c.PredictedEtaHours. On failure the previous value stays and a
// warning message is returned.
func (s *ConsignmentService) estimate(c *model.Consignment, history []model.TrackingEvent) string {
	eta, err := s.safeEstimate(c, history)
	if err != nil {
		s.metrics.EtaFailures.Inc()
		s.log.Warnf("eta estimation for %s failed, keeping %v: %v", c.TrackingNumber, fmtHours(c.PredictedEtaHours), err)
		return fmt.Sprintf("eta estimation failed: %v", err)
	}
	c.PredictedEtaHours = eta
	return ""
}

func (s *ConsignmentService) safeEstimate(c *model.Consignment, history []model.TrackingEvent) (eta *float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			eta, err = nil, fmt.Errorf("estimator panic: %v", r)
		}
	}()
	return s.estimator.Estimate(c, history)
}

func (s *ConsignmentService) writeOutbox(ctx context.Context, tx *gorm.DB, c *model.Consignment, eventType string, payload map[string]interface{}) error {
	payload["trackingNumber"] = c.TrackingNumber
	payload["occurredAt"] = s.now().UTC()
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
		Aggregate:   "Consignment",
		AggregateID: c.TrackingNumber,
		EventType:   eventType,
		Payload:     string(b),
	})
}

func (s *ConsignmentService) invalidate(ctx context.Context, tn string) {
	if err := s.repo.InvalidateConsignment(ctx, tn); err != nil {
		s.log.Warnf("cache invalidate %s: %v", tn, err)
	}
}

func (in UpdateInput) merge(c *model.Consignment, md datatypes.JSON) {
	if in.Origin != nil {
		c.Origin = strings.TrimSpace(*in.Origin)
	}
	if in.Destination != nil {
		c.Destination = strings.TrimSpace(*in.Destination)
	}
	if in.Status != nil {
		c.Status = *in.Status
	}
	if in.CustomerID != nil {
		c.CustomerID = in.CustomerID
	}
	if in.EstimatedDeliveryDate != nil {
		c.EstimatedDeliveryDate = in.EstimatedDeliveryDate
	}
	if md != nil {
		c.Metadata = md
	}
}

func validateTrackingNumber(tn string) error {
	if tn == "" {
		return validationf("trackingNumber is required")
	}
	if len(tn) > maxTrackingNumberLen {
		return validationf("trackingNumber longer than %d characters", maxTrackingNumberLen)
	}
	if trackingNumberSep.MatchString(tn) {
		return validationf("trackingNumber must not contain separators")
	}
	return nil
}

func validateUpdate(in UpdateInput) error {
	if in.Origin != nil && strings.TrimSpace(*in.Origin) == "" {
		return validationf("origin must not be blank")
	}
	if in.Destination != nil && strings.TrimSpace(*in.Destination) == "" {
		return validationf("destination must not be blank")
	}
	if in.Status != nil && !model.ValidStatus(*in.Status) {
		return validationf("unknown status %q", *in.Status)
	}
	return nil
}

// normalizeMetadata accepts a JSON object; null and empty input mean no metadata.
func normalizeMetadata(md datatypes.JSON) (datatypes.JSON, error) {
	if len(md) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(md, &v); err != nil {
		return nil, validationf("metadata is not valid JSON")
	}
	if v == nil {
		return nil, nil
	}
	if _, ok := v.(map[string]interface{}); !ok {
		return nil, validationf("metadata must be a JSON object")
	}
	return md, nil
}

func mapRepoErr(err error, subject string) error {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, subject)
	case errors.Is(err, repo.ErrVersionConflict), errors.Is(err, repo.ErrDuplicate):
		return fmt.Errorf("%w: %s: %v", ErrConflict, subject, err)
	}
	return err
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func fmtHours(h *float64) string {
	if h == nil {
		return "none"
	}
	return fmt.Sprintf("%gh", *h)
}
