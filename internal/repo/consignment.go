package repo

import (
	"context"

	"github.com/quangminh-smart-border/consignment-service/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func orderedEvents(db *gorm.DB) *gorm.DB {
	return db.Order("event_time ASC").Order("id ASC")
}

// withHistory preloads events in display order plus their authors.
func withHistory(db *gorm.DB) *gorm.DB {
	return db.Preload("Events", orderedEvents).Preload("Events.CreatedBy")
}

// CreateConsignment inserts the aggregate root.
func (r *Repository) CreateConsignment(ctx context.Context, tx *gorm.DB, c *model.Consignment) error {
	return translate(tx.WithContext(ctx).Omit(clause.Associations).Create(c).Error)
}

// ConsignmentExists checks the tracking number.
func (r *Repository) ConsignmentExists(ctx context.Context, tx *gorm.DB, trackingNumber string) (bool, error) {
	var n int64
	err := tx.WithContext(ctx).Model(&model.Consignment{}).
		Where("tracking_number = ?", trackingNumber).Count(&n).Error
	return n > 0, err
}

// GetConsignmentForUpdate locks the consignment row.
func (r *Repository) GetConsignmentForUpdate(ctx context.Context, tx *gorm.DB, trackingNumber string) (*model.Consignment, error) {
	var c model.Consignment
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tracking_number = ?", trackingNumber).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// GetConsignment loads the aggregate with its ordered history.
func (r *Repository) GetConsignment(ctx context.Context, trackingNumber string) (*model.Consignment, error) {
	var c model.Consignment
	if err := withHistory(r.DB(ctx)).Where("tracking_number = ?", trackingNumber).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// GetConsignmentByID loads the aggregate by surrogate key.
func (r *Repository) GetConsignmentByID(ctx context.Context, id uint64) (*model.Consignment, error) {
	var c model.Consignment
	if err := withHistory(r.DB(ctx)).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// FindByTrackingNumbers returns whatever matches; missing numbers are skipped.
func (r *Repository) FindByTrackingNumbers(ctx context.Context, trackingNumbers []string) ([]model.Consignment, error) {
	out := []model.Consignment{}
	if len(trackingNumbers) == 0 {
		return out, nil
	}
	err := withHistory(r.DB(ctx)).
		Where("tracking_number IN ?", trackingNumbers).
		Order("created_at DESC").Order("id DESC").
		Find(&out).Error
	return out, err
}

// UpdateConsignment writes every mutable column with optimistic lock.
func (r *Repository) UpdateConsignment(ctx context.Context, tx *gorm.DB, c *model.Consignment, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Consignment{}).
		Where("id = ? AND version = ?", c.ID, oldVersion).
		Updates(map[string]interface{}{
			"origin":                  c.Origin,
			"destination":             c.Destination,
			"status":                  c.Status,
			"customer_id":             c.CustomerID,
			"estimated_delivery_date": c.EstimatedDeliveryDate,
			"predicted_eta_hours":     c.PredictedEtaHours,
			"metadata":                c.Metadata,
			"version":                 oldVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	c.Version = oldVersion + 1
	return nil
}

// DeleteConsignment removes the consignment and its whole history.
func (r *Repository) DeleteConsignment(ctx context.Context, tx *gorm.DB, id uint64) error {
	if err := tx.WithContext(ctx).Where("consignment_id = ?", id).Delete(&model.TrackingEvent{}).Error; err != nil {
		return err
	}
	res := tx.WithContext(ctx).Where("id = ?", id).Delete(&model.Consignment{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendEvent inserts one history entry.
func (r *Repository) AppendEvent(ctx context.Context, tx *gorm.DB, e *model.TrackingEvent) error {
	return tx.WithContext(ctx).Omit(clause.Associations).Create(e).Error
}

// ListEvents returns the history ordered by event time, insertion order on ties.
func (r *Repository) ListEvents(ctx context.Context, tx *gorm.DB, consignmentID uint64) ([]model.TrackingEvent, error) {
	evts := []model.TrackingEvent{}
	err := orderedEvents(tx.WithContext(ctx)).
		Preload("CreatedBy").
		Where("consignment_id = ?", consignmentID).
		Find(&evts).Error
	return evts, err
}

// EventByIdempotencyKey checks duplicate by idem key.
func (r *Repository) EventByIdempotencyKey(ctx context.Context, tx *gorm.DB, consignmentID uint64, key string) (bool, *model.TrackingEvent, error) {
	if key == "" {
		return false, nil, nil
	}
	var e model.TrackingEvent
	err := tx.WithContext(ctx).Where("consignment_id = ? AND idempotency_key = ?", consignmentID, key).First(&e).Error
	if err == nil {
		return true, &e, nil
	}
	if translate(err) == ErrNotFound {
		return false, nil, nil
	}
	return false, nil, err
}

// UserExists reports whether a staff user with id exists.
func (r *Repository) UserExists(ctx context.Context, tx *gorm.DB, id uint64) (bool, error) {
	var n int64
	err := tx.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

// DeleteUser removes a staff user; events they recorded stay with a null author.
func (r *Repository) DeleteUser(ctx context.Context, id uint64) error {
	return r.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.TrackingEvent{}).Where("created_by_id = ?", id).
			Update("created_by_id", nil).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.User{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
