package repo

import (
	"context"
	"strings"

	"github.com/quangminh-smart-border/consignment-service/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SortColumns maps the public sort keys to columns. Anything else is rejected upstream.
var SortColumns = map[string]string{
	"createdAt":             "created_at",
	"updatedAt":             "updated_at",
	"trackingNumber":        "tracking_number",
	"status":                "status",
	"origin":                "origin",
	"destination":           "destination",
	"predictedEtaHours":     "predicted_eta_hours",
	"estimatedDeliveryDate": "estimated_delivery_date",
}

// ConsignmentQuery is an already validated admin listing request.
type ConsignmentQuery struct {
	Page        int
	Limit       int
	Status      string
	Origin      string
	Destination string
	Search      string
	SortBy      string
	SortDesc    bool
}

func likeLower(v string) string {
	return "%" + strings.ToLower(v) + "%"
}

func (q ConsignmentQuery) scope(db *gorm.DB) *gorm.DB {
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	if q.Origin != "" {
		db = db.Where("LOWER(origin) LIKE ?", likeLower(q.Origin))
	}
	if q.Destination != "" {
		db = db.Where("LOWER(destination) LIKE ?", likeLower(q.Destination))
	}
	if q.Search != "" {
		db = db.Where("LOWER(tracking_number) LIKE ?", likeLower(q.Search))
	}
	return db
}

// ListConsignments returns one page and the total count of matching rows.
func (r *Repository) ListConsignments(ctx context.Context, q ConsignmentQuery) ([]model.Consignment, int64, error) {
	var total int64
	if err := r.DB(ctx).Model(&model.Consignment{}).Scopes(q.scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	col, ok := SortColumns[q.SortBy]
	if !ok {
		col = "created_at"
	}
	out := []model.Consignment{}
	err := withHistory(r.DB(ctx)).
		Scopes(q.scope).
		Order(clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: q.SortDesc}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: q.SortDesc}).
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&out).Error
	return out, total, err
}

// StatusCounts groups consignments by status.
func (r *Repository) StatusCounts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.DB(ctx).Model(&model.Consignment{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

// InTransitEtas returns the predicted ETA of every in-transit consignment that has one.
func (r *Repository) InTransitEtas(ctx context.Context) ([]float64, error) {
	var etas []float64
	err := r.DB(ctx).Model(&model.Consignment{}).
		Where("status = ? AND predicted_eta_hours IS NOT NULL", model.StatusInTransit).
		Pluck("predicted_eta_hours", &etas).Error
	return etas, err
}
