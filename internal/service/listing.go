package service

import (
	"context"
	"strings"

	"github.com/quangminh-smart-border/consignment-service/internal/model"
	"github.com/quangminh-smart-border/consignment-service/internal/repo"
	"github.com/shopspring/decimal"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// ListQuery is the raw admin listing request. Zero values take the defaults.
type ListQuery struct {
	Page        int
	Limit       int
	Status      string
	Origin      string
	Destination string
	Search      string
	SortBy      string
	SortOrder   string
}

// Page is the paginated listing envelope.
type Page struct {
	Data     []model.Consignment `json:"data"`
	Total    int64               `json:"total"`
	Page     int                 `json:"page"`
	Limit    int                 `json:"limit"`
	LastPage int                 `json:"lastPage"`
}

// Stats is the dashboard summary.
type Stats struct {
	Counts               map[string]int64 `json:"counts"`
	Total                int64            `json:"total"`
	InTransit            int64            `json:"inTransit"`
	AvgInTransitEtaHours *decimal.Decimal `json:"avgInTransitEtaHours"`
}

func (q ListQuery) normalize() (repo.ConsignmentQuery, error) {
	out := repo.ConsignmentQuery{
		Page:        q.Page,
		Limit:       q.Limit,
		Status:      strings.ToUpper(strings.TrimSpace(q.Status)),
		Origin:      strings.TrimSpace(q.Origin),
		Destination: strings.TrimSpace(q.Destination),
		Search:      strings.TrimSpace(q.Search),
		SortBy:      strings.TrimSpace(q.SortBy),
		SortDesc:    true,
	}
	switch {
	case out.Page == 0:
		out.Page = DefaultPage
	case out.Page < 0:
		return out, validationf("page must be at least 1")
	}
	switch {
	case out.Limit == 0:
		out.Limit = DefaultLimit
	case out.Limit < 0 || out.Limit > MaxLimit:
		return out, validationf("limit must be between 1 and %d", MaxLimit)
	}
	if out.Status != "" && !model.ValidStatus(out.Status) {
		return out, validationf("unknown status %q", q.Status)
	}
	if out.SortBy == "" {
		out.SortBy = "createdAt"
	}
	if _, ok := repo.SortColumns[out.SortBy]; !ok {
		return out, validationf("cannot sort by %q", out.SortBy)
	}
	switch strings.ToUpper(strings.TrimSpace(q.SortOrder)) {
	case "", "DESC":
	case "ASC":
		out.SortDesc = false
	default:
		return out, validationf("sortOrder must be ASC or DESC")
	}
	return out, nil
}

// List returns one page of consignments for the admin table.
func (s *ConsignmentService) List(ctx context.Context, q ListQuery) (*Page, error) {
	rq, err := q.normalize()
	if err != nil {
		return nil, err
	}
	data, total, err := s.repo.ListConsignments(ctx, rq)
	if err != nil {
		return nil, err
	}
	return &Page{
		Data:     data,
		Total:    total,
		Page:     rq.Page,
		Limit:    rq.Limit,
		LastPage: int((total + int64(rq.Limit) - 1) / int64(rq.Limit)),
	}, nil
}

// Stats counts consignments per status, every status present even when zero.
func (s *ConsignmentService) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.repo.StatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{Counts: make(map[string]int64, len(model.Statuses))}
	for _, status := range model.Statuses {
		st.Counts[status] = counts[status]
		st.Total += counts[status]
	}
	st.InTransit = st.Counts[model.StatusInTransit]

	etas, err := s.repo.InTransitEtas(ctx)
	if err != nil {
		return nil, err
	}
	if len(etas) > 0 {
		sum := decimal.Zero
		for _, h := range etas {
			sum = sum.Add(decimal.NewFromFloat(h))
		}
		avg := sum.Div(decimal.NewFromInt(int64(len(etas)))).Round(2)
		st.AvgInTransitEtaHours = &avg
	}
	return st, nil
}
