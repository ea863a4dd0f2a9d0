package service

import (
	"time"

	"github.com/quangminh-smart-border/consignment-service/internal/model"
)

// Event codes the resolver acts on. Every other code is recorded but does not move the status.
const (
	CodeDeparted  = "DEPARTED"
	CodeArrived   = "ARRIVED"
	CodeDelivered = "DELIVERED"
)

// EventKind is the closed set of event codes that drive status transitions.
type EventKind int

const (
	KindUnrecognized EventKind = iota
	KindDeparted
	KindArrived
	KindDelivered
)

func (k EventKind) String() string {
	switch k {
	case KindDeparted:
		return "departed"
	case KindArrived:
		return "arrived"
	case KindDelivered:
		return "delivered"
	default:
		return "other"
	}
}

// ParseEventKind maps an event code onto its kind.
func ParseEventKind(code string) EventKind {
	switch code {
	case CodeDeparted:
		return KindDeparted
	case CodeArrived:
		return KindArrived
	case CodeDelivered:
		return KindDelivered
	default:
		return KindUnrecognized
	}
}

// Resolution is the outcome of applying one event to a consignment.
type Resolution struct {
	From        string
	To          string
	DeliveredAt *time.Time
}

// Changed reports whether the status moves.
func (r Resolution) Changed() bool { return r.From != r.To }

// ResolveStatus computes the status after e is appended to c. It is incremental:
// only the current status and the new event are looked at.
// DELIVERED is terminal; after it only another DELIVERED event has an effect.
func ResolveStatus(c model.Consignment, e model.TrackingEvent) Resolution {
	res := Resolution{From: c.Status, To: c.Status}
	kind := ParseEventKind(e.EventCode)

	if c.Status == model.StatusDelivered && kind != KindDelivered {
		return res
	}

	switch kind {
	case KindDelivered:
		at := e.EventTime
		res.To = model.StatusDelivered
		res.DeliveredAt = &at
	case KindArrived:
		if e.LocationValue() == c.Destination {
			res.To = model.StatusArrivedAtDestination
		}
	case KindDeparted:
		res.To = model.StatusInTransit
	case KindUnrecognized:
		// recorded only
	}
	return res
}

// Apply writes the resolution onto c.
func (r Resolution) Apply(c *model.Consignment) {
	c.Status = r.To
	if r.DeliveredAt != nil {
		c.EstimatedDeliveryDate = r.DeliveredAt
	}
}
