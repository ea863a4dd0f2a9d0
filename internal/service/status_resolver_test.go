package service

import (
	"testing"
	"time"

	"github.com/quangminh-smart-border/consignment-service/internal/model"
	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestParseEventKind(t *testing.T) {
	assert.Equal(t, KindDeparted, ParseEventKind("DEPARTED"))
	assert.Equal(t, KindArrived, ParseEventKind("ARRIVED"))
	assert.Equal(t, KindDelivered, ParseEventKind("DELIVERED"))
	assert.Equal(t, KindUnrecognized, ParseEventKind("CUSTOMS_HOLD"))
	// codes are case sensitive
	assert.Equal(t, KindUnrecognized, ParseEventKind("delivered"))
	assert.Equal(t, "other", KindUnrecognized.String())
}

func TestResolveStatus(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	base := model.Consignment{Origin: "Hanoi", Destination: "Pingxiang"}

	cases := []struct {
		name     string
		status   string
		event    model.TrackingEvent
		want     string
		delivery bool
	}{
		{"departed from pending", model.StatusPending, model.TrackingEvent{EventCode: CodeDeparted, Location: strPtr("Hanoi")}, model.StatusInTransit, false},
		{"departed after arrival", model.StatusArrivedAtDestination, model.TrackingEvent{EventCode: CodeDeparted}, model.StatusInTransit, false},
		{"arrived at destination", model.StatusInTransit, model.TrackingEvent{EventCode: CodeArrived, Location: strPtr("Pingxiang")}, model.StatusArrivedAtDestination, false},
		{"arrived at hub", model.StatusInTransit, model.TrackingEvent{EventCode: CodeArrived, Location: strPtr("Lang Son")}, model.StatusInTransit, false},
		{"arrived without location", model.StatusInTransit, model.TrackingEvent{EventCode: CodeArrived}, model.StatusInTransit, false},
		{"delivered from pending", model.StatusPending, model.TrackingEvent{EventCode: CodeDelivered, EventTime: at}, model.StatusDelivered, true},
		{"delivered from exception", model.StatusException, model.TrackingEvent{EventCode: CodeDelivered, EventTime: at}, model.StatusDelivered, true},
		{"unrecognized keeps status", model.StatusInTransit, model.TrackingEvent{EventCode: "SCANNED"}, model.StatusInTransit, false},
		{"departed after delivery", model.StatusDelivered, model.TrackingEvent{EventCode: CodeDeparted}, model.StatusDelivered, false},
		{"arrived after delivery", model.StatusDelivered, model.TrackingEvent{EventCode: CodeArrived, Location: strPtr("Pingxiang")}, model.StatusDelivered, false},
		{"redelivered", model.StatusDelivered, model.TrackingEvent{EventCode: CodeDelivered, EventTime: at}, model.StatusDelivered, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			c.Status = tc.status
			res := ResolveStatus(c, tc.event)
			assert.Equal(t, tc.status, res.From)
			assert.Equal(t, tc.want, res.To)
			if tc.delivery {
				if assert.NotNil(t, res.DeliveredAt) {
					assert.True(t, res.DeliveredAt.Equal(at))
				}
			} else {
				assert.Nil(t, res.DeliveredAt)
			}
		})
	}
}

func TestResolution_Apply(t *testing.T) {
	planned := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	at := time.Date(2024, 3, 2, 8, 30, 0, 0, time.UTC)
	c := &model.Consignment{Status: model.StatusInTransit, Destination: "Pingxiang", EstimatedDeliveryDate: &planned}

	// non-delivery transitions leave the planned date alone
	res := ResolveStatus(*c, model.TrackingEvent{EventCode: CodeArrived, Location: strPtr("Pingxiang")})
	res.Apply(c)
	assert.Equal(t, model.StatusArrivedAtDestination, c.Status)
	assert.True(t, c.EstimatedDeliveryDate.Equal(planned))
	assert.True(t, res.Changed())

	res = ResolveStatus(*c, model.TrackingEvent{EventCode: CodeDelivered, EventTime: at})
	res.Apply(c)
	assert.Equal(t, model.StatusDelivered, c.Status)
	assert.True(t, c.EstimatedDeliveryDate.Equal(at))

	res = ResolveStatus(*c, model.TrackingEvent{EventCode: "SCANNED"})
	assert.False(t, res.Changed())
}
