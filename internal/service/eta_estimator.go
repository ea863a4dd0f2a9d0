package service

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/quangminh-smart-border/consignment-service/internal/model"
)

// Estimator produces the hours remaining until delivery. A nil result means no estimate.
type Estimator interface {
	Estimate(c *model.Consignment, history []model.TrackingEvent) (*float64, error)
}

// Band is an inclusive range of whole hours.
type Band struct {
	Min int
	Max int
}

// Contains reports whether hours falls inside the band.
func (b Band) Contains(hours float64) bool {
	return hours >= float64(b.Min) && hours <= float64(b.Max)
}

var (
	BandDelivered = Band{Min: 0, Max: 0}
	BandArrived   = Band{Min: 1, Max: 5}
	BandInTransit = Band{Min: 6, Max: 78}
	BandInitial   = Band{Min: 24, Max: 144}
)

// BandEstimator is the placeholder heuristic: it picks a band from the history and
// status, then a uniformly random whole number of hours inside it.
type BandEstimator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewBandEstimator seeds the generator. A zero seed uses the clock.
func NewBandEstimator(seed uint64) *BandEstimator {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &BandEstimator{rnd: rand.New(rand.NewPCG(seed, seed>>1|1))}
}

// BandFor returns the band the decision table selects. First match wins.
func BandFor(c *model.Consignment, history []model.TrackingEvent) Band {
	for _, e := range history {
		if ParseEventKind(e.EventCode) == KindDelivered {
			return BandDelivered
		}
	}
	for _, e := range history {
		if ParseEventKind(e.EventCode) == KindArrived && e.LocationValue() == c.Destination {
			return BandArrived
		}
	}
	if c.Status == model.StatusInTransit {
		return BandInTransit
	}
	return BandInitial
}

func (b *BandEstimator) Estimate(c *model.Consignment, history []model.TrackingEvent) (*float64, error) {
	band := BandFor(c, history)
	hours := float64(band.Min)
	if band.Max > band.Min {
		b.mu.Lock()
		hours = float64(band.Min + b.rnd.IntN(band.Max-band.Min+1))
		b.mu.Unlock()
	}
	return &hours, nil
}
