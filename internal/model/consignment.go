package model

import (
	"time"

	"gorm.io/datatypes"
)

// Consignment statuses. EXCEPTION is only reachable through an admin override.
const (
	StatusPending              = "PENDING"
	StatusInTransit            = "IN_TRANSIT"
	StatusArrivedAtDestination = "ARRIVED_AT_DESTINATION"
	StatusDelivered            = "DELIVERED"
	StatusException            = "EXCEPTION"
)

// Statuses lists every valid consignment status.
var Statuses = []string{
	StatusPending,
	StatusInTransit,
	StatusArrivedAtDestination,
	StatusDelivered,
	StatusException,
}

// ValidStatus reports whether s is a known status code.
func ValidStatus(s string) bool {
	for _, st := range Statuses {
		if st == s {
			return true
		}
	}
	return false
}

type Consignment struct {
	ID                    uint64          `gorm:"primaryKey" json:"id"`
	TrackingNumber        string          `gorm:"size:100;not null;uniqueIndex" json:"trackingNumber"`
	CustomerID            *uint64         `json:"customerId,omitempty"`
	Origin                string          `gorm:"size:255;not null" json:"origin"`
	Destination           string          `gorm:"size:255;not null" json:"destination"`
	Status                string          `gorm:"size:50;not null;default:'PENDING';index" json:"status"`
	EstimatedDeliveryDate *time.Time      `json:"estimatedDeliveryDate"`
	PredictedEtaHours     *float64        `json:"predictedEtaHours"`
	Metadata              datatypes.JSON  `json:"metadata,omitempty"`
	Version               uint64          `gorm:"not null;default:0" json:"-"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
	Events                []TrackingEvent `gorm:"constraint:OnDelete:CASCADE" json:"events"`
}

func (Consignment) TableName() string { return "consignments" }
