package model

import "time"

type TrackingEvent struct {
	ID             uint64    `gorm:"primaryKey" json:"id"`
	ConsignmentID  uint64    `gorm:"not null;index:idx_event_consignment_time,priority:1" json:"consignmentId"`
	EventCode      string    `gorm:"size:50;not null" json:"eventCode"`
	Description    string    `gorm:"type:text;not null" json:"description"`
	EventTime      time.Time `gorm:"not null;index:idx_event_consignment_time,priority:2" json:"eventTime"`
	Location       *string   `gorm:"size:255" json:"location,omitempty"`
	Geo            *string   `gorm:"size:64" json:"geo,omitempty"`
	CreatedByID    *uint64   `gorm:"index" json:"createdById"`
	CreatedBy      *User     `gorm:"constraint:OnDelete:SET NULL" json:"createdBy,omitempty"`
	IdempotencyKey *string   `gorm:"size:64" json:"-"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (TrackingEvent) TableName() string { return "tracking_events" }

// LocationValue returns the location or an empty string.
func (e TrackingEvent) LocationValue() string {
	if e.Location == nil {
		return ""
	}
	return *e.Location
}
