// Package prayer owns prayer requests in the extension store and the daily
// prayer rotation they feed.
package prayer

import "time"

// PrayerRequest is a member-submitted prayer. Anonymous requests are stored
// with IsPublic false and withheld from shared feeds.
type PrayerRequest struct {
	ID                       string    `gorm:"column:id;primaryKey;size:36;not null"`
	Text                     string    `gorm:"column:text;type:text;not null"`
	RequestedByPersonID      int       `gorm:"column:requested_by_person_id;not null;index"`
	RequestedByPersonAliasID int       `gorm:"column:requested_by_person_alias_id;not null;index"`
	CampusID                 int       `gorm:"column:campus_id"`
	IsPublic                 bool      `gorm:"column:is_public;not null;default:false"`
	PrayerCount              int64     `gorm:"column:prayer_count;not null;default:0"`
	CreatedAt                time.Time `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt                time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (PrayerRequest) TableName() string {
	return "prayer_requests"
}
