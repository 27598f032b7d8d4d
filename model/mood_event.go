package model

import (
	"time"

	"gorm.io/gorm"
)

// EmotionalState is the mood recorded on an event.
type EmotionalState string

const (
	EmotionNone      EmotionalState = "NONE"
	EmotionHappy     EmotionalState = "HAPPY"
	EmotionSad       EmotionalState = "SAD"
	EmotionAngry     EmotionalState = "ANGRY"
	EmotionAnxious   EmotionalState = "ANXIOUS"
	EmotionNeutral   EmotionalState = "NEUTRAL"
	EmotionConfused  EmotionalState = "CONFUSED"
	EmotionFearful   EmotionalState = "FEARFUL"
	EmotionShameful  EmotionalState = "SHAMEFUL"
	EmotionSurprised EmotionalState = "SURPRISED"
)

var emoticons = map[EmotionalState]string{
	EmotionHappy:     "😃",
	EmotionSad:       "😢",
	EmotionAngry:     "😡",
	EmotionAnxious:   "😰",
	EmotionNeutral:   "😐",
	EmotionConfused:  "😕",
	EmotionFearful:   "😨",
	EmotionShameful:  "😞",
	EmotionSurprised: "😲",
}

// Valid reports whether s is a known emotional state.
func (s EmotionalState) Valid() bool {
	_, ok := emoticons[s]
	return ok || s == EmotionNone
}

// Emoticon returns the display glyph for s.
func (s EmotionalState) Emoticon() string {
	if e, ok := emoticons[s]; ok {
		return e
	}
	return "❓"
}

// SocialSituation describes who the author was with.
type SocialSituation string

const (
	SituationNone          SocialSituation = "NONE"
	SituationAlone         SocialSituation = "ALONE"
	SituationWithOne       SocialSituation = "WITH_ONE_OTHER_PERSON"
	SituationWithSeveral   SocialSituation = "WITH_TWO_TO_SEVERAL_PEOPLE"
	SituationWithFamily    SocialSituation = "WITH_FAMILY"
	SituationWithFriends   SocialSituation = "WITH_FRIENDS"
	SituationWithCoworkers SocialSituation = "WITH_COWORKERS"
	SituationWithStrangers SocialSituation = "WITH_STRANGERS"
)

// Valid reports whether s is a known social situation. The empty value is
// accepted and means "not recorded".
func (s SocialSituation) Valid() bool {
	switch s {
	case "", SituationNone, SituationAlone, SituationWithOne, SituationWithSeveral,
		SituationWithFamily, SituationWithFriends, SituationWithCoworkers, SituationWithStrangers:
		return true
	}
	return false
}

// MoodEvent is one journal entry. Timestamp is nil until the server stamps
// the event; unstamped events sort after every stamped one.
type MoodEvent struct {
	ID              string          `gorm:"primaryKey;size:36" json:"id"`
	Author          string          `gorm:"size:32;not null;index:idx_event_author_ts,priority:1" json:"participant"`
	Title           string          `gorm:"size:128" json:"title"`
	Reason          string          `gorm:"type:text" json:"reason,omitempty"`
	Trigger         string          `gorm:"column:trigger_text;size:128" json:"trigger,omitempty"`
	EmotionalState  EmotionalState  `gorm:"size:16;not null;default:NONE" json:"emotional_state"`
	SocialSituation SocialSituation `gorm:"size:32" json:"social_situation,omitempty"`
	AttachedImage   string          `gorm:"type:text" json:"attached_image,omitempty"`
	Timestamp       *time.Time      `gorm:"column:posted_at;index:idx_event_author_ts,priority:2" json:"timestamp"`
	Geohash         *string         `gorm:"size:12;index:idx_event_geohash" json:"-"`
	Latitude        *float64        `json:"-"`
	Longitude       *float64        `json:"-"`
	Geo             *GeoInfo        `gorm:"-" json:"geo_info,omitempty"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"-"`
}

// GeoInfo is the location descriptor attached to an event.
type GeoInfo struct {
	Geohash   string  `json:"geohash"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Location returns the event's geo descriptor, or nil when the event has
// no location.
func (e *MoodEvent) Location() *GeoInfo {
	if e.Geohash == nil || e.Latitude == nil || e.Longitude == nil {
		return nil
	}
	return &GeoInfo{Geohash: *e.Geohash, Latitude: *e.Latitude, Longitude: *e.Longitude}
}

// AfterFind fills the JSON geo descriptor from the flat columns.
func (e *MoodEvent) AfterFind(_ *gorm.DB) error {
	e.Geo = e.Location()
	return nil
}

// NewerThan reports whether e sorts before o in a reverse-chronological
// list: a stamped event is newer than an unstamped one.
func (e *MoodEvent) NewerThan(o *MoodEvent) bool {
	switch {
	case e.Timestamp == nil:
		return false
	case o.Timestamp == nil:
		return true
	default:
		return e.Timestamp.After(*o.Timestamp)
	}
}

// Comment is a reply on a mood event.
type Comment struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	EventID   string    `gorm:"size:36;not null;index:idx_comment_event" json:"event_id"`
	Author    string    `gorm:"size:32;not null" json:"participant"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_comment_event" json:"timestamp"`
}

// TableName keeps comments grouped with their parent table.
func (Comment) TableName() string { return "mood_event_comments" }
