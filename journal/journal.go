// Package journal stores mood events and their comments. It is the
// per-author source the feed reads and the geohash range source the
// proximity engine reads.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kasuganosora/moodring/server/geo"
	"github.com/kasuganosora/moodring/server/model"
	"github.com/kasuganosora/moodring/server/social"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ChannelCreated carries the author's username each time one of their
// events is created, edited or deleted.
const ChannelCreated = "moodevents.created"

// DefaultListLimit applies when ListByAuthor is called with limit <= 0.
const DefaultListLimit = 20

const (
	maxTitleLen  = 128
	maxReasonLen = 200
	maxTextLen   = 1000
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
)

// Publisher is the pub/sub side used to announce new events.
type Publisher interface {
	Publish(ctx context.Context, channel, message string) error
}

// FollowChecker answers whether a follows b.
type FollowChecker interface {
	IsFollowing(ctx context.Context, a, b string) (bool, error)
}

// Input is the author-editable content of an event.
type Input struct {
	Title           string                `json:"title"`
	Reason          string                `json:"reason"`
	Trigger         string                `json:"trigger"`
	EmotionalState  model.EmotionalState  `json:"emotional_state"`
	SocialSituation model.SocialSituation `json:"social_situation"`
	AttachedImage   string                `json:"attached_image"`
	Location        *geo.Point            `json:"location"`
}

func (in *Input) validate() error {
	in.Title = strings.TrimSpace(in.Title)
	switch {
	case in.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	case utf8.RuneCountInString(in.Title) > maxTitleLen:
		return fmt.Errorf("%w: title longer than %d characters", ErrInvalidInput, maxTitleLen)
	case utf8.RuneCountInString(in.Reason) > maxReasonLen:
		return fmt.Errorf("%w: reason longer than %d characters", ErrInvalidInput, maxReasonLen)
	}
	if in.EmotionalState == "" {
		in.EmotionalState = model.EmotionNone
	}
	if !in.EmotionalState.Valid() {
		return fmt.Errorf("%w: unknown emotional state %q", ErrInvalidInput, in.EmotionalState)
	}
	if !in.SocialSituation.Valid() {
		return fmt.Errorf("%w: unknown social situation %q", ErrInvalidInput, in.SocialSituation)
	}
	if in.Location != nil {
		if err := in.Location.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	return nil
}

func (in *Input) apply(ev *model.MoodEvent) {
	ev.Title = in.Title
	ev.Reason = in.Reason
	ev.Trigger = in.Trigger
	ev.EmotionalState = in.EmotionalState
	ev.SocialSituation = in.SocialSituation
	ev.AttachedImage = in.AttachedImage
	ev.Geohash, ev.Latitude, ev.Longitude = nil, nil, nil
	if in.Location != nil {
		hash := geo.Encode(*in.Location, geo.StoredPrecision)
		lat, lng := in.Location.Latitude, in.Location.Longitude
		ev.Geohash, ev.Latitude, ev.Longitude = &hash, &lat, &lng
	}
	ev.Geo = ev.Location()
}

// Service is the mood-event store.
type Service struct {
	db      *gorm.DB
	follows FollowChecker
	pub     Publisher
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates the journal. pub may be nil, in which case no
// creation events are published.
func NewService(db *gorm.DB, follows FollowChecker, pub Publisher, logger *zap.Logger) *Service {
	return &Service{db: db, follows: follows, pub: pub, logger: logger, now: time.Now}
}

// Create stores a new event for author, stamped with the server time.
func (s *Service) Create(ctx context.Context, author string, in Input) (*model.MoodEvent, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	ev := &model.MoodEvent{ID: uuid.NewString(), Author: author, Timestamp: &now}
	in.apply(ev)

	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, social.StoreErr("create mood event", err)
	}
	s.publish(ctx, author)
	return ev, nil
}

// Get returns the event with the given id.
func (s *Service) Get(ctx context.Context, id string) (*model.MoodEvent, error) {
	var ev model.MoodEvent
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&ev).Error; err != nil {
		return nil, social.StoreErr("get mood event", err)
	}
	return &ev, nil
}

// Update replaces the content of an event. Only its author may edit it;
// the timestamp is kept.
func (s *Service) Update(ctx context.Context, author, id string, in Input) (*model.MoodEvent, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	ev, err := s.owned(ctx, author, id)
	if err != nil {
		return nil, err
	}
	in.apply(ev)
	err = s.db.WithContext(ctx).Model(ev).
		Select("title", "reason", "trigger_text", "emotional_state", "social_situation",
			"attached_image", "geohash", "latitude", "longitude").
		Updates(ev).Error
	if err != nil {
		return nil, social.StoreErr("update mood event", err)
	}
	s.publish(ctx, author)
	return ev, nil
}

// Delete removes an event and its comments.
func (s *Service) Delete(ctx context.Context, author, id string) error {
	if _, err := s.owned(ctx, author, id); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ?", id).Delete(&model.Comment{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.MoodEvent{}).Error
	})
	if err != nil {
		return social.StoreErr("delete mood event", err)
	}
	s.publish(ctx, author)
	return nil
}

// ListByAuthor returns up to limit of author's events, newest first, with
// unstamped events last.
func (s *Service) ListByAuthor(ctx context.Context, author string, limit int) ([]model.MoodEvent, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var out []model.MoodEvent
	err := s.db.WithContext(ctx).
		Where("author = ?", author).
		Order("posted_at IS NULL").
		Order("posted_at DESC").
		Order("id").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, social.StoreErr("list mood events", err)
	}
	return out, nil
}

// InGeohashRange returns every located event whose geohash lies in
// [start, end). An end of the form prefix+geo.RangeEnd selects every hash
// beginning with prefix at or after start.
func (s *Service) InGeohashRange(ctx context.Context, start, end string) ([]model.MoodEvent, error) {
	q := s.db.WithContext(ctx).Where("geohash >= ?", start)
	if prefix, ok := strings.CutSuffix(end, geo.RangeEnd); ok {
		q = q.Where("geohash LIKE ?", prefix+"%")
	} else {
		q = q.Where("geohash < ?", end)
	}
	var out []model.MoodEvent
	if err := q.Find(&out).Error; err != nil {
		return nil, social.StoreErr("geohash range", err)
	}
	return out, nil
}

func (s *Service) owned(ctx context.Context, author, id string) (*model.MoodEvent, error) {
	ev, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Author != author {
		return nil, fmt.Errorf("%w: event %s belongs to another participant", ErrForbidden, id)
	}
	return ev, nil
}

func (s *Service) publish(ctx context.Context, author string) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, ChannelCreated, author); err != nil {
		s.logger.Warn("publish mood event failed", zap.String("author", author), zap.Error(err))
	}
}
