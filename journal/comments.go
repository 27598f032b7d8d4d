package journal

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kasuganosora/moodring/server/model"
	"github.com/kasuganosora/moodring/server/social"
)

// AddComment attaches text to an event. The commenter must be the event's
// author or one of the author's followers.
func (s *Service) AddComment(ctx context.Context, commenter, eventID, text string) (*model.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: comment text is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > maxTextLen {
		return nil, fmt.Errorf("%w: comment longer than %d characters", ErrInvalidInput, maxTextLen)
	}
	ev, err := s.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.canSee(ctx, commenter, ev); err != nil {
		return nil, err
	}

	c := &model.Comment{ID: uuid.NewString(), EventID: ev.ID, Author: commenter, Text: text, CreatedAt: s.now().UTC()}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, social.StoreErr("add comment", err)
	}
	return c, nil
}

// ListComments returns an event's comments oldest first, for viewers who
// could comment on it.
func (s *Service) ListComments(ctx context.Context, viewer, eventID string) ([]model.Comment, error) {
	ev, err := s.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.canSee(ctx, viewer, ev); err != nil {
		return nil, err
	}
	var out []model.Comment
	err = s.db.WithContext(ctx).
		Where("event_id = ?", ev.ID).
		Order("created_at").
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, social.StoreErr("list comments", err)
	}
	return out, nil
}

func (s *Service) canSee(ctx context.Context, viewer string, ev *model.MoodEvent) error {
	if viewer == ev.Author {
		return nil
	}
	ok, err := s.follows.IsFollowing(ctx, viewer, ev.Author)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s does not follow %s", ErrForbidden, viewer, ev.Author)
	}
	return nil
}

// View returns the event if viewer is its author or follows the author.
func (s *Service) View(ctx context.Context, viewer, id string) (*model.MoodEvent, error) {
	ev, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canSee(ctx, viewer, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// History lists author's events for viewer, under the same rule as View.
func (s *Service) History(ctx context.Context, viewer, author string, limit int) ([]model.MoodEvent, error) {
	if err := s.canSee(ctx, viewer, &model.MoodEvent{Author: author}); err != nil {
		return nil, err
	}
	return s.ListByAuthor(ctx, author, limit)
}
