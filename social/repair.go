package social

import (
	"context"
	"errors"

	"github.com/kasuganosora/moodring/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Recount recomputes username's counters from the edges. When the stored
// values disagree they are overwritten and a *CounterDrift is returned
// alongside the true counts.
func (m *Mutator) Recount(ctx context.Context, username string) (Counts, error) {
	var (
		actual Counts
		drift  *CounterDrift
	)
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p model.Participant
		if err := tx.Select("username", "follower_count", "following_count").
			Where("username = ?", username).Take(&p).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.FollowEdge{}).Where("followee = ?", username).
			Count(&actual.Followers).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.FollowEdge{}).Where("follower = ?", username).
			Count(&actual.Following).Error; err != nil {
			return err
		}
		if p.FollowerCount == actual.Followers && p.FollowingCount == actual.Following {
			return nil
		}
		drift = &CounterDrift{
			Username:        username,
			StoredFollowers: p.FollowerCount,
			ActualFollowers: actual.Followers,
			StoredFollowing: p.FollowingCount,
			ActualFollowing: actual.Following,
		}
		return tx.Model(&model.Participant{}).Where("username = ?", username).
			UpdateColumns(map[string]interface{}{
				"follower_count":  actual.Followers,
				"following_count": actual.Following,
			}).Error
	})
	if err != nil {
		return Counts{}, StoreErr("recount", err)
	}
	if drift != nil {
		m.logger.Warn("follow counters repaired",
			zap.String("username", username),
			zap.Int64("stored_followers", drift.StoredFollowers),
			zap.Int64("actual_followers", drift.ActualFollowers),
			zap.Int64("stored_following", drift.StoredFollowing),
			zap.Int64("actual_following", drift.ActualFollowing))
		m.observers.notify(ctx, Change{Action: ActionRepair, Actor: username, Err: drift})
		return actual, drift
	}
	return actual, nil
}

const repairBatch = 200

// RepairAll recounts every participant and returns how many had drifted.
// It stops at the first store failure.
func (m *Mutator) RepairAll(ctx context.Context) (int, error) {
	repaired := 0
	after := ""
	for {
		var names []string
		err := m.db.WithContext(ctx).Model(&model.Participant{}).
			Where("username > ?", after).
			Order("username").
			Limit(repairBatch).
			Pluck("username", &names).Error
		if err != nil {
			return repaired, StoreErr("repair scan", err)
		}
		for _, name := range names {
			_, err := m.Recount(ctx, name)
			switch {
			case err == nil:
			case errors.Is(err, ErrInvariantViolation):
				repaired++
			case errors.Is(err, ErrNotFound):
				// deleted between scan and recount
			default:
				return repaired, err
			}
		}
		if len(names) < repairBatch {
			return repaired, nil
		}
		after = names[len(names)-1]
	}
}
