package social

import (
	"context"
	"fmt"

	"github.com/kasuganosora/moodring/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Mutator is the only writer of follow edges. Every edge change and the
// matching counter updates commit in one transaction.
type Mutator struct {
	db        *gorm.DB
	logger    *zap.Logger
	observers observers
}

// NewMutator creates a Mutator. Observers are notified after each commit.
func NewMutator(db *gorm.DB, logger *zap.Logger, obs ...Observer) *Mutator {
	return &Mutator{db: db, logger: logger, observers: obs}
}

// Observe registers additional observers. It must be called before the
// mutator is shared between goroutines.
func (m *Mutator) Observe(obs ...Observer) {
	m.observers = append(m.observers, obs...)
}

// Follow makes a follow b and increments a.followingCount and
// b.followerCount.
func (m *Mutator) Follow(ctx context.Context, a, b string) error {
	if a == b {
		return ErrSelfFollow
	}
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireParticipants(tx, a, b); err != nil {
			return err
		}
		return createEdge(tx, a, b)
	})
	if err != nil {
		return StoreErr("follow", err)
	}
	m.observers.notify(ctx, Change{Action: ActionFollow, Actor: a, Follower: a, Followee: b})
	return nil
}

// Unfollow removes the edge a→b and decrements both counters, then clears
// any leftover request from a to b so a later request is not blocked.
func (m *Mutator) Unfollow(ctx context.Context, a, b string) error {
	if err := m.dropEdge(ctx, a, b); err != nil {
		return err
	}
	m.observers.notify(ctx, Change{Action: ActionUnfollow, Actor: a, Follower: a, Followee: b})
	return nil
}

// RemoveFollower makes b stop following a. It is Unfollow with the roles
// reversed, requested by the followee.
func (m *Mutator) RemoveFollower(ctx context.Context, a, b string) error {
	if err := m.dropEdge(ctx, b, a); err != nil {
		return err
	}
	m.observers.notify(ctx, Change{Action: ActionRemoveFollower, Actor: a, Follower: b, Followee: a})
	return nil
}

func (m *Mutator) dropEdge(ctx context.Context, follower, followee string) error {
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteEdge(tx, follower, followee)
	})
	if err != nil {
		return StoreErr("unfollow", err)
	}

	// The edge is gone; a failure here leaves only a stale request record.
	if err := m.db.WithContext(ctx).
		Where("requestor = ? AND target = ?", follower, followee).
		Delete(&model.FollowRequest{}).Error; err != nil {
		m.logger.Warn("stale follow request cleanup failed",
			zap.String("requestor", follower),
			zap.String("target", followee),
			zap.Error(err))
	}
	return nil
}

// IsFollowing reports whether a follows b.
func (m *Mutator) IsFollowing(ctx context.Context, a, b string) (bool, error) {
	ok, err := edgeExists(m.db.WithContext(ctx), a, b)
	if err != nil {
		return false, StoreErr("is following", err)
	}
	return ok, nil
}

// Following returns the usernames username follows, oldest edge first.
func (m *Mutator) Following(ctx context.Context, username string) ([]string, error) {
	var out []string
	err := m.db.WithContext(ctx).Model(&model.FollowEdge{}).
		Where("follower = ?", username).
		Order("id").
		Pluck("followee", &out).Error
	if err != nil {
		return nil, StoreErr("following", err)
	}
	return out, nil
}

// Followers returns the usernames following username, oldest edge first.
func (m *Mutator) Followers(ctx context.Context, username string) ([]string, error) {
	var out []string
	err := m.db.WithContext(ctx).Model(&model.FollowEdge{}).
		Where("followee = ?", username).
		Order("id").
		Pluck("follower", &out).Error
	if err != nil {
		return nil, StoreErr("followers", err)
	}
	return out, nil
}

// Counts holds a participant's derived counters.
type Counts struct {
	Followers int64 `json:"follower_count"`
	Following int64 `json:"following_count"`
}

// Counts returns the stored counters for username.
func (m *Mutator) Counts(ctx context.Context, username string) (Counts, error) {
	var p model.Participant
	err := m.db.WithContext(ctx).
		Select("follower_count", "following_count").
		Where("username = ?", username).
		Take(&p).Error
	if err != nil {
		return Counts{}, StoreErr("counts", err)
	}
	return Counts{Followers: p.FollowerCount, Following: p.FollowingCount}, nil
}

// Detach removes every edge and request touching username, adjusting the
// counters of the other side. It runs before an account is deleted.
func (m *Mutator) Detach(ctx context.Context, username string) error {
	var edges []model.FollowEdge
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("follower = ? OR followee = ?", username, username).
			Find(&edges).Error; err != nil {
			return err
		}
		for _, e := range edges {
			if err := deleteEdge(tx, e.Follower, e.Followee); err != nil {
				return err
			}
		}
		return tx.Where("requestor = ? OR target = ?", username, username).
			Delete(&model.FollowRequest{}).Error
	})
	if err != nil {
		return StoreErr("detach", err)
	}
	for _, e := range edges {
		m.observers.notify(ctx, Change{Action: ActionUnfollow, Actor: username, Follower: e.Follower, Followee: e.Followee})
	}
	return nil
}

// ---- transaction helpers ----

func requireParticipants(tx *gorm.DB, usernames ...string) error {
	var n int64
	if err := tx.Model(&model.Participant{}).
		Where("username IN ?", usernames).
		Count(&n).Error; err != nil {
		return err
	}
	if n != int64(len(usernames)) {
		return fmt.Errorf("%w: participant", ErrNotFound)
	}
	return nil
}

func edgeExists(tx *gorm.DB, follower, followee string) (bool, error) {
	var n int64
	err := tx.Model(&model.FollowEdge{}).
		Where("follower = ? AND followee = ?", follower, followee).
		Count(&n).Error
	return n > 0, err
}

// createEdge inserts follower→followee and bumps both counters.
func createEdge(tx *gorm.DB, follower, followee string) error {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.FollowEdge{Follower: follower, Followee: followee})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyFollowing
	}
	if err := bump(tx, follower, "following_count", 1); err != nil {
		return err
	}
	return bump(tx, followee, "follower_count", 1)
}

// deleteEdge removes follower→followee and decrements both counters.
func deleteEdge(tx *gorm.DB, follower, followee string) error {
	res := tx.Where("follower = ? AND followee = ?", follower, followee).
		Delete(&model.FollowEdge{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s does not follow %s", ErrNotFound, follower, followee)
	}
	if err := bump(tx, follower, "following_count", -1); err != nil {
		return err
	}
	return bump(tx, followee, "follower_count", -1)
}

// bump applies an atomic server-side increment, clamped at zero.
func bump(tx *gorm.DB, username, column string, delta int) error {
	expr := gorm.Expr("CASE WHEN "+column+" + ? < 0 THEN 0 ELSE "+column+" + ? END", delta, delta)
	return tx.Model(&model.Participant{}).
		Where("username = ?", username).
		UpdateColumn(column, expr).Error
}
