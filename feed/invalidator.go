package feed

import (
	"context"

	"github.com/kasuganosora/moodring/server/cache"
	"github.com/kasuganosora/moodring/server/journal"
	"github.com/kasuganosora/moodring/server/social"
	"go.uber.org/zap"
)

// FollowerSource resolves who follows an author.
type FollowerSource interface {
	Followers(ctx context.Context, username string) ([]string, error)
}

// Invalidator drops cached feeds that a change has made stale: the
// follower's feed when the graph changes, and every follower's feed when
// an author's events change.
type Invalidator struct {
	cache     cache.Cache
	followers FollowerSource
	logger    *zap.Logger
}

func NewInvalidator(c cache.Cache, followers FollowerSource, logger *zap.Logger) *Invalidator {
	return &Invalidator{cache: c, followers: followers, logger: logger}
}

// RelationshipChanged implements social.Observer.
func (i *Invalidator) RelationshipChanged(ctx context.Context, c social.Change) {
	switch c.Action {
	case social.ActionFollow, social.ActionUnfollow, social.ActionRemoveFollower, social.ActionRepair:
	default:
		return
	}
	if c.Follower == "" {
		return
	}
	i.drop(ctx, Key(c.Follower))
}

// AuthorChanged drops the feeds of everyone following author.
func (i *Invalidator) AuthorChanged(ctx context.Context, author string) {
	followers, err := i.followers.Followers(ctx, author)
	if err != nil {
		i.logger.Warn("feed invalidation: followers lookup failed", zap.String("author", author), zap.Error(err))
		return
	}
	if len(followers) == 0 {
		return
	}
	keys := make([]string, len(followers))
	for n, f := range followers {
		keys[n] = Key(f)
	}
	i.drop(ctx, keys...)
}

// Start subscribes to mood-event notifications and processes them in the
// background until ctx is done.
func (i *Invalidator) Start(ctx context.Context, ps cache.PubSub) error {
	ch, cancel, err := ps.Subscribe(ctx, journal.ChannelCreated)
	if err != nil {
		return err
	}
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				i.AuthorChanged(ctx, msg.Payload)
			}
		}
	}()
	return nil
}

func (i *Invalidator) drop(ctx context.Context, keys ...string) {
	if err := i.cache.Del(ctx, keys...); err != nil {
		i.logger.Warn("feed cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
