package social

import "context"

// Action names a relationship mutation.
type Action string

const (
	ActionRequest        Action = "follow_request"
	ActionAccept         Action = "follow_accept"
	ActionDecline        Action = "follow_decline"
	ActionFollow         Action = "follow"
	ActionUnfollow       Action = "unfollow"
	ActionRemoveFollower Action = "remove_follower"
	ActionRepair         Action = "counter_repair"
)

// Change describes one committed mutation. Follower and Followee name the
// edge (or would-be edge) it concerns; Actor is who asked for it.
type Change struct {
	Action   Action
	Actor    string
	Follower string
	Followee string
	Err      error
}

// Observer is notified after a mutation commits. Implementations must not
// block for long; they run on the caller's goroutine.
type Observer interface {
	RelationshipChanged(ctx context.Context, c Change)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, c Change)

func (f ObserverFunc) RelationshipChanged(ctx context.Context, c Change) { f(ctx, c) }

type observers []Observer

func (o observers) notify(ctx context.Context, c Change) {
	for _, obs := range o {
		obs.RelationshipChanged(ctx, c)
	}
}
