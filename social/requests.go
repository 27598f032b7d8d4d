package social

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/moodring/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Requests runs the follow-request lifecycle:
// none → pending → accepted (edge created) | declined (record deleted).
type Requests struct {
	db      *gorm.DB
	mutator *Mutator
	logger  *zap.Logger
}

// NewRequests creates the request service. Accepted requests materialise
// their edge with the mutator's helpers and report to its observers.
func NewRequests(db *gorm.DB, mutator *Mutator, logger *zap.Logger) *Requests {
	return &Requests{db: db, mutator: mutator, logger: logger}
}

func (r *Requests) notify(ctx context.Context, c Change) {
	r.mutator.observers.notify(ctx, c)
}

// Send creates a pending request from → to. It fails with
// ErrAlreadyFollowing when the edge exists and ErrRequestExists when a
// pending request is already outstanding.
func (r *Requests) Send(ctx context.Context, from, to string) (*model.FollowRequest, error) {
	if from == to {
		return nil, ErrSelfFollow
	}
	req := &model.FollowRequest{Requestor: from, Target: to, Status: model.RequestPending}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireParticipants(tx, from, to); err != nil {
			return err
		}
		following, err := edgeExists(tx, from, to)
		if err != nil {
			return err
		}
		if following {
			return ErrAlreadyFollowing
		}

		// An accepted record whose edge was since removed no longer means
		// anything; replace it.
		if err := tx.Where("requestor = ? AND target = ? AND status <> ?", from, to, model.RequestPending).
			Delete(&model.FollowRequest{}).Error; err != nil {
			return err
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(req)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRequestExists
		}
		return nil
	})
	if err != nil {
		return nil, StoreErr("send request", err)
	}
	r.notify(ctx, Change{Action: ActionRequest, Actor: from, Follower: from, Followee: to})
	return req, nil
}

// ListPending returns the pending requests addressed to username in the
// order they were created.
func (r *Requests) ListPending(ctx context.Context, username string) ([]model.FollowRequest, error) {
	var out []model.FollowRequest
	err := r.db.WithContext(ctx).
		Where("target = ? AND status = ?", username, model.RequestPending).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, StoreErr("list requests", err)
	}
	return out, nil
}

// Exists reports whether a pending request from → to is outstanding.
func (r *Requests) Exists(ctx context.Context, from, to string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.FollowRequest{}).
		Where("requestor = ? AND target = ? AND status = ?", from, to, model.RequestPending).
		Count(&n).Error
	if err != nil {
		return false, StoreErr("request exists", err)
	}
	return n > 0, nil
}

// Acceptance is the outcome of Accept.
type Acceptance struct {
	Request model.FollowRequest `json:"request"`
	// FollowBackSuggested is set when the target does not yet follow the
	// requestor. The reverse edge is never created by acceptance.
	FollowBackSuggested bool `json:"follow_back_suggested"`
}

// Accept converts the pending request requestor → target into an edge.
func (r *Requests) Accept(ctx context.Context, target, requestor string) (*Acceptance, error) {
	out := &Acceptance{}
	inserted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := takePending(tx, requestor, target)
		if err != nil {
			return err
		}
		if err := tx.Model(req).Update("status", model.RequestAccepted).Error; err != nil {
			return err
		}
		req.Status = model.RequestAccepted
		out.Request = *req

		if err := requireParticipants(tx, requestor, target); err != nil {
			return err
		}
		// An edge that already exists is the outcome acceptance wants.
		switch err := createEdge(tx, requestor, target); {
		case err == nil:
			inserted = true
		case !errors.Is(err, ErrAlreadyFollowing):
			return err
		}
		back, err := edgeExists(tx, target, requestor)
		if err != nil {
			return err
		}
		out.FollowBackSuggested = !back
		return nil
	})
	if err != nil {
		return nil, StoreErr("accept request", err)
	}
	r.logger.Debug("follow request accepted",
		zap.String("requestor", requestor),
		zap.String("target", target),
		zap.Bool("follow_back_suggested", out.FollowBackSuggested))
	r.notify(ctx, Change{Action: ActionAccept, Actor: target, Follower: requestor, Followee: target})
	if inserted {
		r.notify(ctx, Change{Action: ActionFollow, Actor: target, Follower: requestor, Followee: target})
	}
	return out, nil
}

// Decline deletes the pending request requestor → target. No edge is
// created and no counter changes.
func (r *Requests) Decline(ctx context.Context, target, requestor string) (*model.FollowRequest, error) {
	var req *model.FollowRequest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if req, err = takePending(tx, requestor, target); err != nil {
			return err
		}
		return tx.Delete(req).Error
	})
	if err != nil {
		return nil, StoreErr("decline request", err)
	}
	req.Status = model.RequestDeclined
	r.notify(ctx, Change{Action: ActionDecline, Actor: target, Follower: requestor, Followee: target})
	return req, nil
}

func takePending(tx *gorm.DB, requestor, target string) (*model.FollowRequest, error) {
	var req model.FollowRequest
	err := tx.Where("requestor = ? AND target = ? AND status = ?", requestor, target, model.RequestPending).
		Take(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no pending request from %s to %s", ErrNotFound, requestor, target)
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}
