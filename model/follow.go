package model

import "time"

// FollowEdge is the single row backing "Follower follows Followee". It is
// read as a following-record from the follower side and as a
// follower-record from the followee side.
type FollowEdge struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	Follower  string    `gorm:"size:32;not null;uniqueIndex:idx_follow_pair" json:"follower"`
	Followee  string    `gorm:"size:32;not null;uniqueIndex:idx_follow_pair;index:idx_follow_followee" json:"followee"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// RequestStatus is the lifecycle state of a FollowRequest.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestDeclined RequestStatus = "declined"
)

// FollowRequest asks Target to let Requestor follow them. At most one
// record exists per (requestor, target) pair.
type FollowRequest struct {
	ID        int64         `gorm:"primaryKey;autoIncrement" json:"-"`
	Requestor string        `gorm:"size:32;not null;uniqueIndex:idx_request_pair" json:"from_username"`
	Target    string        `gorm:"size:32;not null;uniqueIndex:idx_request_pair;index:idx_request_target" json:"to_username"`
	Status    RequestStatus `gorm:"size:16;not null;default:pending" json:"status"`
	CreatedAt time.Time     `gorm:"autoCreateTime" json:"timestamp"`
}
