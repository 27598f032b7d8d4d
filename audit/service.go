// Package audit persists relationship mutations. Entries are queued and
// written in batches by a background worker so the request path never
// waits on the audit table.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/moodring/server/middleware"
	"github.com/kasuganosora/moodring/server/model"
	"github.com/kasuganosora/moodring/server/social"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	queueSize     = 1024
	batchSize     = 100
	flushInterval = 2 * time.Second
)

// Entry is one audit record before it is queued.
type Entry struct {
	TraceID string
	Actor   string
	Target  string
	Action  string
	Detail  any
	Err     error
}

// Service writes audit entries asynchronously in batches.
type Service struct {
	db       *gorm.DB
	ch       chan *model.AuditLog
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
	interval time.Duration
}

// New creates the service and starts its worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	return newService(db, logger, flushInterval)
}

func newService(db *gorm.DB, logger *zap.Logger, interval time.Duration) *Service {
	svc := &Service{
		db:       db,
		ch:       make(chan *model.AuditLog, queueSize),
		stopCh:   make(chan struct{}),
		logger:   logger,
		interval: interval,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// RelationshipChanged implements social.Observer. The trace id is taken
// from the request context when the change came in over HTTP.
func (svc *Service) RelationshipChanged(ctx context.Context, c social.Change) {
	target := c.Followee
	if c.Actor == c.Followee {
		target = c.Follower
	}
	e := Entry{
		TraceID: middleware.TraceIDFrom(ctx),
		Actor:   c.Actor,
		Target:  target,
		Action:  string(c.Action),
		Err:     c.Err,
	}
	if c.Follower != "" {
		e.Detail = map[string]string{"follower": c.Follower, "followee": c.Followee}
	}
	svc.Log(e)
}

// Log queues an entry. When the queue is full the entry is dropped.
func (svc *Service) Log(e Entry) {
	record := &model.AuditLog{
		TraceID: e.TraceID,
		Actor:   e.Actor,
		Target:  e.Target,
		Action:  e.Action,
	}
	if e.Detail != nil {
		if raw, err := json.Marshal(e.Detail); err == nil {
			record.Detail = datatypes.JSON(raw)
		}
	}
	if e.Err != nil {
		record.Error = e.Err.Error()
	}
	select {
	case <-svc.stopCh:
		svc.logger.Warn("audit stopped, dropping entry", zap.String("action", e.Action))
		return
	default:
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit queue full, dropping entry", zap.String("action", e.Action))
	}
}

// Stop flushes queued entries and waits for the worker to exit.
func (svc *Service) Stop() {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(svc.interval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-svc.ch:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case rec := <-svc.ch:
					batch = append(batch, rec)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Query filters the audit trail.
type Query struct {
	Actor  string
	Action string
	Limit  int
}

// Recent returns the newest entries matching q.
func (svc *Service) Recent(ctx context.Context, q Query) ([]model.AuditLog, error) {
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	tx := svc.db.WithContext(ctx).Order("id DESC").Limit(q.Limit)
	if q.Actor != "" {
		tx = tx.Where("actor = ?", q.Actor)
	}
	if q.Action != "" {
		tx = tx.Where("action = ?", q.Action)
	}
	var out []model.AuditLog
	if err := tx.Find(&out).Error; err != nil {
		return nil, social.StoreErr("audit query", err)
	}
	return out, nil
}
