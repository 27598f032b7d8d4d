// Package feed builds a viewer's home feed by fanning out one query per
// followed author and merging the results.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kasuganosora/moodring/server/cache"
	"github.com/kasuganosora/moodring/server/model"
	"github.com/kasuganosora/moodring/server/social"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPerAuthorLimit = 3
	DefaultMaxConcurrency = 16
)

// FollowingSource resolves who a viewer follows.
type FollowingSource interface {
	Following(ctx context.Context, username string) ([]string, error)
}

// EventSource returns an author's events, newest first, unstamped last.
type EventSource interface {
	ListByAuthor(ctx context.Context, author string, limit int) ([]model.MoodEvent, error)
}

// Entry is one feed item: the event plus the glyph for its mood.
type Entry struct {
	model.MoodEvent
	Emoticon string `json:"emoticon"`
}

// Result is a built feed. Partial is set when some authors could not be
// read; Entries then holds everything the other authors returned.
type Result struct {
	Entries []Entry                `json:"entries"`
	Partial *social.PartialFailure `json:"-"`
	Cached  bool                   `json:"cached"`
}

type Config struct {
	PerAuthorLimit int
	MaxConcurrency int
	CacheTTL       time.Duration
}

// Aggregator builds feeds. The cache is optional.
type Aggregator struct {
	following FollowingSource
	events    EventSource
	cache     cache.Cache
	cfg       Config
	logger    *zap.Logger
}

func NewAggregator(following FollowingSource, events EventSource, c cache.Cache, cfg Config, logger *zap.Logger) *Aggregator {
	if cfg.PerAuthorLimit <= 0 {
		cfg.PerAuthorLimit = DefaultPerAuthorLimit
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Aggregator{following: following, events: events, cache: c, cfg: cfg, logger: logger}
}

// Key is the cache key of viewer's built feed.
func Key(viewer string) string { return "feed:" + viewer }

// Build returns viewer's feed: at most PerAuthorLimit recent events from
// each followed author, newest first. It fails only when the following set
// cannot be read or every author query fails.
func (a *Aggregator) Build(ctx context.Context, viewer string) (*Result, error) {
	if entries, ok := a.cached(ctx, viewer); ok {
		return &Result{Entries: entries, Cached: true}, nil
	}

	authors, err := a.following.Following(ctx, viewer)
	if err != nil {
		return nil, err
	}
	if len(authors) == 0 {
		return &Result{Entries: []Entry{}}, nil
	}

	slots := make([][]model.MoodEvent, len(authors))
	errs := make([]error, len(authors))
	var g errgroup.Group
	g.SetLimit(a.cfg.MaxConcurrency)
	for i, author := range authors {
		g.Go(func() error {
			evs, err := a.events.ListByAuthor(ctx, author, a.cfg.PerAuthorLimit)
			if err != nil {
				errs[i] = err
				return nil
			}
			if len(evs) > a.cfg.PerAuthorLimit {
				evs = evs[:a.cfg.PerAuthorLimit]
			}
			slots[i] = evs
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Entries: make([]Entry, 0, len(authors)*a.cfg.PerAuthorLimit)}
	var partial *social.PartialFailure
	for i, author := range authors {
		if errs[i] != nil {
			if partial == nil {
				partial = &social.PartialFailure{Total: len(authors), Failed: map[string]error{}}
			}
			partial.Failed[author] = errs[i]
			a.logger.Warn("feed author query failed",
				zap.String("viewer", viewer),
				zap.String("author", author),
				zap.Error(errs[i]))
			continue
		}
		for _, ev := range slots[i] {
			res.Entries = append(res.Entries, Entry{MoodEvent: ev, Emoticon: ev.EmotionalState.Emoticon()})
		}
	}
	if partial != nil && partial.All() {
		return nil, fmt.Errorf("%w: feed for %s: %w", social.ErrStoreUnavailable, viewer, partial)
	}
	res.Partial = partial

	slices.SortFunc(res.Entries, compareEntries)
	if partial == nil {
		a.store(ctx, viewer, res.Entries)
	}
	return res, nil
}

// compareEntries orders newest first with unstamped events last, then by id.
func compareEntries(x, y Entry) int {
	switch {
	case x.NewerThan(&y.MoodEvent):
		return -1
	case y.NewerThan(&x.MoodEvent):
		return 1
	}
	return strings.Compare(x.ID, y.ID)
}

func (a *Aggregator) cached(ctx context.Context, viewer string) ([]Entry, bool) {
	if a.cache == nil || a.cfg.CacheTTL <= 0 {
		return nil, false
	}
	raw, err := a.cache.Get(ctx, Key(viewer))
	if err != nil {
		if !cache.IsNotFound(err) {
			a.logger.Warn("feed cache read failed", zap.String("viewer", viewer), zap.Error(err))
		}
		return nil, false
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		a.logger.Warn("feed cache entry corrupt", zap.String("viewer", viewer), zap.Error(err))
		return nil, false
	}
	return entries, true
}

func (a *Aggregator) store(ctx context.Context, viewer string, entries []Entry) {
	if a.cache == nil || a.cfg.CacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, Key(viewer), string(raw), a.cfg.CacheTTL); err != nil {
		a.logger.Warn("feed cache write failed", zap.String("viewer", viewer), zap.Error(err))
	}
}
