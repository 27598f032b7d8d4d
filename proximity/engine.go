// Package proximity answers "which events by people I follow happened
// near here": a geohash covering finds candidates, a great-circle
// distance check confirms them, and each author keeps only their latest.
package proximity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/kasuganosora/moodring/server/geo"
	"github.com/kasuganosora/moodring/server/model"
	"github.com/kasuganosora/moodring/server/social"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultRadiusKm       = 5.0
	DefaultMaxRadiusKm    = 50.0
	DefaultMaxConcurrency = 9
)

// ErrInvalidQuery rejects a malformed centre or radius.
var ErrInvalidQuery = errors.New("invalid proximity query")

// RangeSource returns located events whose geohash lies in [start, end).
type RangeSource interface {
	InGeohashRange(ctx context.Context, start, end string) ([]model.MoodEvent, error)
}

// FollowingSource resolves who a viewer follows.
type FollowingSource interface {
	Following(ctx context.Context, username string) ([]string, error)
}

type Config struct {
	MaxRadiusKm    float64
	MaxConcurrency int
}

// Hit is one author's latest event inside the query circle.
type Hit struct {
	model.MoodEvent
	Emoticon   string  `json:"emoticon"`
	DistanceKm float64 `json:"distance_km"`
}

// Result holds one hit per qualifying author, sorted by author. Partial is
// set when some covering ranges could not be read.
type Result struct {
	Hits    []Hit                  `json:"events"`
	Partial *social.PartialFailure `json:"-"`
}

type Engine struct {
	ranges    RangeSource
	following FollowingSource
	cfg       Config
	logger    *zap.Logger
}

func NewEngine(ranges RangeSource, following FollowingSource, cfg Config, logger *zap.Logger) *Engine {
	if cfg.MaxRadiusKm <= 0 {
		cfg.MaxRadiusKm = DefaultMaxRadiusKm
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Engine{ranges: ranges, following: following, cfg: cfg, logger: logger}
}

// Nearby returns, for each author viewer follows, their most recent event
// within radiusKm of center. It fails only when the following set cannot
// be read or every covering range query fails.
func (e *Engine) Nearby(ctx context.Context, viewer string, center geo.Point, radiusKm float64) (*Result, error) {
	if err := center.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if math.IsNaN(radiusKm) || radiusKm <= 0 || radiusKm > e.cfg.MaxRadiusKm {
		return nil, fmt.Errorf("%w: radius must be in (0, %g] km", ErrInvalidQuery, e.cfg.MaxRadiusKm)
	}

	following, err := e.following.Following(ctx, viewer)
	if err != nil {
		return nil, err
	}
	if len(following) == 0 {
		return &Result{Hits: []Hit{}}, nil
	}
	followed := make(map[string]struct{}, len(following))
	for _, f := range following {
		followed[f] = struct{}{}
	}

	// The covering works in meters; every other distance here is km.
	ranges := geo.QueryBounds(center, radiusKm*1000)
	candidates, partial := e.scan(ctx, ranges)
	if partial != nil && partial.All() {
		return nil, fmt.Errorf("%w: proximity query: %w", social.ErrStoreUnavailable, partial)
	}

	latest := make(map[string]Hit)
	for _, ev := range candidates {
		if ev.Author == viewer {
			continue
		}
		if _, ok := followed[ev.Author]; !ok {
			continue
		}
		loc := ev.Location()
		if loc == nil {
			continue
		}
		d := geo.DistanceKm(center, geo.Point{Latitude: loc.Latitude, Longitude: loc.Longitude})
		if d > radiusKm {
			continue
		}
		if cur, ok := latest[ev.Author]; ok && !fresher(&ev, &cur.MoodEvent) {
			continue
		}
		latest[ev.Author] = Hit{MoodEvent: ev, Emoticon: ev.EmotionalState.Emoticon(), DistanceKm: d}
	}

	res := &Result{Hits: make([]Hit, 0, len(latest)), Partial: partial}
	for _, h := range latest {
		res.Hits = append(res.Hits, h)
	}
	slices.SortFunc(res.Hits, func(a, b Hit) int { return strings.Compare(a.Author, b.Author) })
	return res, nil
}

// scan queries every range concurrently and returns the union of the
// results, deduplicated by event id.
func (e *Engine) scan(ctx context.Context, ranges []geo.Range) ([]model.MoodEvent, *social.PartialFailure) {
	slots := make([][]model.MoodEvent, len(ranges))
	errs := make([]error, len(ranges))
	var g errgroup.Group
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, r := range ranges {
		g.Go(func() error {
			evs, err := e.ranges.InGeohashRange(ctx, r.Start, r.End)
			if err != nil {
				errs[i] = err
				return nil
			}
			slots[i] = evs
			return nil
		})
	}
	_ = g.Wait()

	var (
		out     []model.MoodEvent
		partial *social.PartialFailure
		seen    = make(map[string]struct{})
	)
	for i, r := range ranges {
		if errs[i] != nil {
			if partial == nil {
				partial = &social.PartialFailure{Total: len(ranges), Failed: map[string]error{}}
			}
			key := r.Start + ".." + r.End
			partial.Failed[key] = errs[i]
			e.logger.Warn("proximity range query failed", zap.String("range", key), zap.Error(errs[i]))
			continue
		}
		for _, ev := range slots[i] {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			out = append(out, ev)
		}
	}
	return out, partial
}

// fresher reports whether a should replace b as an author's latest event.
func fresher(a, b *model.MoodEvent) bool {
	if a.NewerThan(b) {
		return true
	}
	return !b.NewerThan(a) && a.ID < b.ID
}
