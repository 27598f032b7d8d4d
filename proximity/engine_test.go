package proximity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/moodring/server/geo"
	"github.com/kasuganosora/moodring/server/journal"
	"github.com/kasuganosora/moodring/server/model"
	"github.com/kasuganosora/moodring/server/social"
	"github.com/kasuganosora/moodring/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var center = geo.Point{Latitude: 53.5461, Longitude: -113.4938}

// east returns the point km from center on an initial bearing of 90°.
func east(km float64) geo.Point {
	lat := center.Latitude * math.Pi / 180
	d := km / 6371.0
	lat2 := math.Asin(math.Sin(lat) * math.Cos(d))
	lng := center.Longitude*math.Pi/180 + math.Atan2(math.Sin(d)*math.Cos(lat), math.Cos(d)-math.Sin(lat)*math.Sin(lat2))
	return geo.Point{Latitude: lat2 * 180 / math.Pi, Longitude: lng * 180 / math.Pi}
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func insert(t *testing.T, db *gorm.DB, id, author string, p geo.Point, minutes *int) {
	t.Helper()
	hash := geo.Encode(p, geo.StoredPrecision)
	lat, lng := p.Latitude, p.Longitude
	ev := &model.MoodEvent{
		ID: id, Author: author, Title: id, EmotionalState: model.EmotionHappy,
		Geohash: &hash, Latitude: &lat, Longitude: &lng,
	}
	if minutes != nil {
		ts := t0.Add(time.Duration(*minutes) * time.Minute)
		ev.Timestamp = &ts
	}
	require.NoError(t, db.Create(ev).Error)
}

func at(m int) *int { return &m }

type stack struct {
	db      *gorm.DB
	mutator *social.Mutator
	engine  *Engine
}

func newStack(t *testing.T, users ...string) *stack {
	t.Helper()
	db := testutil.SetupTestDB(t)
	testutil.SeedParticipants(t, db, users...)
	m := social.NewMutator(db, zap.NewNop())
	j := journal.NewService(db, m, nil, zap.NewNop())
	return &stack{db: db, mutator: m, engine: NewEngine(j, m, Config{}, zap.NewNop())}
}

func hitIDs(r *Result) []string {
	out := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		out[i] = h.ID
	}
	return out
}

func TestNearby_PostFiltersByTrueDistance(t *testing.T) {
	s := newStack(t, "viewer", "near", "far")
	ctx := context.Background()
	require.NoError(t, s.mutator.Follow(ctx, "viewer", "near"))
	require.NoError(t, s.mutator.Follow(ctx, "viewer", "far"))
	insert(t, s.db, "ev-2km", "near", east(2), at(1))
	insert(t, s.db, "ev-6km", "far", east(6), at(2))

	// Both events share a covering cell; only the distance check separates them.
	bounds := geo.QueryBounds(center, 5000)
	farHash := geo.Encode(east(6), geo.StoredPrecision)
	inCover := false
	for _, r := range bounds {
		inCover = inCover || r.Contains(farHash)
	}
	require.True(t, inCover)

	res, err := s.engine.Nearby(ctx, "viewer", center, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"ev-2km"}, hitIDs(res))
	assert.InDelta(t, 2.0, res.Hits[0].DistanceKm, 0.01)
	assert.Equal(t, "😃", res.Hits[0].Emoticon)
	assert.Nil(t, res.Partial)

	res, err = s.engine.Nearby(ctx, "viewer", center, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"ev-6km", "ev-2km"}, hitIDs(res), "sorted by author")
}

func TestNearby_SubMetreRadiusFindsEventAtCentre(t *testing.T) {
	s := newStack(t, "viewer", "here")
	ctx := context.Background()
	require.NoError(t, s.mutator.Follow(ctx, "viewer", "here"))
	insert(t, s.db, "on-the-spot", "here", center, at(1))

	for _, km := range []float64{0.001, 0.0005, 0.0002, 0.00012} {
		res, err := s.engine.Nearby(ctx, "viewer", center, km)
		require.NoError(t, err)
		assert.Equal(t, []string{"on-the-spot"}, hitIDs(res), "radius %v km", km)
	}
}

func TestNearby_MostRecentPerAuthor(t *testing.T) {
	s := newStack(t, "viewer", "a", "b")
	ctx := context.Background()
	require.NoError(t, s.mutator.Follow(ctx, "viewer", "a"))
	require.NoError(t, s.mutator.Follow(ctx, "viewer", "b"))
	insert(t, s.db, "a-old", "a", east(1), at(1))
	insert(t, s.db, "a-new", "a", east(3), at(5))
	insert(t, s.db, "a-unstamped", "a", east(0.5), nil)
	insert(t, s.db, "a-outside", "a", east(20), at(9))
	insert(t, s.db, "b-unstamped", "b", east(1), nil)

	res, err := s.engine.Nearby(ctx, "viewer", center, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-new", "b-unstamped"}, hitIDs(res))
}

func TestNearby_ExcludesViewerAndStrangers(t *testing.T) {
	s := newStack(t, "viewer", "friend", "stranger")
	ctx := context.Background()
	require.NoError(t, s.mutator.Follow(ctx, "viewer", "friend"))
	require.NoError(t, s.mutator.Follow(ctx, "stranger", "viewer"))
	insert(t, s.db, "mine", "viewer", east(1), at(3))
	insert(t, s.db, "theirs", "stranger", east(1), at(2))
	insert(t, s.db, "friends", "friend", east(1), at(1))

	res, err := s.engine.Nearby(ctx, "viewer", center, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"friends"}, hitIDs(res))
}

func TestNearby_WithJournalCreatedEvents(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.SeedParticipants(t, db, "viewer", "a")
	m := social.NewMutator(db, zap.NewNop())
	j := journal.NewService(db, m, nil, zap.NewNop())
	e := NewEngine(j, m, Config{}, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, m.Follow(ctx, "viewer", "a"))

	p := east(1.5)
	ev, err := j.Create(ctx, "a", journal.Input{Title: "coffee", Location: &p})
	require.NoError(t, err)
	_, err = j.Create(ctx, "a", journal.Input{Title: "no location"})
	require.NoError(t, err)

	res, err := e.Nearby(ctx, "viewer", center, DefaultRadiusKm)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, ev.ID, res.Hits[0].ID)
	require.NotNil(t, res.Hits[0].Geo)
}

func TestNearby_Validation(t *testing.T) {
	e := NewEngine(&ranges{}, following{"viewer": {"a"}}, Config{MaxRadiusKm: 50}, zap.NewNop())
	ctx := context.Background()
	for name, tc := range map[string]struct {
		p geo.Point
		r float64
	}{
		"zero radius":     {center, 0},
		"negative radius": {center, -1},
		"nan radius":      {center, math.NaN()},
		"too large":       {center, 51},
		"bad latitude":    {geo.Point{Latitude: 100}, 5},
		"bad longitude":   {geo.Point{Longitude: 200}, 5},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := e.Nearby(ctx, "viewer", tc.p, tc.r)
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
}

// ---- fan-out failure policy ----

type following map[string][]string

func (f following) Following(_ context.Context, u string) ([]string, error) { return f[u], nil }

type ranges struct {
	mu     sync.Mutex
	seen   []geo.Range
	fail   func(i int) bool
	events []model.MoodEvent
}

func (r *ranges) InGeohashRange(_ context.Context, start, end string) ([]model.MoodEvent, error) {
	r.mu.Lock()
	i := len(r.seen)
	r.seen = append(r.seen, geo.Range{Start: start, End: end})
	r.mu.Unlock()
	if r.fail != nil && r.fail(i) {
		return nil, fmt.Errorf("%w: range %s", social.ErrStoreUnavailable, start)
	}
	var out []model.MoodEvent
	for _, ev := range r.events {
		if ev.Geohash != nil && (geo.Range{Start: start, End: end}).Contains(*ev.Geohash) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func located(id, author string, p geo.Point) model.MoodEvent {
	hash := geo.Encode(p, geo.StoredPrecision)
	lat, lng := p.Latitude, p.Longitude
	ts := t0
	return model.MoodEvent{ID: id, Author: author, Geohash: &hash, Latitude: &lat, Longitude: &lng, Timestamp: &ts}
}

func TestNearby_RadiusConvertedToMeters(t *testing.T) {
	src := &ranges{}
	e := NewEngine(src, following{"viewer": {"a"}}, Config{}, zap.NewNop())
	_, err := e.Nearby(context.Background(), "viewer", center, 5)
	require.NoError(t, err)
	assert.ElementsMatch(t, geo.QueryBounds(center, 5000), src.seen)
}

func TestNearby_AllRangesFail(t *testing.T) {
	src := &ranges{fail: func(int) bool { return true }}
	e := NewEngine(src, following{"viewer": {"a"}}, Config{}, zap.NewNop())

	res, err := e.Nearby(context.Background(), "viewer", center, 5)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, social.ErrStoreUnavailable)
	var pf *social.PartialFailure
	require.True(t, errors.As(err, &pf))
	assert.True(t, pf.All())
	assert.Equal(t, len(src.seen), pf.Total, "every range was attempted")
}

func TestNearby_SomeRangesFail(t *testing.T) {
	south := geo.Point{Latitude: center.Latitude - 0.036, Longitude: center.Longitude}
	src := &ranges{events: []model.MoodEvent{located("a1", "a", east(1)), located("b1", "b", south)}}
	// Fail the range holding a1 only.
	a1Hash := *src.events[0].Geohash
	bounds := geo.QueryBounds(center, 5000)
	require.Greater(t, len(bounds), 1)
	failing := map[geo.Range]bool{}
	for _, r := range bounds {
		if r.Contains(a1Hash) {
			failing[r] = true
		}
	}
	require.Len(t, failing, 1)
	b1Hash := *src.events[1].Geohash
	for r := range failing {
		require.False(t, r.Contains(b1Hash), "fixture needs a1 and b1 in different ranges")
	}

	e := NewEngine(failingRanges{src, failing}, following{"viewer": {"a", "b"}}, Config{}, zap.NewNop())
	res, err := e.Nearby(context.Background(), "viewer", center, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, hitIDs(res))
	require.NotNil(t, res.Partial)
	assert.Len(t, res.Partial.Failed, 1)
	assert.ErrorIs(t, res.Partial, social.ErrPartialAggregation)
}

type failingRanges struct {
	*ranges
	fail map[geo.Range]bool
}

func (f failingRanges) InGeohashRange(ctx context.Context, start, end string) ([]model.MoodEvent, error) {
	if f.fail[geo.Range{Start: start, End: end}] {
		return nil, fmt.Errorf("%w: range %s", social.ErrStoreUnavailable, start)
	}
	return f.ranges.InGeohashRange(ctx, start, end)
}

func TestNearby_NoFollowingSkipsQueries(t *testing.T) {
	src := &ranges{}
	e := NewEngine(src, following{}, Config{}, zap.NewNop())
	res, err := e.Nearby(context.Background(), "loner", center, 5)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Empty(t, src.seen)
}

func TestFresher(t *testing.T) {
	t1, t2 := t0, t0.Add(time.Minute)
	older := &model.MoodEvent{ID: "b", Timestamp: &t1}
	newer := &model.MoodEvent{ID: "c", Timestamp: &t2}
	unstamped := &model.MoodEvent{ID: "a"}
	tie := &model.MoodEvent{ID: "a", Timestamp: &t1}

	assert.True(t, fresher(newer, older))
	assert.False(t, fresher(older, newer))
	assert.False(t, fresher(unstamped, older), "an unstamped event never beats a stamped one")
	assert.True(t, fresher(tie, older), "ties break on id")
}
