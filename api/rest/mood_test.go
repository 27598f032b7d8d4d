package rest_test

import (
	"net/http"
	"testing"

	"github.com/kasuganosora/moodring/server/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createEvent(t *testing.T, s *server, token string, body map[string]any) model.MoodEvent {
	t.Helper()
	w := s.do(http.MethodPost, "/api/mood-events", token, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ev model.MoodEvent
	decode(t, w, &ev)
	return ev
}

func TestMoodEventCRUD(t *testing.T) {
	s := newServer(t)
	alice := s.register("alice")
	bob := s.register("bob")

	ev := createEvent(t, s, alice, map[string]any{
		"title":            "sunny walk",
		"emotional_state":  "HAPPY",
		"social_situation": "ALONE",
		"location":         map[string]float64{"latitude": 53.5461, "longitude": -113.4938},
	})
	assert.Equal(t, "alice", ev.Author)
	require.NotNil(t, ev.Timestamp)
	require.NotNil(t, ev.Geo)
	assert.Equal(t, "c3x297u2du", ev.Geo.Geohash)

	path := "/api/mood-events/" + ev.ID
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, path, bob, nil).Code, "not a follower")
	s.follow(bob, "alice", alice, "bob")
	w := s.do(http.MethodGet, path, bob, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPut, path, alice, map[string]any{"title": "rainy walk", "emotional_state": "SAD"})
	require.Equal(t, http.StatusOK, w.Code)
	var updated model.MoodEvent
	decode(t, w, &updated)
	assert.Equal(t, "rainy walk", updated.Title)
	assert.Nil(t, updated.Geo, "omitting the location clears it")

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPut, path, bob, map[string]any{"title": "x"}).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodDelete, path, bob, nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, path, alice, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, path, alice, nil).Code)
}

func TestMoodEventValidation(t *testing.T) {
	s := newServer(t)
	alice := s.register("alice")

	for name, body := range map[string]map[string]any{
		"missing title":   {"reason": "x"},
		"unknown mood":    {"title": "t", "emotional_state": "ELATED"},
		"unknown setting": {"title": "t", "social_situation": "IN_SPACE"},
		"bad latitude":    {"title": "t", "location": map[string]float64{"latitude": 91, "longitude": 0}},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/mood-events", alice, body).Code)
		})
	}
}

func TestHistoryAndComments(t *testing.T) {
	s := newServer(t)
	alice := s.register("alice")
	bob := s.register("bob")
	carol := s.register("carol")
	ev := createEvent(t, s, alice, map[string]any{"title": "first"})
	createEvent(t, s, alice, map[string]any{"title": "second"})
	s.follow(bob, "alice", alice, "bob")

	w := s.do(http.MethodGet, "/api/participants/alice/mood-events?limit=1", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		Events []model.MoodEvent `json:"events"`
	}
	decode(t, w, &hist)
	require.Len(t, hist.Events, 1)
	assert.Equal(t, "second", hist.Events[0].Title)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/participants/alice/mood-events", carol, nil).Code)

	comments := "/api/mood-events/" + ev.ID + "/comments"
	assert.Equal(t, http.StatusCreated, s.do(http.MethodPost, comments, bob, map[string]string{"text": "hugs"}).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, comments, carol, map[string]string{"text": "hi"}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, comments, bob, map[string]string{}).Code)

	w = s.do(http.MethodGet, comments, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Comments []model.Comment `json:"comments"`
	}
	decode(t, w, &list)
	require.Len(t, list.Comments, 1)
	assert.Equal(t, "bob", list.Comments[0].Author)
}

func TestHistoryFilters(t *testing.T) {
	s := newServer(t)
	alice := s.register("alice")
	bob := s.register("bob")
	createEvent(t, s, alice, map[string]any{"title": "walk", "reason": "Evening Walk", "emotional_state": "HAPPY"})
	createEvent(t, s, alice, map[string]any{"title": "bus", "reason": "missed the bus", "emotional_state": "SAD"})
	s.follow(bob, "alice", alice, "bob")

	titles := func(query string) []string {
		t.Helper()
		w := s.do(http.MethodGet, "/api/participants/alice/mood-events"+query, bob, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var hist struct {
			Events []model.MoodEvent `json:"events"`
		}
		decode(t, w, &hist)
		out := make([]string, 0, len(hist.Events))
		for _, ev := range hist.Events {
			out = append(out, ev.Title)
		}
		return out
	}
	assert.ElementsMatch(t, []string{"bus", "walk"}, titles(""))
	assert.ElementsMatch(t, []string{"bus", "walk"}, titles("?recent=true"))
	assert.Equal(t, []string{"walk"}, titles("?emotion=happy"))
	assert.Equal(t, []string{"walk"}, titles("?q=walk"))
	assert.Equal(t, []string{"bus"}, titles("?emotion=SAD&q=BUS"))
	assert.Empty(t, titles("?emotion=SAD&q=walk"))

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/participants/alice/mood-events?emotion=ELATED", bob, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/participants/alice/mood-events?recent=maybe", bob, nil).Code)
}
