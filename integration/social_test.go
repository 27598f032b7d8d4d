package integration

import (
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relationship struct {
	Following      bool `json:"following"`
	FollowedBy     bool `json:"followed_by"`
	RequestPending bool `json:"request_pending"`
}

type counts struct {
	Followers int64 `json:"follower_count"`
	Following int64 `json:"following_count"`
}

func (ts *TestServer) counts(t *testing.T, token, username string) counts {
	t.Helper()
	var c counts
	Expect(t, ts.Get(t, "/api/participants/"+username, token), http.StatusOK, &c)
	return c
}

func TestFollowRequestLifecycle(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	alice, bob := UniqueID("alice"), UniqueID("bob")
	aliceTok, bobTok := ts.Register(t, alice), ts.Register(t, bob)

	// Request, then a duplicate request conflicts.
	Expect(t, ts.PostJSON(t, "/api/follow-requests", map[string]string{"to": bob}, aliceTok), http.StatusCreated, nil)
	Expect(t, ts.PostJSON(t, "/api/follow-requests", map[string]string{"to": bob}, aliceTok), http.StatusConflict, nil)
	Expect(t, ts.PostJSON(t, "/api/follow-requests", map[string]string{"to": alice}, aliceTok), http.StatusConflict, nil)

	var rel relationship
	Expect(t, ts.Get(t, "/api/relationships/"+bob, aliceTok), http.StatusOK, &rel)
	assert.Equal(t, relationship{RequestPending: true}, rel)

	var pending struct {
		Requests []struct {
			From   string `json:"from_username"`
			To     string `json:"to_username"`
			Status string `json:"status"`
		} `json:"requests"`
	}
	Expect(t, ts.Get(t, "/api/follow-requests", bobTok), http.StatusOK, &pending)
	require.Len(t, pending.Requests, 1)
	assert.Equal(t, alice, pending.Requests[0].From)
	assert.Equal(t, bob, pending.Requests[0].To)
	assert.Equal(t, "pending", pending.Requests[0].Status)

	// Accepting creates one edge and suggests following back.
	var acc struct {
		FollowBackSuggested bool `json:"follow_back_suggested"`
	}
	Expect(t, ts.PostJSON(t, "/api/follow-requests/"+alice+"/accept", nil, bobTok), http.StatusOK, &acc)
	assert.True(t, acc.FollowBackSuggested)
	Expect(t, ts.PostJSON(t, "/api/follow-requests/"+alice+"/accept", nil, bobTok), http.StatusNotFound, nil)

	Expect(t, ts.Get(t, "/api/relationships/"+bob, aliceTok), http.StatusOK, &rel)
	assert.Equal(t, relationship{Following: true}, rel)
	Expect(t, ts.Get(t, "/api/relationships/"+alice, bobTok), http.StatusOK, &rel)
	assert.Equal(t, relationship{FollowedBy: true}, rel)
	assert.Equal(t, counts{Followers: 1}, ts.counts(t, aliceTok, bob))
	assert.Equal(t, counts{Following: 1}, ts.counts(t, aliceTok, alice))

	// Already following: a new request conflicts.
	Expect(t, ts.PostJSON(t, "/api/follow-requests", map[string]string{"to": bob}, aliceTok), http.StatusConflict, nil)

	// Bob follows back; the suggestion is gone for the second acceptance.
	Expect(t, ts.PostJSON(t, "/api/follow-requests", map[string]string{"to": alice}, bobTok), http.StatusCreated, nil)
	Expect(t, ts.PostJSON(t, "/api/follow-requests/"+bob+"/accept", nil, aliceTok), http.StatusOK, &acc)
	assert.False(t, acc.FollowBackSuggested)

	var list struct {
		Following []string `json:"following"`
		Followers []string `json:"followers"`
	}
	Expect(t, ts.Get(t, "/api/participants/"+alice+"/following", aliceTok), http.StatusOK, &list)
	assert.Equal(t, []string{bob}, list.Following)
	Expect(t, ts.Get(t, "/api/participants/"+alice+"/followers", aliceTok), http.StatusOK, &list)
	assert.Equal(t, []string{bob}, list.Followers)

	// Alice unfollows bob and removes bob from her followers.
	Expect(t, ts.Delete(t, "/api/following/"+bob, aliceTok), http.StatusNoContent, nil)
	Expect(t, ts.Delete(t, "/api/following/"+bob, aliceTok), http.StatusNotFound, nil)
	Expect(t, ts.Delete(t, "/api/followers/"+bob, aliceTok), http.StatusNoContent, nil)
	assert.Equal(t, counts{}, ts.counts(t, aliceTok, alice))
	assert.Equal(t, counts{}, ts.counts(t, aliceTok, bob))
}

func TestDeclinedRequestCanBeResent(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	alice, bob := UniqueID("alice"), UniqueID("bob")
	aliceTok, bobTok := ts.Register(t, alice), ts.Register(t, bob)

	Expect(t, ts.PostJSON(t, "/api/follow-requests", map[string]string{"to": bob}, aliceTok), http.StatusCreated, nil)
	Expect(t, ts.PostJSON(t, "/api/follow-requests/"+alice+"/decline", nil, bobTok), http.StatusOK, nil)
	Expect(t, ts.PostJSON(t, "/api/follow-requests/"+alice+"/decline", nil, bobTok), http.StatusNotFound, nil)

	var rel relationship
	Expect(t, ts.Get(t, "/api/relationships/"+bob, aliceTok), http.StatusOK, &rel)
	assert.Equal(t, relationship{}, rel)

	Expect(t, ts.PostJSON(t, "/api/follow-requests", map[string]string{"to": bob}, aliceTok), http.StatusCreated, nil)
	Expect(t, ts.PostJSON(t, "/api/follow-requests/"+alice+"/accept", nil, bobTok), http.StatusOK, nil)
	assert.Equal(t, counts{Followers: 1}, ts.counts(t, aliceTok, bob))
}

// Many followers arrive and leave at once; the counters must match the
// edges afterwards without any repair.
func TestConcurrentFollowersKeepCountersExact(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	star := UniqueID("star")
	starTok := ts.Register(t, star)

	const fans = 12
	names := make([]string, fans)
	tokens := make([]string, fans)
	for i := range fans {
		names[i] = UniqueID("fan")
		tokens[i] = ts.Register(t, names[i])
	}

	var wg sync.WaitGroup
	for i := range fans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := ts.PostJSON(t, "/api/follow-requests", map[string]string{"to": star}, tokens[i])
			resp.Body.Close()
		}()
	}
	wg.Wait()

	for i := range fans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := ts.PostJSON(t, "/api/follow-requests/"+names[i]+"/accept", nil, starTok)
			resp.Body.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, counts{Followers: fans}, ts.counts(t, starTok, star))

	// Half unfollow while the star removes the other half.
	for i := range fans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var resp *http.Response
			if i%2 == 0 {
				resp = ts.Delete(t, "/api/following/"+star, tokens[i])
			} else {
				resp = ts.Delete(t, "/api/followers/"+names[i], starTok)
			}
			resp.Body.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, counts{}, ts.counts(t, starTok, star))

	var out struct {
		Repaired bool `json:"repaired"`
	}
	Expect(t, ts.Admin(t, http.MethodPost, "/api/admin/recount/"+star), http.StatusOK, &out)
	assert.False(t, out.Repaired, "no drift to repair")
}
