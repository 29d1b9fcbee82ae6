package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradezone/geo"
)

func TestHubConnect(t *testing.T) {
	env := newTestEnv(t)

	located := env.connect("p1", ptr(inGangnam))
	assert.Equal(t, geo.DistrictGangnam, located.District())
	assert.Equal(t, []geo.District{geo.DistrictGangnam}, env.hub.MembershipOf(located.ConnID))

	fresh := env.connect("p2", nil)
	assert.Equal(t, geo.DistrictNone, fresh.District())
	assert.Empty(t, env.hub.MembershipOf(fresh.ConnID))
	_, ok := fresh.Location()
	assert.False(t, ok)

	assert.NotEqual(t, located.ConnID, fresh.ConnID)
	assert.Equal(t, 2, env.hub.Count())
}

func TestHubTransitionKeepsSingleMembership(t *testing.T) {
	env := newTestEnv(t)
	sess := env.connect("p1", nil)

	from, changed := env.hub.Transition(sess, geo.DistrictMapo)
	assert.True(t, changed)
	assert.Equal(t, geo.DistrictNone, from)

	from, changed = env.hub.Transition(sess, geo.DistrictJung)
	assert.True(t, changed)
	assert.Equal(t, geo.DistrictMapo, from)
	assert.Equal(t, []geo.District{geo.DistrictJung}, env.hub.MembershipOf(sess.ConnID))

	_, changed = env.hub.Transition(sess, geo.DistrictJung)
	assert.False(t, changed)

	// 空集合保留
	counts := env.hub.DistrictCounts()
	assert.Equal(t, 0, counts[geo.DistrictMapo])
	assert.Equal(t, 1, counts[geo.DistrictJung])
}

func TestHubDisconnect(t *testing.T) {
	env := newTestEnv(t)
	sess := env.connect("p1", ptr(inMapo))

	dep, ok := env.hub.Disconnect(sess.ConnID)
	require.True(t, ok)
	assert.Same(t, sess, dep.Session)
	assert.Equal(t, geo.DistrictMapo, dep.From)
	assert.False(t, dep.StillPresent)
	assert.Empty(t, env.hub.MembershipOf(sess.ConnID))
	assert.Empty(t, env.hub.Members(geo.DistrictMapo))
	_, found := env.hub.FindByPlayerID("p1")
	assert.False(t, found)

	_, ok = env.hub.Disconnect(sess.ConnID)
	assert.False(t, ok)

	// 已断开的会话不能再加入街区
	_, changed := env.hub.Transition(sess, geo.DistrictJung)
	assert.False(t, changed)
	assert.Empty(t, env.hub.Members(geo.DistrictJung))
}

func TestHubReconnectKeepsNewestIndex(t *testing.T) {
	env := newTestEnv(t)
	old := env.connect("p1", nil)
	newer, superseded := env.hub.Connect(Identity{PlayerID: "p1"}, NewClientConn(nil, 8))
	assert.Same(t, old, superseded)

	id, ok := env.hub.FindByPlayerID("p1")
	require.True(t, ok)
	assert.Equal(t, newer.ConnID, id)

	env.hub.Disconnect(old.ConnID)
	id, ok = env.hub.FindByPlayerID("p1")
	require.True(t, ok)
	assert.Equal(t, newer.ConnID, id)
}

func TestHubDisconnectOfSupersededSession(t *testing.T) {
	t.Run("newer connection in the same district", func(t *testing.T) {
		env := newTestEnv(t)
		old := env.connect("p1", ptr(inJung))
		env.connect("p1", ptr(inJung))

		dep, ok := env.hub.Disconnect(old.ConnID)
		require.True(t, ok)
		assert.Equal(t, geo.DistrictJung, dep.From)
		assert.True(t, dep.StillPresent)
		assert.Len(t, env.hub.Members(geo.DistrictJung), 1)
	})

	t.Run("newer connection elsewhere", func(t *testing.T) {
		env := newTestEnv(t)
		old := env.connect("p1", ptr(inJung))
		env.connect("p1", ptr(inMapo))

		dep, ok := env.hub.Disconnect(old.ConnID)
		require.True(t, ok)
		assert.Equal(t, geo.DistrictJung, dep.From)
		assert.False(t, dep.StillPresent)
	})
}

func TestHubNearbyPlayers(t *testing.T) {
	env := newTestEnv(t)
	me := env.connect("me", ptr(inJung))
	near := env.connect("near", ptr(geo.Coordinate{Lat: 37.5670, Lng: 126.9785}))
	env.connect("far", ptr(inGangnam))
	env.connect("unknown", nil)

	got := env.hub.NearbyPlayers(inJung, 1000, me.ConnID)
	require.Len(t, got, 1)
	assert.Equal(t, near.PlayerID, got[0].EntityID)
	assert.Less(t, got[0].DistanceMeters, 100.0)
}

func TestHubNearbyPlayersCountsReconnectOnce(t *testing.T) {
	env := newTestEnv(t)
	me := env.connect("me", ptr(inJung))
	env.connect("twice", ptr(inJung))
	newer := env.connect("twice", ptr(geo.Coordinate{Lat: 37.5670, Lng: 126.9785}))

	got := env.hub.NearbyPlayers(inJung, 1000, me.ConnID)
	require.Len(t, got, 1)
	assert.Equal(t, "twice", got[0].EntityID)
	loc, _ := newer.Location()
	assert.Equal(t, loc, got[0].Coordinate)
}

func TestHubConcurrentTransitionsAndBroadcasts(t *testing.T) {
	env := newTestEnv(t)
	districts := []geo.District{geo.DistrictJung, geo.DistrictMapo, geo.DistrictGangnam}

	var sessions []*Session
	for i := 0; i < 20; i++ {
		sessions = append(sessions, env.connect(fmt.Sprintf("p%d", i), nil))
	}

	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				env.hub.Transition(s, districts[(i+j)%len(districts)])
			}
		}(i, s)
	}
	for k := 0; k < 4; k++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				for _, d := range districts {
					// 快照中每个连接至多出现一次
					seen := map[ConnID]bool{}
					for _, m := range env.hub.Members(d) {
						assert.False(t, seen[m.ConnID])
						seen[m.ConnID] = true
					}
				}
			}
		}()
	}
	wg.Wait()

	total := 0
	for _, s := range sessions {
		membership := env.hub.MembershipOf(s.ConnID)
		require.Len(t, membership, 1)
		assert.Equal(t, s.District(), membership[0])
		total++
	}
	counts := env.hub.DistrictCounts()
	assert.Equal(t, total, counts[geo.DistrictJung]+counts[geo.DistrictMapo]+counts[geo.DistrictGangnam])
}
