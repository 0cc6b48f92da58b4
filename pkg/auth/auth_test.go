package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jan-g/talker/pkg/observer"
	"github.com/jan-g/talker/pkg/scatter"
)

type fakeReachable struct{ ids []string }

func (r fakeReachable) Reachable() []string { return r.ids }

type broadcastCall struct{ observerName, payload string }

type fakeMesh struct {
	selfID     string
	broadcasts []broadcastCall
}

func (m *fakeMesh) SelfID() string { return m.selfID }
func (m *fakeMesh) Broadcast(observerName, payload string) {
	m.broadcasts = append(m.broadcasts, broadcastCall{observerName, payload})
}
func (m *fakeMesh) Unicast(observer.Link, string, string) {}

func fixedClock(ts float64) func() float64 {
	return func() float64 { return ts }
}

func TestNewUserBroadcastsAndRecordsLocally(t *testing.T) {
	m := &fakeMesh{selfID: "self"}
	gather := scatter.New(m, fakeReachable{}, time.Second)
	o := New(m, gather, fixedClock(1000))

	o.NewUser("jan", "secret")

	require.Len(t, m.broadcasts, 1)
	assert.Equal(t, Name, m.broadcasts[0].observerName)
	assert.Equal(t, "new_user|1000;jan;secret", m.broadcasts[0].payload)

	var result CheckResult
	o.CheckUser("jan", func(r CheckResult) { result = r })
	// No other node has responded yet (this is a fresh gather), but our
	// own local account map already has the record.
	o.mu.Lock()
	a, ok := o.accounts["jan"]
	o.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, "secret", a.password)
	_ = result
}

func TestNotifyRoutesCheckUserRequestAndNewUserBroadcastDifferently(t *testing.T) {
	m := &fakeMesh{selfID: "node-b"}
	gather := scatter.New(m, fakeReachable{}, time.Second)
	o := New(m, gather, fixedClock(2000))
	o.accounts["jan"] = account{timestamp: 500, password: "secret"}

	o.Notify(nil, "origin", 1, "9|jan")

	require.Len(t, m.broadcasts, 1)
	assert.Equal(t, scatter.Name, m.broadcasts[0].observerName)
	assert.Equal(t, "origin|9|500;jan;secret", m.broadcasts[0].payload)

	o.Notify(nil, "origin", 2, "new_user|2000;mary;mypw")
	a, ok := o.accounts["mary"]
	require.True(t, ok)
	assert.Equal(t, "mypw", a.password)
}

func TestNotifyRespondsEmptyForUnknownUser(t *testing.T) {
	m := &fakeMesh{selfID: "node-b"}
	gather := scatter.New(m, fakeReachable{}, time.Second)
	o := New(m, gather, fixedClock(0))

	o.Notify(nil, "origin", 1, "3|nosuchuser")

	require.Len(t, m.broadcasts, 1)
	assert.Equal(t, "origin|3|", m.broadcasts[0].payload)
}

func TestCheckUserPicksNewestMatchingAnswer(t *testing.T) {
	m := &fakeMesh{selfID: "self"}
	gather := scatter.New(m, fakeReachable{ids: []string{"self", "node-b"}}, time.Second)
	o := New(m, gather, fixedClock(9999))

	var got CheckResult
	o.CheckUser("jan", func(r CheckResult) { got = r })

	gather.Notify(nil, "self", 1, "self|1|100;jan;oldpw")
	gather.Notify(nil, "node-b", 2, "self|1|200;jan;newpw")

	assert.True(t, got.Known)
	assert.Equal(t, "newpw", got.Password)
}

func TestCheckUserUnknownWhenAllAnswersEmpty(t *testing.T) {
	m := &fakeMesh{selfID: "self"}
	gather := scatter.New(m, fakeReachable{ids: []string{"self"}}, time.Second)
	o := New(m, gather, fixedClock(0))

	var got CheckResult
	o.CheckUser("ghost", func(r CheckResult) { got = r })
	gather.Notify(nil, "self", 1, "self|1|")

	assert.False(t, got.Known)
}
