package scatter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jan-g/talker/pkg/observer"
)

type fakeReachable struct{ ids []string }

func (r fakeReachable) Reachable() []string { return r.ids }

type broadcastCall struct {
	observerName string
	payload      string
}

type fakeMesh struct {
	selfID     string
	broadcasts []broadcastCall
}

func (m *fakeMesh) SelfID() string { return m.selfID }
func (m *fakeMesh) Broadcast(observerName, payload string) {
	m.broadcasts = append(m.broadcasts, broadcastCall{observerName, payload})
}
func (m *fakeMesh) Unicast(observer.Link, string, string) {}

func TestRequestBroadcastsUnderTargetObserverName(t *testing.T) {
	m := &fakeMesh{selfID: "self"}
	o := New(m, fakeReachable{ids: []string{"self"}}, time.Second)

	id := o.Request("Who", "", func(map[string]string, bool) {})

	require.Len(t, m.broadcasts, 1)
	assert.Equal(t, "Who", m.broadcasts[0].observerName)
	assert.Equal(t, "1|", m.broadcasts[0].payload)
	assert.Equal(t, int64(1), id)
}

func TestResponseCompletesWhenAllReachablePeersAnswer(t *testing.T) {
	m := &fakeMesh{selfID: "self"}
	o := New(m, fakeReachable{ids: []string{"self", "node-b"}}, time.Second)

	var got map[string]string
	var complete bool
	id := o.Request("Who", "", func(responses map[string]string, c bool) {
		got = responses
		complete = c
	})

	o.Notify(nil, "self", 1, encodeResponse("self", id, "alice;bob"))
	assert.Nil(t, got, "must not fire until every reachable peer has answered")

	o.Notify(nil, "node-b", 2, encodeResponse("self", id, "carol"))
	require.NotNil(t, got)
	assert.True(t, complete)
	assert.Equal(t, map[string]string{"self": "alice;bob", "node-b": "carol"}, got)
}

func TestResponseForOtherDestinationIsIgnored(t *testing.T) {
	m := &fakeMesh{selfID: "self"}
	o := New(m, fakeReachable{ids: []string{"self"}}, time.Second)

	var called bool
	id := o.Request("Who", "", func(map[string]string, bool) { called = true })

	o.Notify(nil, "other", 1, encodeResponse("other-node", id, "xyz"))
	assert.False(t, called, "a response addressed to a different node must be dropped")
}

func TestDuplicateResponseFromSameSourceIsDropped(t *testing.T) {
	m := &fakeMesh{selfID: "self"}
	o := New(m, fakeReachable{ids: []string{"self", "node-b"}}, time.Second)

	var callCount int
	id := o.Request("Who", "", func(map[string]string, bool) { callCount++ })

	o.Notify(nil, "node-b", 1, encodeResponse("self", id, "first"))
	o.Notify(nil, "node-b", 2, encodeResponse("self", id, "second"))
	o.Notify(nil, "self", 3, encodeResponse("self", id, "mine"))

	assert.Equal(t, 1, callCount, "only the first response per source should count, and completion fires once")
}

func TestTickTimesOutIncompleteRequest(t *testing.T) {
	m := &fakeMesh{selfID: "self"}
	o := New(m, fakeReachable{ids: []string{"self", "node-b"}}, 10*time.Second)

	var got map[string]string
	var complete bool
	id := o.Request("Who", "", func(responses map[string]string, c bool) {
		got = responses
		complete = c
	})
	_ = id

	start := time.Now().Unix()
	o.Tick(start)
	o.Tick(start + 11) // first rotation: moves generation 0 -> 1
	o.Tick(start + 23) // second rotation: generation 1 (containing our request) expires

	require.NotNil(t, got)
	assert.False(t, complete)
}

func TestParseRequestRoundTrip(t *testing.T) {
	payload := encodeRequest(7, "some message")
	id, message, err := ParseRequest(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, "some message", message)
}

func TestRespondBroadcastsUnderScatterGatherName(t *testing.T) {
	m := &fakeMesh{selfID: "node-b"}
	base := observer.NewBase("Who", m)

	Respond(&base, "origin-node", 42, "result-payload")

	require.Len(t, m.broadcasts, 1)
	assert.Equal(t, Name, m.broadcasts[0].observerName)
	assert.Equal(t, "origin-node|42|result-payload", m.broadcasts[0].payload)
}
