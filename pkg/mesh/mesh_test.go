package mesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jan-g/talker/pkg/observer"
)

// fakeLink is an in-memory stand-in for a peerlink.Link, recording every
// line sent to it so tests can assert on flood/forward behaviour without a
// real socket.
type fakeLink struct {
	name string
	sent []string
}

func newFakeLink(name string) *fakeLink { return &fakeLink{name: name} }

func (f *fakeLink) SendLine(line string) { f.sent = append(f.sent, line) }
func (f *fakeLink) String() string       { return f.name }

// recordingObserver captures every Notify call it receives.
type recordingObserver struct {
	name   string
	events []event
}

type event struct {
	peer    observer.Link
	source  string
	id      int64
	payload string
}

func newRecordingObserver(name string) *recordingObserver {
	return &recordingObserver{name: name}
}

func (o *recordingObserver) Name() string { return o.name }
func (o *recordingObserver) Notify(peer observer.Link, source string, id int64, payload string) {
	o.events = append(o.events, event{peer, source, id, payload})
}
func (o *recordingObserver) PeerAdded(observer.Link)   {}
func (o *recordingObserver) PeerRemoved(observer.Link) {}
func (o *recordingObserver) Tick(int64)                {}

func TestBroadcastFansOutAndNotifiesLocally(t *testing.T) {
	m := New("self", 1024, time.Hour)
	obs := newRecordingObserver("Speech")
	m.RegisterObserver(obs)

	p1 := newFakeLink("p1")
	p2 := newFakeLink("p2")
	m.RegisterPeer(p1)
	m.RegisterPeer(p2)

	m.Broadcast("Speech", "SAY|jan|hello")

	require.Len(t, obs.events, 1)
	assert.Equal(t, "self", obs.events[0].source)
	assert.Equal(t, "SAY|jan|hello", obs.events[0].payload)
	assert.Nil(t, obs.events[0].peer, "local fast-path notification carries a nil peer")

	require.Len(t, p1.sent, 1)
	require.Len(t, p2.sent, 1)
	assert.Equal(t, p1.sent[0], p2.sent[0])
	assert.Equal(t, "self|1|Speech|SAY|jan|hello", p1.sent[0])
}

func TestUnicastDoesNotNotifyLocally(t *testing.T) {
	m := New("self", 1024, time.Hour)
	obs := newRecordingObserver("Topology")
	m.RegisterObserver(obs)

	p1 := newFakeLink("p1")
	p2 := newFakeLink("p2")
	m.RegisterPeer(p1)
	m.RegisterPeer(p2)

	m.Unicast(p1, "Topology", "i-am|")

	assert.Empty(t, obs.events)
	assert.Len(t, p1.sent, 1)
	assert.Empty(t, p2.sent)
	assert.Equal(t, "!self|1|Topology|i-am|", p1.sent[0])
}

func TestReceiveDropsOwnFrame(t *testing.T) {
	m := New("self", 1024, time.Hour)
	obs := newRecordingObserver("Speech")
	m.RegisterObserver(obs)
	peer := newFakeLink("peer")

	m.Receive(peer, "self|1|Speech|SAY|jan|hi")

	assert.Empty(t, obs.events, "a frame whose source is our own id must never reach an observer via Receive")
}

func TestReceiveDeduplicatesWithinWindow(t *testing.T) {
	m := New("self", 1024, time.Hour)
	obs := newRecordingObserver("Speech")
	m.RegisterObserver(obs)
	peer := newFakeLink("peer")

	line := "other|5|Speech|SAY|jan|hi"
	m.Receive(peer, line)
	m.Receive(peer, line)
	m.Receive(peer, line)

	assert.Len(t, obs.events, 1, "the same (source, message_id) must be delivered at most once per window")
}

func TestReceiveForwardsBroadcastVerbatimExceptToOrigin(t *testing.T) {
	m := New("self", 1024, time.Hour)
	m.RegisterObserver(newRecordingObserver("Speech"))

	origin := newFakeLink("origin")
	other1 := newFakeLink("other1")
	other2 := newFakeLink("other2")
	m.RegisterPeer(origin)
	m.RegisterPeer(other1)
	m.RegisterPeer(other2)

	line := "far-away|9|Speech|SAY|jan|hi"
	m.Receive(origin, line)

	assert.Empty(t, origin.sent, "must not re-forward back to the link it arrived on")
	require.Len(t, other1.sent, 1)
	require.Len(t, other2.sent, 1)
	assert.Equal(t, line, other1.sent[0], "forwarding must use the exact received line, unparsed")
	assert.Equal(t, line, other2.sent[0])
}

func TestReceiveDoesNotForwardDirectFrames(t *testing.T) {
	m := New("self", 1024, time.Hour)
	m.RegisterObserver(newRecordingObserver("Topology"))

	origin := newFakeLink("origin")
	other := newFakeLink("other")
	m.RegisterPeer(origin)
	m.RegisterPeer(other)

	m.Receive(origin, "!far-away|9|Topology|i-am|")

	assert.Empty(t, other.sent, "non-broadcast frames must not be re-forwarded")
}

func TestReceiveDropsUnknownTarget(t *testing.T) {
	m := New("self", 1024, time.Hour)
	peer := newFakeLink("peer")

	// Should not panic even though no observer is registered for "Nope".
	m.Receive(peer, "other|1|Nope|payload")
}

func TestReceiveDropsMalformedLine(t *testing.T) {
	m := New("self", 1024, time.Hour)
	obs := newRecordingObserver("Speech")
	m.RegisterObserver(obs)
	peer := newFakeLink("peer")

	m.Receive(peer, "not a valid frame")

	assert.Empty(t, obs.events)
}

func TestUnregisterPeerStopsFutureBroadcasts(t *testing.T) {
	m := New("self", 1024, time.Hour)
	p1 := newFakeLink("p1")
	m.RegisterPeer(p1)
	m.UnregisterPeer(p1)

	m.Broadcast("", "x")
	assert.Empty(t, p1.sent)
}
