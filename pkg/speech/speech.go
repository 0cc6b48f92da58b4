// Package speech implements chat-line broadcast: SAY frames carrying a
// speaker name and a line of text, delivered to every local session.
//
// Grounded directly on the original source's talker.mixin.speech
// SpeechObserver.
package speech

import (
	"strings"

	"github.com/jan-g/talker/pkg/observer"
	"github.com/jan-g/talker/pkg/wire"
)

// Name is this observer's registration name on the Mesh.
const Name = "Speech"

const methodSay = "SAY"

// Sink receives lines once a SAY frame has been delivered locally.
type Sink interface {
	// TellSpeakers delivers line to every locally connected, logged-in
	// session.
	TellSpeakers(line string)
}

// Observer floods and receives chat lines.
type Observer struct {
	observer.Base
	sink Sink
}

// New creates a speech Observer that delivers received lines to sink.
func New(mesh observer.Broadcaster, sink Sink) *Observer {
	o := &Observer{sink: sink}
	o.Base = observer.NewBase(Name, mesh)
	o.Register(methodSay, o.recvSay)
	return o
}

// Notify implements observer.Observer.
func (o *Observer) Notify(peer observer.Link, source string, id int64, payload string) {
	o.Base.Dispatch(peer, source, id, payload, wire.SplitMethod, nil)
}

// Say broadcasts one chat line from who to the whole reachable network.
func (o *Observer) Say(who, what string) {
	o.Broadcast(methodSay, who+"|"+what)
}

func (o *Observer) recvSay(peer observer.Link, source string, id int64, args string) {
	name, line, found := strings.Cut(args, "|")
	if !found {
		return
	}
	o.sink.TellSpeakers(name + ": " + line)
}

// PeerAdded, PeerRemoved, Tick: speech has no peer-lifecycle or periodic
// work of its own.
func (o *Observer) PeerAdded(observer.Link)   {}
func (o *Observer) PeerRemoved(observer.Link) {}
func (o *Observer) Tick(int64)                {}
