// Package mesh implements the distributed event plane described in the
// talker spec: flood routing between PeerLinks with deduplication and
// loop prevention, and demultiplexing of inbound frames to registered
// observers.
package mesh

import (
	"strconv"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/jan-g/talker/pkg/observer"
	"github.com/jan-g/talker/pkg/seen"
	"github.com/jan-g/talker/pkg/wire"
)

var log = logger.WithFields(logger.Fields{"process": "mesh"})

// Mesh owns a server's peer set, its seen-frame cache, and the registry of
// observers that inbound frames are demultiplexed to. It implements
// observer.Broadcaster.
type Mesh struct {
	selfID string

	mu        sync.Mutex
	peers     map[observer.Link]struct{}
	observers map[string]observer.Observer
	messageID int64

	seen *seen.Cache
}

// New creates a Mesh for selfID, whose seen-frame cache generations rotate
// every cacheExpiry and hold up to seenCapacity entries each.
func New(selfID string, seenCapacity uint, cacheExpiry time.Duration) *Mesh {
	return &Mesh{
		selfID:    selfID,
		peers:     make(map[observer.Link]struct{}),
		observers: make(map[string]observer.Observer),
		seen:      seen.New(seenCapacity, cacheExpiry),
	}
}

// SelfID implements observer.Broadcaster.
func (m *Mesh) SelfID() string { return m.selfID }

// RegisterObserver enrolls o under its own Name(). Enrolling multiple
// observers into one Mesh is this system's way of composing features,
// rather than the original source's mix-in inheritance (see spec §9).
func (m *Mesh) RegisterObserver(o observer.Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers[o.Name()] = o
}

// Observer looks up a registered observer by name.
func (m *Mesh) Observer(name string) observer.Observer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.observers[name]
}

// RegisterPeer enrolls link into the peer set and notifies every observer.
func (m *Mesh) RegisterPeer(link observer.Link) {
	m.mu.Lock()
	m.peers[link] = struct{}{}
	obs := m.observerList()
	m.mu.Unlock()

	log.WithField("peer", link.String()).Info("peer registered")
	for _, o := range obs {
		o.PeerAdded(link)
	}
}

// UnregisterPeer removes link from the peer set and notifies every observer.
func (m *Mesh) UnregisterPeer(link observer.Link) {
	m.mu.Lock()
	delete(m.peers, link)
	obs := m.observerList()
	m.mu.Unlock()

	log.WithField("peer", link.String()).Info("peer unregistered")
	for _, o := range obs {
		o.PeerRemoved(link)
	}
}

// Peers returns a snapshot of the currently connected peer links.
func (m *Mesh) Peers() []observer.Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]observer.Link, 0, len(m.peers))
	for p := range m.peers {
		out = append(out, p)
	}
	return out
}

func (m *Mesh) observerList() []observer.Observer {
	out := make([]observer.Observer, 0, len(m.observers))
	for _, o := range m.observers {
		out = append(out, o)
	}
	return out
}

// Broadcast originates a flooded frame targeting observerName, writes it to
// every connected peer, and locally invokes the observer as if the frame
// had arrived from a null peer (per spec §4.1's broadcast origination
// rule).
func (m *Mesh) Broadcast(observerName, payload string) {
	m.mu.Lock()
	m.messageID++
	id := m.messageID
	peers := make([]observer.Link, 0, len(m.peers))
	for p := range m.peers {
		peers = append(peers, p)
	}
	target := m.observers[observerName]
	m.mu.Unlock()

	f := wire.Frame{
		Source:    m.selfID,
		MessageID: id,
		Broadcast: true,
		Target:    observerName,
		Payload:   payload,
	}
	line := f.Encode()
	for _, p := range peers {
		p.SendLine(line)
	}

	if target != nil {
		target.Notify(nil, m.selfID, id, payload)
	} else if observerName != "" {
		log.WithField("target", observerName).Warn("broadcast to unknown observer")
	}
}

// Unicast sends a non-broadcast frame to a single peer link. It is not
// delivered to the local observer.
func (m *Mesh) Unicast(link observer.Link, observerName, payload string) {
	m.mu.Lock()
	m.messageID++
	id := m.messageID
	m.mu.Unlock()

	f := wire.Frame{
		Source:    m.selfID,
		MessageID: id,
		Broadcast: false,
		Target:    observerName,
		Payload:   payload,
	}
	link.SendLine(f.Encode())
}

// Receive implements the algorithm of spec §4.1 for one inbound raw line
// arriving on peer.
func (m *Mesh) Receive(peer observer.Link, rawLine string) {
	defer m.seen.Rotate(time.Now())

	f, err := wire.Decode(rawLine)
	if err != nil {
		log.WithField("peer", peer.String()).WithError(err).Warn("dropping malformed peer frame")
		return
	}

	if f.Source == m.selfID {
		// Our own broadcast, returned to us around a cycle.
		return
	}

	key := seenKey(f.Source, f.MessageID)
	if m.seen.Add(key) {
		log.WithField("source", f.Source).WithField("id", f.MessageID).Debug("dropping duplicate frame")
		return
	}

	if f.Broadcast {
		m.mu.Lock()
		for p := range m.peers {
			if p != peer {
				p.SendLine(rawLine)
			}
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	o := m.observers[f.Target]
	m.mu.Unlock()

	if o == nil {
		log.WithField("target", f.Target).Warn("dropping frame for unknown observer")
		return
	}

	o.Notify(peer, f.Source, f.MessageID, f.Payload)
}

// Tick rotates the seen cache (if due) and gives every observer a chance
// to run its own periodic work.
func (m *Mesh) Tick(now time.Time) {
	m.seen.Rotate(now)

	for _, o := range m.observerList() {
		o.Tick(now.Unix())
	}
}

func seenKey(source string, id int64) string {
	// A plain delimited string is sufficient here: the delimiter cannot
	// appear in source (wire.Decode rejects '|' by construction of the
	// split), so (source, id) pairs cannot collide across the boundary.
	return source + "#" + strconv.FormatInt(id, 10)
}
