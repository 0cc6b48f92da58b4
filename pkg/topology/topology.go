// Package topology implements the talker network's i-am/i-see gossip
// protocol: each node advertises its direct neighbours, every node
// collates what it has heard into a map of the whole network, and
// nodes that are no longer reachable by flood from here are pruned.
//
// Grounded directly on the original source's talker.mixin.topo
// TopologyObserver.
package topology

import (
	"sort"
	"strings"
	"sync"

	logger "github.com/sirupsen/logrus"

	"github.com/jan-g/talker/pkg/observer"
	"github.com/jan-g/talker/pkg/wire"
)

var log = logger.WithFields(logger.Fields{"process": "topology"})

const (
	methodIAm  = "i-am"
	methodISee = "i-see"

	// Name is this observer's registration name on the Mesh, and the
	// TARGET field of every topology frame on the wire.
	Name = "Topology"
)

type entry struct {
	version    int64
	neighbours map[string]struct{}
}

// Observer maintains a BFS-reachable map of the network as seen from one
// node, and each directly-connected peer's advertised identity.
type Observer struct {
	observer.Base

	mu sync.Mutex

	// peerIDs maps a directly connected Link to the peer id it announced
	// via i-am.
	peerIDs map[observer.Link]string

	// topology maps a peer id to the most recent (version, neighbour set)
	// we've heard about it, pruned to only what's currently reachable.
	topology map[string]entry
}

// New creates a topology Observer for a Mesh identified by selfID.
func New(mesh observer.Broadcaster) *Observer {
	o := &Observer{
		peerIDs:  make(map[observer.Link]string),
		topology: make(map[string]entry),
	}
	o.Base = observer.NewBase(Name, mesh)
	o.Register(methodIAm, o.recvIAm)
	o.Register(methodISee, o.recvISee)
	o.topology[mesh.SelfID()] = entry{version: 0, neighbours: map[string]struct{}{}}
	return o
}

// Notify implements observer.Observer by dispatching to the registered
// i-am/i-see handlers.
func (o *Observer) Notify(peer observer.Link, source string, id int64, payload string) {
	o.Base.Dispatch(peer, source, id, payload, wire.SplitMethod, o.warn)
}

func (o *Observer) warn(msg string) { log.Warn(msg) }

// PeerAdded announces ourselves to a newly connected peer, per the
// original's peer_added hook.
func (o *Observer) PeerAdded(peer observer.Link) {
	log.WithField("peer", peer.String()).Debug("new peer detected")
	o.Unicast(peer, methodIAm, "")
}

// PeerRemoved forgets the departed peer's identity and re-announces our
// remaining neighbours, per the original's peer_removed hook.
func (o *Observer) PeerRemoved(peer observer.Link) {
	log.WithField("peer", peer.String()).Debug("peer removed")
	o.mu.Lock()
	delete(o.peerIDs, peer)
	o.mu.Unlock()
	o.broadcastNewNeighbours()
}

// Tick is a no-op: topology has no periodic work of its own.
func (o *Observer) Tick(now int64) {}

func (o *Observer) broadcastNewNeighbours() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.peerIDs))
	for _, id := range o.peerIDs {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	sort.Strings(ids)
	o.Broadcast(methodISee, strings.Join(ids, ";"))
}

func (o *Observer) recvIAm(peer observer.Link, source string, id int64, args string) {
	o.mu.Lock()
	o.peerIDs[peer] = source
	o.mu.Unlock()
	o.broadcastNewNeighbours()
}

func (o *Observer) recvISee(peer observer.Link, source string, id int64, args string) {
	var neighbours map[string]struct{}
	if args == "" {
		neighbours = map[string]struct{}{}
	} else {
		neighbours = make(map[string]struct{})
		for _, n := range strings.Split(args, ";") {
			neighbours[n] = struct{}{}
		}
	}

	o.mu.Lock()
	existing, known := o.topology[source]
	newNode := !known
	changed := false
	if newNode {
		o.topology[source] = entry{version: id, neighbours: neighbours}
		changed = true
	} else if existing.version < id {
		changed = !sameSet(existing.neighbours, neighbours)
		o.topology[source] = entry{version: id, neighbours: neighbours}
	}
	o.mu.Unlock()

	if newNode {
		o.recalculateReachablePeers()
		// A new node just joined the network as far as we're concerned;
		// let it (and everyone else) know about us too.
		o.broadcastNewNeighbours()
	} else if changed {
		o.recalculateReachablePeers()
	}
}

// recalculateReachablePeers runs a BFS outward from selfID over the
// currently known topology, then deletes any node that turned out to be
// unreachable, per the original's calculate_reachable_peers.
func (o *Observer) recalculateReachablePeers() {
	o.mu.Lock()
	defer o.mu.Unlock()

	reachable := map[string]struct{}{o.SelfID(): {}}
	frontier := map[string]struct{}{o.SelfID(): {}}

	for len(frontier) != 0 {
		next := map[string]struct{}{}
		for node := range frontier {
			if e, ok := o.topology[node]; ok {
				for n := range e.neighbours {
					if _, already := reachable[n]; !already {
						next[n] = struct{}{}
					}
				}
			}
		}
		for n := range next {
			reachable[n] = struct{}{}
		}
		frontier = next
	}

	for node := range o.topology {
		if _, ok := reachable[node]; !ok {
			delete(o.topology, node)
		}
	}
}

// Reachable returns the set of peer ids currently believed reachable from
// this node, including this node itself.
func (o *Observer) Reachable() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.topology))
	for node := range o.topology {
		out = append(out, node)
	}
	sort.Strings(out)
	return out
}

// DirectPeers returns the peer ids of currently connected links, keyed by
// their Link.String().
func (o *Observer) DirectPeers() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]string, len(o.peerIDs))
	for link, id := range o.peerIDs {
		out[link.String()] = id
	}
	return out
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

