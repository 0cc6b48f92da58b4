// Package scatter implements the broadcast-request/collect-responses
// pattern used by /who and account lookups: originate a request flooded
// to every reachable node under some destination observer's name, then
// wait for one response from each currently reachable peer (or a
// timeout) before running a callback.
//
// Grounded directly on the original source's talker.distributed
// ScatterGatherObserver.
package scatter

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/jan-g/talker/pkg/observer"
)

var log = logger.WithFields(logger.Fields{"process": "scatter"})

// Name is this observer's registration name on the Mesh.
const Name = "ScatterGather"

// Reachable reports the set of peer ids a scatter-gather request is
// expected to hear back from. Implemented by *topology.Observer.
type Reachable interface {
	Reachable() []string
}

// Callback is run once a request's responses are complete (one per
// currently reachable peer) or its collection window has timed out.
// complete is false on a timeout, in which case responses may be a
// strict subset of the reachable set.
type Callback func(responses map[string]string, complete bool)

type pending struct {
	responses map[string]string
	callback  Callback
}

// Observer is the request-issuing side of the scatter-gather protocol.
// It is itself registered on the Mesh under Name, and collects the
// responses that arrive addressed back to it.
type Observer struct {
	observer.Base

	mu           sync.Mutex
	requestID    int64
	outstanding  [2]map[int64]*pending
	lastRotation int64
	expiry       int64 // seconds

	reachable Reachable
}

// New creates a scatter-gather Observer. expiry bounds how long an
// outstanding request waits for responses before timing out; reachable
// supplies the set of peers a request must hear back from to be
// considered complete.
func New(mesh observer.Broadcaster, reachable Reachable, expiry time.Duration) *Observer {
	o := &Observer{
		outstanding: [2]map[int64]*pending{{}, {}},
		expiry:      int64(expiry.Seconds()),
		reachable:   reachable,
	}
	o.Base = observer.NewBase(Name, mesh)
	return o
}

// Request originates a new scatter-gather exchange: message is flooded
// to every node under the observer named targetObserver, and callback
// runs once every reachable peer has answered (or the collection window
// elapses). It returns the request id, chiefly useful for tests.
func (o *Observer) Request(targetObserver, message string, callback Callback) int64 {
	o.mu.Lock()
	o.requestID++
	id := o.requestID
	o.outstanding[0][id] = &pending{responses: map[string]string{}, callback: callback}
	o.mu.Unlock()

	o.BroadcastTo(targetObserver, encodeRequest(id, message))
	return id
}

// Notify implements observer.Observer directly, rather than through
// Base.Dispatch's method table: a scatter-gather response payload is
// "destinationPeerID|requestID|result", not a "method|rest" frame.
func (o *Observer) Notify(peer observer.Link, source string, id int64, payload string) {
	defer o.rollover(time.Now().Unix())

	destination, requestID, result, err := decodeResponse(payload)
	if err != nil {
		log.WithError(err).Warn("dropping malformed scatter-gather response")
		return
	}
	if destination != o.SelfID() {
		return
	}

	o.mu.Lock()
	var (
		complete *pending
		dup      bool
	)
	for _, gen := range o.outstanding {
		p, ok := gen[requestID]
		if !ok {
			continue
		}
		if _, already := p.responses[source]; already {
			dup = true
			break
		}
		p.responses[source] = result

		if o.isComplete(p.responses) {
			delete(gen, requestID)
			complete = p
		}
		break
	}
	o.mu.Unlock()

	if dup {
		log.WithField("request", requestID).WithField("source", source).Debug("dropping duplicate response")
		return
	}
	if complete != nil {
		complete.callback(complete.responses, true)
	}
}

func (o *Observer) isComplete(responses map[string]string) bool {
	if o.reachable == nil {
		return false
	}
	want := o.reachable.Reachable()
	if len(responses) != len(want) {
		return false
	}
	for _, id := range want {
		if _, ok := responses[id]; !ok {
			return false
		}
	}
	return true
}

// PeerAdded, PeerRemoved: scatter-gather has no peer-lifecycle work of
// its own.
func (o *Observer) PeerAdded(observer.Link)   {}
func (o *Observer) PeerRemoved(observer.Link) {}

// Tick drives the timeout rollover.
func (o *Observer) Tick(now int64) {
	o.rollover(now)
}

func (o *Observer) rollover(now int64) {
	o.mu.Lock()
	if o.lastRotation == 0 {
		o.lastRotation = now
	}
	due := now-o.lastRotation >= o.expiry
	var timedOut []*pending
	if due {
		for _, p := range o.outstanding[1] {
			timedOut = append(timedOut, p)
		}
		o.outstanding = [2]map[int64]*pending{{}, o.outstanding[0]}
		o.lastRotation = now
	}
	o.mu.Unlock()

	for _, p := range timedOut {
		log.WithField("responses", len(p.responses)).Debug("timing out incomplete scatter-gather request")
		p.callback(p.responses, false)
	}
}

// Responder is the capability a destination-side observer needs in
// order to answer a scatter-gather request; observer.Base satisfies it.
type Responder interface {
	BroadcastTo(targetName, payload string)
}

// Respond answers a scatter-gather request addressed to destinationPeerID
// under requestID with result. Destination-side observers (who, auth)
// call this from their own Notify once they've computed their answer.
func Respond(b Responder, destinationPeerID string, requestID int64, result string) {
	b.BroadcastTo(Name, encodeResponse(destinationPeerID, requestID, result))
}

// ParseRequest splits an inbound scatter-gather request payload (as
// delivered to a destination observer's Notify) into the request id and
// the caller's message.
func ParseRequest(payload string) (requestID int64, message string, err error) {
	idStr, rest, found := strings.Cut(payload, "|")
	if !found {
		return 0, "", fmt.Errorf("scatter: malformed request %q", payload)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("scatter: malformed request id in %q: %w", payload, err)
	}
	return id, rest, nil
}

func encodeRequest(id int64, message string) string {
	return strconv.FormatInt(id, 10) + "|" + message
}

func decodeResponse(payload string) (destination string, requestID int64, result string, err error) {
	parts := strings.SplitN(payload, "|", 3)
	if len(parts) != 3 {
		return "", 0, "", fmt.Errorf("scatter: malformed response %q", payload)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, "", fmt.Errorf("scatter: malformed response id in %q: %w", payload, err)
	}
	return parts[0], id, parts[2], nil
}

func encodeResponse(destinationPeerID string, requestID int64, result string) string {
	return destinationPeerID + "|" + strconv.FormatInt(requestID, 10) + "|" + result
}
