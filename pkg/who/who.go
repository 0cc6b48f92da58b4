// Package who answers "who is online, network-wide" by running a
// scatter-gather request across every reachable node and formatting the
// collated per-node speaker lists.
//
// Grounded directly on the original source's talker.distributed
// WhoObserver.
package who

import (
	"sort"
	"strings"

	logger "github.com/sirupsen/logrus"

	"github.com/jan-g/talker/pkg/observer"
	"github.com/jan-g/talker/pkg/scatter"
)

var log = logger.WithFields(logger.Fields{"process": "who"})

// Name is this observer's registration name on the Mesh.
const Name = "Who"

// Directory lists the names of locally connected, logged-in speakers.
type Directory interface {
	SpeakerNames() []string
}

// Result is the collated answer to one /who request: online speaker
// names for every peer id that answered, and whether every currently
// reachable peer answered before the collection window closed.
type Result struct {
	BySpeaker map[string][]string
	Complete  bool
}

// ResultFunc is run once a /who request's responses are in (or its
// collection window has timed out).
type ResultFunc func(Result)

// Observer is both the destination side (answering other nodes'
// requests about our local speakers) and the origin side (issuing our
// own requests) of /who.
type Observer struct {
	observer.Base
	directory Directory
	gather    *scatter.Observer
}

// New creates a who Observer. gather is the Mesh's scatter-gather
// observer, used both to originate requests and to answer them.
func New(mesh observer.Broadcaster, directory Directory, gather *scatter.Observer) *Observer {
	o := &Observer{directory: directory, gather: gather}
	o.Base = observer.NewBase(Name, mesh)
	return o
}

// Notify implements observer.Observer. Unlike most observers, a /who
// request payload has no method tag of its own -- it is entirely
// scatter-gather request framing -- so this overrides Notify directly
// rather than going through Base.Dispatch's method table.
func (o *Observer) Notify(peer observer.Link, source string, id int64, payload string) {
	requestID, _, err := scatter.ParseRequest(payload)
	if err != nil {
		log.WithError(err).Warn("dropping malformed who request")
		return
	}

	names := o.directory.SpeakerNames()
	sort.Strings(names)
	scatter.Respond(&o.Base, source, requestID, strings.Join(names, ";"))
}

// Who issues a network-wide /who request and calls result once every
// reachable peer has answered or the collection window elapses.
func (o *Observer) Who(result ResultFunc) {
	o.gather.Request(Name, "", func(responses map[string]string, complete bool) {
		bySpeaker := make(map[string][]string, len(responses))
		for server, names := range responses {
			if names == "" {
				bySpeaker[server] = nil
			} else {
				bySpeaker[server] = strings.Split(names, ";")
			}
		}
		result(Result{BySpeaker: bySpeaker, Complete: complete})
	})
}

// PeerAdded, PeerRemoved, Tick: who has no peer-lifecycle or periodic
// work of its own; scatter.Observer owns the timeout rollover.
func (o *Observer) PeerAdded(observer.Link)   {}
func (o *Observer) PeerRemoved(observer.Link) {}
func (o *Observer) Tick(int64)                {}
